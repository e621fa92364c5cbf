// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package query is the client side of the Loom query protocol. A
// [Session] owns one query server process and turns typed questions
// about a trained model into framed requests:
//
//   - [Session.Sample] draws rows from the posterior predictive,
//     conditioned on a partial row.
//   - [Session.Score] and [Session.BatchScore] compute log
//     probabilities. BatchScore pipelines up to a bounded number of
//     requests and yields scores in input order.
//   - [Session.Entropy] estimates the entropy of several feature sets
//     in one request; [Session.MutualInformation] derives I(A;B) as
//     H(A)+H(B)-H(A∪B) from the same three estimates.
//   - [Session.ScoreDerivative] and [Session.Similar] rank stored rows
//     by their similarity to given rows.
//
// The server answers strictly in request order. The session keeps a
// FIFO of outstanding request IDs and treats a response that names a
// different request, or carries the wrong number of results, as
// [ErrProtocolViolation]. Server-reported failures surface as
// *protocol.ServerError. Nothing is retried.
//
// A Session is used from one goroutine. [Session.Close] may be called
// from another to abandon a blocked call; it never waits on the
// server's answers.
package query
