// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package querytest provides an in-process query server for tests and
// local development. It speaks the same framed CBOR protocol as the
// native server, backed by a [Model] in which every feature is
// independent: Bernoulli booleans, Poisson counts, Gaussian reals.
//
// Independence makes every answer checkable in closed form. The score
// of a row is the sum of its observed features' log probabilities, so
// an all-unobserved row scores exactly zero. Entropy estimates draw one
// set of Monte Carlo samples per request and evaluate every feature set
// against those same samples, so H(A)+H(B)-H(A∪B) for disjoint A and B
// is zero up to rounding.
//
// Connect a [Server] to a session with a pair of io.Pipe, or run it
// behind real pipes in a child process (see cmd/loom-query-mock).
package querytest
