// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package query

import "context"

// RoundTripInfo describes one request/response exchange.
type RoundTripInfo struct {
	// ID is the request ID the session assigned.
	ID string
	// Kind names the request payload: sample, score, entropy,
	// score_derivative.
	Kind string
	// InFlight is the number of requests already outstanding when this
	// one was sent.
	InFlight int
	// Pipelined is set for requests sent by BatchScore and Similar.
	Pipelined bool
}

// Hook observes round trips. OnRoundTripStart is called before a
// request is sent and OnRoundTripEnd once its response has been
// received and checked, or the exchange has failed. For pipelined
// requests several round trips overlap; ends arrive in start order.
type Hook interface {
	OnRoundTripStart(ctx context.Context, info RoundTripInfo) (context.Context, HookToken)
	OnRoundTripEnd(ctx context.Context, token HookToken, info RoundTripInfo, err error)
}

// HookToken is an opaque value returned by OnRoundTripStart and passed
// back to OnRoundTripEnd. Only meaningful to the Hook that created it.
type HookToken any
