// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package query

import (
	"log/slog"

	"github.com/posterior/loom/lib/clock"
)

// Recorder receives a copy of every message a session exchanges.
// *protocol.StreamWriter satisfies it.
type Recorder interface {
	Write(message any) error
}

// Option configures a Session.
type Option func(*options)

type options struct {
	logger      *slog.Logger
	clock       clock.Clock
	hook        Hook
	requests    Recorder
	responses   Recorder
	bufferDepth int
	sampleCount int
}

func defaultOptions() options {
	return options{
		logger:      slog.New(slog.DiscardHandler),
		clock:       clock.Real(),
		bufferDepth: 32,
		sampleCount: 1000,
	}
}

// WithLogger sets the session's logger. The default discards.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock sets the clock used for round-trip timing and, in Open,
// for the server shutdown grace periods.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithHook installs a round-trip hook.
func WithHook(hook Hook) Option {
	return func(o *options) { o.hook = hook }
}

// WithTranscript records every request to requests and every response
// to responses. Either may be nil.
func WithTranscript(requests, responses Recorder) Option {
	return func(o *options) {
		o.requests = requests
		o.responses = responses
	}
}

// WithBufferDepth sets the pipeline depth Similar uses. Values below
// one are ignored.
func WithBufferDepth(depth int) Option {
	return func(o *options) {
		if depth >= 1 {
			o.bufferDepth = depth
		}
	}
}

// WithSampleCount sets the Monte Carlo sample count Entropy and
// MutualInformation use when called with a sample count of zero.
// Values below one are ignored.
func WithSampleCount(count int) Option {
	return func(o *options) {
		if count >= 1 {
			o.sampleCount = count
		}
	}
}
