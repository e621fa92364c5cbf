// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source so that timeouts in
// the transport can be tested without sleeping.
//
// Production code holds a Clock and calls it instead of time.Now or
// time.After. Real() wraps the standard library; Fake() returns a clock
// that moves only when the test calls Advance:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go transport.Close()
//	fake.WaitForTimers(1)           // Close registered its grace timer
//	fake.Advance(10 * time.Second)  // the grace period expires now
package clock
