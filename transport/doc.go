// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport carries framed query messages to and from a query
// server running as a child process.
//
// A [Transport] owns two goroutines. The writer drains a bounded queue
// of encoded requests into the server's standard input; the reader
// decodes every frame the server writes to standard output into an
// unbounded response queue. [Transport.Send] therefore never waits on
// responses the caller has not collected yet, and a server blocked
// writing output can always make progress.
//
// [Spawn] checks that the server's input files exist, starts the
// server in its own process group, and wraps its pipes. [New] wraps
// any writer/reader pair, which is how tests drive an in-process
// server over io.Pipe.
//
// [Transport.Close] closes the server's input, waits up to
// Options.CloseTimeout for the server to finish its output, then sends
// SIGTERM and, if that is ignored, SIGKILL to the process group before
// reaping it. Close is idempotent. Once closed, Send and Receive fail
// with [ErrTransportClosed]; so does a Receive pending when the server
// exits or its output ends, including in the middle of a frame.
package transport
