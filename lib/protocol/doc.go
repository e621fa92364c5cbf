// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package protocol defines the wire messages exchanged with the native
// loom query server and the framing that carries them.
//
// The server reads a stream of [Request] messages and writes one
// [Response] per request, strictly in request order. Every message is
// a CBOR map (see lib/codec) wrapped in a frame:
//
//	[4 bytes payload length, little-endian uint32] [payload]
//
// The framing is identical in both directions. A frame is never
// interpreted until its full payload has arrived.
//
// Rows travel as [WireRow]: an observed [Mask] plus three
// type-partitioned value arrays (booleans, counts, reals). Converting
// between logical rows and WireRow is the job of lib/row; this package
// only describes the shapes.
//
// [CreateStream] and [OpenStream] read and write files of framed
// messages, optionally compressed, matching the server's file mode
// (queries read from a file, results written to a file) and the
// session's transcript recording.
package protocol
