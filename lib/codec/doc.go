// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the CBOR encoding configuration shared by
// every loom query message.
//
// Requests and responses exchanged with the native query server are
// CBOR maps carried inside length-prefixed frames (see lib/protocol).
// This package owns the encoder and decoder modes so that the client,
// the transcript writer, and the test server all produce identical
// bytes for the same logical message. The encoder uses Core
// Deterministic Encoding (RFC 8949 §4.2): sorted map keys, smallest
// integer encoding, no indefinite-length items.
//
// Every message is one frame payload, so the package is buffer
// oriented:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// # Struct Tag Rules
//
// Wire types carry `cbor` tags with snake_case keys matching the
// server's message schema. Optional oneof members are pointers tagged
// omitempty so that exactly one payload key appears in a message.
package codec
