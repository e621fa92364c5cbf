// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrFrameTooLarge is returned when a frame header announces, or a
	// caller tries to write, a payload larger than MaxFrameLength.
	ErrFrameTooLarge = errors.New("protocol: frame payload too large")

	// ErrTruncated is returned when the stream ends inside a frame.
	ErrTruncated = errors.New("protocol: truncated frame")

	// ErrMalformedMessage is returned for a decoded message that
	// violates the schema (no payload, several payloads).
	ErrMalformedMessage = errors.New("protocol: malformed message")
)

// ErrServer matches any *ServerError with errors.Is.
var ErrServer = &ServerError{}

// ServerError is a response that carried one or more error strings.
// The strings are reported verbatim, joined.
type ServerError struct {
	RequestID string
	Messages  []string
}

func (e *ServerError) Error() string {
	detail := strings.Join(e.Messages, "; ")
	if e.RequestID == "" {
		return "server error: " + detail
	}
	return fmt.Sprintf("server error on request %s: %s", e.RequestID, detail)
}

// Is supports errors.Is by matching any *ServerError target.
func (e *ServerError) Is(target error) bool {
	_, ok := target.(*ServerError)
	return ok
}
