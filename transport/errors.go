// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import "errors"

var (
	// ErrTransportClosed is returned by Send and Receive after Close,
	// and by Receive once the server's output has ended. Errors from a
	// failed pipe wrap it along with the underlying cause.
	ErrTransportClosed = errors.New("transport: closed")

	// ErrFileNotFound is returned by Spawn, before any process is
	// started, when the server binary or one of its input files does
	// not exist. Errors from a missing file also match fs.ErrNotExist.
	ErrFileNotFound = errors.New("transport: file not found")
)
