// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package query

import (
	"errors"
	"fmt"

	"github.com/posterior/loom/transport"
)

var (
	// ErrClosed is returned by every operation on a closed session. It
	// matches transport.ErrTransportClosed.
	ErrClosed = fmt.Errorf("query: session closed: %w", transport.ErrTransportClosed)

	// ErrProtocolViolation is returned when a response does not fit the
	// request it answers: a foreign request ID, a missing payload, or
	// the wrong number of results.
	ErrProtocolViolation = errors.New("query: protocol violation")
)
