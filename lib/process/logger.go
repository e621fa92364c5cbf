// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"io"
	"log/slog"
	"os"
)

// DebugVariable enables debug-level logging when set to any non-empty
// value.
const DebugVariable = "LOOM_DEBUG"

// NewLogger returns a text logger writing to w at Info level, or Debug
// level when LOOM_DEBUG is set.
func NewLogger(w io.Writer) *slog.Logger {
	logLevel := slog.LevelInfo
	if os.Getenv(DebugVariable) != "" {
		logLevel = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	}))
}
