// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers for Loom
// binaries: the stderr logger every main builds before doing anything
// else, and fatal error reporting for errors returned from run() when
// that logger may not exist yet.
package process
