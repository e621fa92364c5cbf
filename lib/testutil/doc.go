// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for loom packages.
//
// [RequireReceive] wraps the select-with-timeout pattern so a test that
// would otherwise hang on a stuck transport or session fails with a
// message instead. It calls t.Fatalf on failure.
package testutil
