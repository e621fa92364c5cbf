// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for Loom query sessions.
//
// Configuration is loaded from a single file specified by either the
// LOOM_QUERY_CONFIG environment variable (via [Load]) or an explicit
// path (via [LoadFile]). There is no discovery and no search path.
// Files ending in .json or .jsonc are parsed as JSON with comments and
// trailing commas; every other extension is parsed as YAML.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${LOOM_ROOT}, and ${VAR:-default} patterns are expanded.
// LOOM_ROOT defaults to the directory containing the configuration
// file, so relative model paths can be written portably.
//
// Key exports:
//
//   - [Config] -- master struct with Server and Session sections
//   - [Default] -- returns a Config with defaults for every optional field
//   - [Load] and [LoadFile] -- the two entry points for loading
//   - [ServerConfig.ModelDigest] -- BLAKE3 digest of the model file
//
// This package depends on no other Loom packages.
package config
