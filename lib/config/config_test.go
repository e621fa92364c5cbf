// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zeebo/blake3"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := Default()

	if cfg.Server.Binary != "loom-query-server" {
		t.Errorf("expected binary=loom-query-server, got %s", cfg.Server.Binary)
	}
	if cfg.Server.Queries != StdioPath || cfg.Server.Results != StdioPath {
		t.Errorf("expected stdio queries and results, got %q and %q", cfg.Server.Queries, cfg.Server.Results)
	}
	if cfg.Session.BufferDepth != 32 {
		t.Errorf("expected buffer_depth=32, got %d", cfg.Session.BufferDepth)
	}
	if cfg.Session.SampleCount != 1000 {
		t.Errorf("expected sample_count=1000, got %d", cfg.Session.SampleCount)
	}

	// Defaults alone are incomplete: the server files must be named.
	if err := cfg.Validate(); err == nil {
		t.Error("expected Validate to reject a config with no model")
	}
}

func TestLoad_RequiresEnvironmentVariable(t *testing.T) {
	t.Setenv(EnvironmentVariable, "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when LOOM_QUERY_CONFIG is not set")
	}
	if !strings.Contains(err.Error(), EnvironmentVariable) {
		t.Errorf("error should name %s, got: %v", EnvironmentVariable, err)
	}
}

func TestLoad_WithEnvironmentVariable(t *testing.T) {
	configPath := writeConfig(t, "query.yaml", `
server:
  model: /models/census.pb.gz
`)
	t.Setenv(EnvironmentVariable, configPath)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Server.Model != "/models/census.pb.gz" {
		t.Errorf("expected model=/models/census.pb.gz, got %s", cfg.Server.Model)
	}
}

func TestLoadFile_YAML(t *testing.T) {
	t.Parallel()

	configPath := writeConfig(t, "query.yaml", `
server:
  binary: /opt/loom/bin/query-server
  debug_binary: /opt/loom/bin/query-server-debug
  debug: true
  inference_config: /data/config.pb.gz
  model: /data/model.pb.gz
  groups: /data/groups

session:
  buffer_depth: 8
  sample_count: 250
  close_timeout: 2s
  transcript:
    requests: /tmp/requests.zst
    responses: /tmp/responses.zst
`)

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Server.ServerBinary() != "/opt/loom/bin/query-server-debug" {
		t.Errorf("expected the debug binary to be selected, got %s", cfg.Server.ServerBinary())
	}
	if cfg.Server.Groups != "/data/groups" {
		t.Errorf("expected groups=/data/groups, got %s", cfg.Server.Groups)
	}
	if cfg.Server.Queries != StdioPath {
		t.Errorf("expected queries default to survive, got %q", cfg.Server.Queries)
	}
	if cfg.Session.BufferDepth != 8 {
		t.Errorf("expected buffer_depth=8, got %d", cfg.Session.BufferDepth)
	}
	if cfg.Session.SampleCount != 250 {
		t.Errorf("expected sample_count=250, got %d", cfg.Session.SampleCount)
	}
	if cfg.Session.Transcript.Responses != "/tmp/responses.zst" {
		t.Errorf("expected transcript.responses=/tmp/responses.zst, got %s", cfg.Session.Transcript.Responses)
	}

	timeout, err := cfg.Session.CloseTimeoutDuration()
	if err != nil {
		t.Fatalf("CloseTimeoutDuration: %v", err)
	}
	if timeout != 2*time.Second {
		t.Errorf("expected close_timeout=2s, got %v", timeout)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadFile_JSONC(t *testing.T) {
	t.Parallel()

	configPath := writeConfig(t, "query.jsonc", `{
  // Paths are relative to the config directory.
  "server": {
    "inference_config": "${LOOM_ROOT}/config.pb.gz",
    "model": "${LOOM_ROOT}/model.pb.gz",
    "groups": "${LOOM_ROOT}/groups", /* trailing comma below */
  },
  "session": {"buffer_depth": 4},
}`)

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	directory := filepath.Dir(configPath)
	if cfg.Root != directory {
		t.Errorf("expected root=%s, got %s", directory, cfg.Root)
	}
	if want := filepath.Join(directory, "model.pb.gz"); cfg.Server.Model != want {
		t.Errorf("expected model=%s, got %s", want, cfg.Server.Model)
	}
	if cfg.Session.BufferDepth != 4 {
		t.Errorf("expected buffer_depth=4, got %d", cfg.Session.BufferDepth)
	}
	if cfg.Session.SampleCount != 1000 {
		t.Errorf("expected sample_count default to survive, got %d", cfg.Session.SampleCount)
	}
}

func TestLoadFile_ExplicitRoot(t *testing.T) {
	t.Parallel()

	configPath := writeConfig(t, "query.yaml", `
root: /srv/loom
server:
  model: ${LOOM_ROOT}/model.pb.gz
`)

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Server.Model != "/srv/loom/model.pb.gz" {
		t.Errorf("expected model=/srv/loom/model.pb.gz, got %s", cfg.Server.Model)
	}
}

func TestLoadFile_Errors(t *testing.T) {
	t.Parallel()

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for a missing file")
	} else if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected a not-exist error, got %v", err)
	}

	configPath := writeConfig(t, "broken.yaml", "server: [unclosed")
	if _, err := LoadFile(configPath); err == nil {
		t.Error("expected error for malformed YAML")
	}
}

func TestExpandVars(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		vars     map[string]string
		expected string
	}{
		{
			input:    "${LOOM_ROOT}/model.pb.gz",
			vars:     map[string]string{"LOOM_ROOT": "/srv/loom"},
			expected: "/srv/loom/model.pb.gz",
		},
		{
			input:    "${LOOM_TEST_MISSING_VARIABLE:-fallback}",
			vars:     map[string]string{},
			expected: "fallback",
		},
		{
			input:    "${PRESENT:-fallback}",
			vars:     map[string]string{"PRESENT": "value"},
			expected: "value",
		},
		{
			input:    "${A}/${B}",
			vars:     map[string]string{"A": "first", "B": "second"},
			expected: "first/second",
		},
		{
			input:    "-",
			vars:     map[string]string{},
			expected: "-",
		},
	}

	for _, tt := range tests {
		result := expandVars(tt.input, tt.vars)
		if result != tt.expected {
			t.Errorf("expandVars(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func validConfig() *Config {
	cfg := Default()
	cfg.Server.InferenceConfig = "/data/config.pb.gz"
	cfg.Server.Model = "/data/model.pb.gz"
	cfg.Server.Groups = "/data/groups"
	return cfg
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "missing model",
			mutate:  func(c *Config) { c.Server.Model = "" },
			wantErr: "server.model is required",
		},
		{
			name:    "missing debug binary",
			mutate:  func(c *Config) { c.Server.Debug = true; c.Server.DebugBinary = "" },
			wantErr: "server.debug_binary is required",
		},
		{
			name:    "file mode queries",
			mutate:  func(c *Config) { c.Server.Queries = "/tmp/queries" },
			wantErr: "interactive session",
		},
		{
			name:    "zero buffer depth",
			mutate:  func(c *Config) { c.Session.BufferDepth = 0 },
			wantErr: "session.buffer_depth",
		},
		{
			name:    "zero sample count",
			mutate:  func(c *Config) { c.Session.SampleCount = 0 },
			wantErr: "session.sample_count",
		},
		{
			name:    "unparseable close timeout",
			mutate:  func(c *Config) { c.Session.CloseTimeout = "soon" },
			wantErr: "session.close_timeout",
		},
		{
			name:    "negative close timeout",
			mutate:  func(c *Config) { c.Session.CloseTimeout = "-1s" },
			wantErr: "must not be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Session.BufferDepth = 0
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, field := range []string{"inference_config", "server.model", "server.groups", "buffer_depth"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("error should mention %s, got: %v", field, err)
		}
	}
}

func TestArgumentsOrder(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	got := cfg.Server.Arguments()
	want := []string{"/data/config.pb.gz", "/data/model.pb.gz", "/data/groups", "-", "-"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("argument %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestModelDigest(t *testing.T) {
	t.Parallel()

	content := []byte("trained model bytes")
	modelPath := filepath.Join(t.TempDir(), "model.pb")
	if err := os.WriteFile(modelPath, content, 0644); err != nil {
		t.Fatal(err)
	}

	server := ServerConfig{Model: modelPath}
	digest, err := server.ModelDigest()
	if err != nil {
		t.Fatalf("ModelDigest: %v", err)
	}

	expected := blake3.Sum256(content)
	if digest != hex.EncodeToString(expected[:]) {
		t.Errorf("got %s, want %s", digest, hex.EncodeToString(expected[:]))
	}

	server.Model = filepath.Join(t.TempDir(), "absent.pb")
	if _, err := server.ModelDigest(); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected a not-exist error for a missing model, got %v", err)
	}
}
