// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the variable [Load] reads the
// configuration path from.
const EnvironmentVariable = "LOOM_QUERY_CONFIG"

// StdioPath is the queries/results value that selects the server's
// standard input and output instead of a file.
const StdioPath = "-"

// Config is the master configuration for a query session.
type Config struct {
	// Root is the directory ${LOOM_ROOT} expands to. Defaults to the
	// directory containing the configuration file.
	Root string `yaml:"root"`

	// Server describes how to launch the native query server.
	Server ServerConfig `yaml:"server"`

	// Session tunes the client side of the query protocol.
	Session SessionConfig `yaml:"session"`
}

// ServerConfig describes the query server process.
type ServerConfig struct {
	// Binary is the release server executable, resolved through PATH
	// when it contains no separator.
	// Default: loom-query-server
	Binary string `yaml:"binary"`

	// DebugBinary is the executable used when Debug is set.
	// Default: loom-query-server-debug
	DebugBinary string `yaml:"debug_binary"`

	// Debug selects DebugBinary over Binary.
	Debug bool `yaml:"debug"`

	// InferenceConfig is the server's inference configuration file.
	InferenceConfig string `yaml:"inference_config"`

	// Model is the trained model file.
	Model string `yaml:"model"`

	// Groups is the directory of row groups the model was trained on.
	Groups string `yaml:"groups"`

	// Queries is where the server reads requests from. "-" is stdin,
	// which is the only mode a session can drive.
	// Default: -
	Queries string `yaml:"queries"`

	// Results is where the server writes responses to. "-" is stdout.
	// Default: -
	Results string `yaml:"results"`
}

// SessionConfig tunes a query session.
type SessionConfig struct {
	// BufferDepth bounds the number of pipelined requests in flight.
	// Default: 32
	BufferDepth int `yaml:"buffer_depth"`

	// SampleCount is the default Monte Carlo sample count for entropy
	// and mutual information estimates.
	// Default: 1000
	SampleCount int `yaml:"sample_count"`

	// CloseTimeout is how long Close waits for the server to exit on
	// its own after stdin is closed, as a Go duration string.
	// Default: 10s
	CloseTimeout string `yaml:"close_timeout"`

	// Transcript optionally records the exchanged messages.
	Transcript TranscriptConfig `yaml:"transcript"`
}

// TranscriptConfig names files that receive a copy of every request
// and response. Compression follows the file extension (.gz, .zst,
// .lz4). Empty paths disable recording.
type TranscriptConfig struct {
	Requests  string `yaml:"requests"`
	Responses string `yaml:"responses"`
}

// Default returns the default configuration. The server file paths
// have no defaults; a configuration file must name them.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Binary:      "loom-query-server",
			DebugBinary: "loom-query-server-debug",
			Queries:     StdioPath,
			Results:     StdioPath,
		},
		Session: SessionConfig{
			BufferDepth:  32,
			SampleCount:  1000,
			CloseTimeout: "10s",
		},
	}
}

// Load loads configuration from the LOOM_QUERY_CONFIG environment
// variable. There are no fallbacks: if the variable is not set, this
// fails.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of a query configuration file", EnvironmentVariable)
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, applying it
// over [Default] and expanding path variables. The result is not
// validated; call [Config.Validate] before use.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := Default()
	if err := cfg.parse(path, data); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.Root == "" {
		absolute, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolving config path %s: %w", path, err)
		}
		cfg.Root = filepath.Dir(absolute)
	}
	cfg.expandVariables()

	return cfg, nil
}

// parse decodes data into c. JSON is a subset of YAML, so stripped
// JSONC goes through the same decoder and the same struct tags.
func (c *Config) parse(path string, data []byte) error {
	extension := strings.ToLower(filepath.Ext(path))
	if extension == ".json" || extension == ".jsonc" {
		data = jsonc.ToJSON(data)
	}
	return yaml.Unmarshal(data, c)
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"LOOM_ROOT": c.Root,
		"HOME":      os.Getenv("HOME"),
	}

	c.Root = expandVars(c.Root, vars)
	vars["LOOM_ROOT"] = c.Root

	c.Server.Binary = expandVars(c.Server.Binary, vars)
	c.Server.DebugBinary = expandVars(c.Server.DebugBinary, vars)
	c.Server.InferenceConfig = expandVars(c.Server.InferenceConfig, vars)
	c.Server.Model = expandVars(c.Server.Model, vars)
	c.Server.Groups = expandVars(c.Server.Groups, vars)
	c.Server.Queries = expandVars(c.Server.Queries, vars)
	c.Server.Results = expandVars(c.Server.Results, vars)
	c.Session.Transcript.Requests = expandVars(c.Session.Transcript.Requests, vars)
	c.Session.Transcript.Responses = expandVars(c.Session.Transcript.Responses, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns. Provided vars
// take precedence over the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.ServerBinary() == "" {
		if c.Server.Debug {
			errs = append(errs, errors.New("server.debug_binary is required when server.debug is set"))
		} else {
			errs = append(errs, errors.New("server.binary is required"))
		}
	}
	if c.Server.InferenceConfig == "" {
		errs = append(errs, errors.New("server.inference_config is required"))
	}
	if c.Server.Model == "" {
		errs = append(errs, errors.New("server.model is required"))
	}
	if c.Server.Groups == "" {
		errs = append(errs, errors.New("server.groups is required"))
	}
	if c.Server.Queries != StdioPath || c.Server.Results != StdioPath {
		errs = append(errs, fmt.Errorf("server.queries and server.results must be %q for an interactive session", StdioPath))
	}

	if c.Session.BufferDepth < 1 {
		errs = append(errs, fmt.Errorf("session.buffer_depth must be at least 1, got %d", c.Session.BufferDepth))
	}
	if c.Session.SampleCount < 1 {
		errs = append(errs, fmt.Errorf("session.sample_count must be at least 1, got %d", c.Session.SampleCount))
	}
	if _, err := c.Session.CloseTimeoutDuration(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// ServerBinary returns the executable selected by Debug.
func (s *ServerConfig) ServerBinary() string {
	if s.Debug {
		return s.DebugBinary
	}
	return s.Binary
}

// Arguments returns the server's positional arguments in invocation
// order: inference config, model, groups, queries, results.
func (s *ServerConfig) Arguments() []string {
	return []string{s.InferenceConfig, s.Model, s.Groups, s.Queries, s.Results}
}

// Files returns the input files the server requires to exist before
// it is started.
func (s *ServerConfig) Files() []string {
	return []string{s.InferenceConfig, s.Model, s.Groups}
}

// ModelDigest returns the hex BLAKE3 digest of the model file, so a
// session's results can be tied to the exact model that produced them.
func (s *ServerConfig) ModelDigest() (string, error) {
	file, err := os.Open(s.Model)
	if err != nil {
		return "", fmt.Errorf("opening model %s: %w", s.Model, err)
	}
	defer file.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("hashing model %s: %w", s.Model, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// CloseTimeoutDuration parses CloseTimeout. An empty value means zero,
// which makes Close terminate the server without a grace period.
func (s *SessionConfig) CloseTimeoutDuration() (time.Duration, error) {
	if s.CloseTimeout == "" {
		return 0, nil
	}
	duration, err := time.ParseDuration(s.CloseTimeout)
	if err != nil {
		return 0, fmt.Errorf("session.close_timeout: %w", err)
	}
	if duration < 0 {
		return 0, fmt.Errorf("session.close_timeout must not be negative, got %s", s.CloseTimeout)
	}
	return duration, nil
}
