// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Loom-query-mock is a drop-in replacement for the native query server
// in tests and local development. It accepts the server's command line
// exactly:
//
//	loom-query-mock [flags] INFERENCE_CONFIG MODEL GROUPS QUERIES RESULTS
//
// and answers queries from a synthetic model with independent features
// instead of a trained one. The model's schema and seed are read from
// INFERENCE_CONFIG as YAML (see mockModel); --schema and --seed
// override them. MODEL and GROUPS must exist but are not read.
//
// QUERIES and RESULTS are "-" for an interactive session over stdin and
// stdout. Any other paths run in batch mode: every request in QUERIES
// is answered into RESULTS, compressed according to the file
// extension.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/posterior/loom/lib/process"
	"github.com/posterior/loom/lib/protocol"
	"github.com/posterior/loom/lib/version"
	"github.com/posterior/loom/query/querytest"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

func run(args []string) error {
	var (
		schemaFlag  string
		seed        uint64
		showVersion bool
	)
	flagSet := pflag.NewFlagSet("loom-query-mock", pflag.ContinueOnError)
	flagSet.StringVar(&schemaFlag, "schema", "", "comma-separated feature kinds (bool, count, real); overrides the inference config")
	flagSet.Uint64Var(&seed, "seed", 0, "model and sampling seed; overrides the inference config")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	if showVersion {
		version.Print("loom-query-mock")
		return nil
	}

	positional := flagSet.Args()
	if len(positional) != 5 {
		return fmt.Errorf("expected 5 arguments (INFERENCE_CONFIG MODEL GROUPS QUERIES RESULTS), got %d", len(positional))
	}
	inferenceConfig, model, groups, queries, results := positional[0], positional[1], positional[2], positional[3], positional[4]

	for _, path := range []string{model, groups} {
		if _, err := os.Stat(path); err != nil {
			return err
		}
	}

	mock, err := loadMockModel(inferenceConfig)
	if err != nil {
		return err
	}
	if schemaFlag != "" {
		if mock.Schema, err = parseKinds(schemaFlag); err != nil {
			return err
		}
	}
	if flagSet.Changed("seed") {
		mock.Seed = seed
	}
	schema, err := mock.schema()
	if err != nil {
		return fmt.Errorf("%s: %w", inferenceConfig, err)
	}

	logger := process.NewLogger(os.Stderr).With("binary", "loom-query-mock")
	server := querytest.NewServer(querytest.NewModel(schema, mock.Seed), mock.Seed)
	server.Logger = logger

	logger.Info("query mock started",
		"features", schema.FeatureCount(),
		"seed", mock.Seed,
		"queries", queries,
		"results", results,
	)

	if queries == protocol.StdioPath && results == protocol.StdioPath {
		return server.Serve(os.Stdin, os.Stdout)
	}
	return answerFile(server, logger, queries, results)
}

// answerFile answers every request in the queries stream into the
// results stream.
func answerFile(server *querytest.Server, logger *slog.Logger, queries, results string) (err error) {
	in, err := protocol.OpenStream(queries)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := protocol.CreateStream(results)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	answered := 0
	for {
		request, err := in.ReadRequest()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("reading request %d from %s: %w", answered+1, queries, err)
		}
		if err := out.Write(server.Handle(request)); err != nil {
			return err
		}
		answered++
	}
	logger.Info("batch answered", "requests", answered)
	return nil
}
