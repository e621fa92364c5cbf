// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/posterior/loom/lib/protocol"
	"github.com/posterior/loom/lib/row"
	"github.com/posterior/loom/query/querytest"
)

func writeFile(t *testing.T, path, contents string) string {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestMockModel_Schema(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeFile(t, filepath.Join(dir, "inference.yaml"), "schema: [bool, Count, real]\nseed: 9\nunrelated: true\n")

	mock, err := loadMockModel(path)
	if err != nil {
		t.Fatalf("loadMockModel: %v", err)
	}
	if mock.Seed != 9 {
		t.Errorf("seed = %d, want 9", mock.Seed)
	}
	schema, err := mock.schema()
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	want := row.Schema{row.KindBool, row.KindCount, row.KindReal}
	if len(schema) != len(want) {
		t.Fatalf("got %v, want %v", schema, want)
	}
	for i := range want {
		if schema[i] != want[i] {
			t.Errorf("feature %d: got %v, want %v", i, schema[i], want[i])
		}
	}
}

func TestMockModel_Errors(t *testing.T) {
	t.Parallel()

	if _, err := (&mockModel{}).schema(); err == nil {
		t.Error("expected an error for a missing schema")
	}
	if _, err := (&mockModel{Schema: []string{"bool", "text"}}).schema(); err == nil {
		t.Error("expected an error for an unknown kind")
	}
	if _, err := parseKinds("bool,,real"); err == nil {
		t.Error("expected an error for an empty kind")
	}
}

func TestRun_RejectsWrongArgumentCount(t *testing.T) {
	t.Parallel()

	if err := run([]string{"inference.yaml", "model"}); err == nil {
		t.Error("expected an error for two arguments")
	}
}

func TestRun_MissingModelFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	inference := writeFile(t, filepath.Join(dir, "inference.yaml"), "schema: [bool]\n")
	groups := writeFile(t, filepath.Join(dir, "groups"), "")

	err := run([]string{inference, filepath.Join(dir, "absent"), groups, "-", "-"})
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("got %v, want os.ErrNotExist", err)
	}
}

func TestRun_AnswersQueryFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	inference := writeFile(t, filepath.Join(dir, "inference.yaml"), "schema: [bool]\nseed: 3\n")
	model := writeFile(t, filepath.Join(dir, "model.pb"), "")
	groups := writeFile(t, filepath.Join(dir, "groups"), "")
	queries := filepath.Join(dir, "queries.lz4")
	results := filepath.Join(dir, "results.zst")

	schema := row.Schema{row.KindBool}
	data, err := schema.EncodeSparse(row.Row{row.Bool(true)})
	if err != nil {
		t.Fatal(err)
	}
	stream, err := protocol.CreateStream(queries)
	if err != nil {
		t.Fatal(err)
	}
	requests := []*protocol.Request{
		{ID: "a", Score: &protocol.ScoreRequest{Data: data}},
		{ID: "b", MutualInformation: &protocol.MutualInformationRequest{}},
	}
	for _, request := range requests {
		if err := stream.Write(request); err != nil {
			t.Fatal(err)
		}
	}
	if err := stream.Close(); err != nil {
		t.Fatal(err)
	}

	// --schema and --seed take precedence over the inference config.
	if err := run([]string{"--schema", "bool", "--seed", "3", inference, model, groups, queries, results}); err != nil {
		t.Fatalf("run: %v", err)
	}

	answers, err := protocol.OpenStream(results)
	if err != nil {
		t.Fatal(err)
	}
	defer answers.Close()

	score, err := answers.ReadResponse()
	if err != nil {
		t.Fatalf("reading first response: %v", err)
	}
	want, _ := querytest.NewModel(schema, 3).LogProbability(row.Row{row.Bool(true)})
	if score.ID != "a" || score.Score == nil || score.Score.Score != want {
		t.Errorf("got %+v, want score %v for request a", score, want)
	}

	unsupported, err := answers.ReadResponse()
	if err != nil {
		t.Fatalf("reading second response: %v", err)
	}
	if unsupported.ID != "b" || len(unsupported.Error) == 0 {
		t.Errorf("got %+v, want an error response for request b", unsupported)
	}

	if _, err := answers.ReadResponse(); !errors.Is(err, io.EOF) {
		t.Errorf("results continue past two responses: %v", err)
	}
}
