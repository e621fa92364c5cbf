// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/posterior/loom/lib/row"
)

// mockModel is the part of the inference config the mock reads:
//
//	schema: [bool, count, real]
//	seed: 7
//
// Other keys are ignored, so a real inference config with a schema
// section added works unchanged.
type mockModel struct {
	Schema []string `yaml:"schema"`
	Seed   uint64   `yaml:"seed"`
}

func loadMockModel(path string) (*mockModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var mock mockModel
	if err := yaml.Unmarshal(data, &mock); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &mock, nil
}

func (m *mockModel) schema() (row.Schema, error) {
	if len(m.Schema) == 0 {
		return nil, errors.New("no schema: set schema in the inference config or pass --schema")
	}
	kinds := make([]row.Kind, len(m.Schema))
	for i, name := range m.Schema {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "bool":
			kinds[i] = row.KindBool
		case "count":
			kinds[i] = row.KindCount
		case "real":
			kinds[i] = row.KindReal
		default:
			return nil, fmt.Errorf("feature %d: unknown kind %q", i, name)
		}
	}
	return row.NewSchema(kinds...)
}

func parseKinds(list string) ([]string, error) {
	var kinds []string
	for name := range strings.SplitSeq(list, ",") {
		if name = strings.TrimSpace(name); name == "" {
			return nil, fmt.Errorf("empty kind in --schema %q", list)
		}
		kinds = append(kinds, name)
	}
	return kinds, nil
}
