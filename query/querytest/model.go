// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package querytest

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/posterior/loom/lib/row"
)

// Feature holds the parameters of one independent feature. Only the
// fields for the feature's kind are meaningful.
type Feature struct {
	Kind row.Kind

	// Probability is P(true) for a boolean feature.
	Probability float64

	// Rate is the Poisson rate of a count feature.
	Rate float64

	// Mean and StdDev parameterize a real feature.
	Mean   float64
	StdDev float64
}

// Model is a product of independent per-feature distributions plus a
// table of stored rows used to answer score derivative queries.
type Model struct {
	schema   row.Schema
	features []Feature
	rows     []row.Row
}

// NewModel derives feature parameters for schema deterministically
// from seed.
func NewModel(schema row.Schema, seed uint64) *Model {
	random := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	features := make([]Feature, len(schema))
	for i, kind := range schema {
		feature := Feature{Kind: kind}
		switch kind {
		case row.KindBool:
			feature.Probability = 0.2 + 0.6*random.Float64()
		case row.KindCount:
			feature.Rate = 1 + 4*random.Float64()
		case row.KindReal:
			feature.Mean = 10*random.Float64() - 5
			feature.StdDev = 0.5 + 2*random.Float64()
		}
		features[i] = feature
	}
	return &Model{schema: schema, features: features}
}

// NewModelWithFeatures builds a model from explicit parameters.
func NewModelWithFeatures(features ...Feature) (*Model, error) {
	kinds := make([]row.Kind, len(features))
	for i, feature := range features {
		kinds[i] = feature.Kind
	}
	schema, err := row.NewSchema(kinds...)
	if err != nil {
		return nil, err
	}
	return &Model{schema: schema, features: append([]Feature(nil), features...)}, nil
}

// Schema returns the model's schema.
func (m *Model) Schema() row.Schema { return m.schema }

// Feature returns the parameters of feature i.
func (m *Model) Feature(i int) Feature { return m.features[i] }

// AddRows stores rows for score derivative queries. A row's ID is its
// position in insertion order, starting at zero.
func (m *Model) AddRows(rows ...row.Row) error {
	for i, r := range rows {
		if _, err := m.schema.Encode(r); err != nil {
			return fmt.Errorf("stored row %d: %w", len(m.rows)+i, err)
		}
	}
	for _, r := range rows {
		m.rows = append(m.rows, r.Clone())
	}
	return nil
}

// LogProbability returns the log probability of the observed values of
// r. An all-unobserved row has log probability zero.
func (m *Model) LogProbability(r row.Row) (float64, error) {
	if len(r) != len(m.features) {
		return 0, fmt.Errorf("%w: row has %d values, model has %d features",
			row.ErrEncoding, len(r), len(m.features))
	}
	total := 0.0
	for i, value := range r {
		if !value.Observed() {
			continue
		}
		logProbability, err := m.featureLogProbability(i, value)
		if err != nil {
			return 0, err
		}
		total += logProbability
	}
	return total, nil
}

func (m *Model) featureLogProbability(i int, value row.Value) (float64, error) {
	feature := m.features[i]
	if value.Kind() != feature.Kind {
		return 0, fmt.Errorf("%w: feature %d holds a %s value, model declares %s",
			row.ErrEncoding, i, value.Kind(), feature.Kind)
	}
	switch feature.Kind {
	case row.KindBool:
		observed, _ := value.Bool()
		if observed {
			return math.Log(feature.Probability), nil
		}
		return math.Log1p(-feature.Probability), nil

	case row.KindCount:
		count, _ := value.Count()
		if count < 0 {
			return 0, fmt.Errorf("feature %d: count %d is negative", i, count)
		}
		k := float64(count)
		logFactorial, _ := math.Lgamma(k + 1)
		return k*math.Log(feature.Rate) - feature.Rate - logFactorial, nil

	case row.KindReal:
		number, _ := value.Real()
		z := (number - feature.Mean) / feature.StdDev
		return -0.5*z*z - math.Log(feature.StdDev) - 0.5*math.Log(2*math.Pi), nil
	}
	return 0, errors.New("unreachable feature kind")
}

// draw samples feature i from its marginal.
func (m *Model) draw(random *rand.Rand, i int) row.Value {
	feature := m.features[i]
	switch feature.Kind {
	case row.KindBool:
		return row.Bool(random.Float64() < feature.Probability)
	case row.KindCount:
		return row.Count(poisson(random, feature.Rate))
	default:
		return row.Real(feature.Mean + feature.StdDev*random.NormFloat64())
	}
}

// poisson draws from Poisson(rate) by multiplying uniforms until the
// product drops below exp(-rate). Rates here are small.
func poisson(random *rand.Rand, rate float64) int64 {
	limit := math.Exp(-rate)
	var count int64
	product := random.Float64()
	for product > limit {
		count++
		product *= random.Float64()
	}
	return count
}
