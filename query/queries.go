// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package query

import (
	"context"
	"fmt"

	"github.com/posterior/loom/lib/protocol"
	"github.com/posterior/loom/lib/row"
)

// RowScore pairs a stored row's ID with a score.
type RowScore struct {
	RowID uint64
	Score float64
}

// Sample draws sampleCount rows from the posterior predictive
// conditioned on conditioning. Features with toSample[i] set are drawn
// by the server; every other position is copied from conditioning, so
// a feature the caller did not ask about keeps the caller's value (or
// stays unobserved).
func (s *Session) Sample(ctx context.Context, toSample []bool, conditioning row.Row, sampleCount int) ([]row.Row, error) {
	if len(toSample) != s.schema.FeatureCount() {
		return nil, fmt.Errorf("%w: to-sample mask has %d entries, schema has %d features",
			row.ErrEncoding, len(toSample), s.schema.FeatureCount())
	}
	if sampleCount < 1 {
		return nil, fmt.Errorf("sample count must be positive, got %d", sampleCount)
	}
	data, err := s.schema.Encode(conditioning)
	if err != nil {
		return nil, err
	}

	request := &protocol.Request{Sample: &protocol.SampleRequest{
		Data:        data,
		ToSample:    protocol.DenseMask(toSample),
		SampleCount: uint32(sampleCount),
	}}
	if err := s.send(ctx, request, false); err != nil {
		return nil, err
	}
	response, err := s.receive(ctx, func(response *protocol.Response) error {
		if response.Sample == nil {
			return violation("sample", "no sample payload")
		}
		if got := len(response.Sample.Samples); got != sampleCount {
			return violation("sample", "%d rows, requested %d", got, sampleCount)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	samples := make([]row.Row, sampleCount)
	for i, wire := range response.Sample.Samples {
		sampled, err := s.schema.Decode(wire)
		if err != nil {
			return nil, fmt.Errorf("decoding sample %d: %w", i, err)
		}
		for position, drawn := range toSample {
			if !drawn {
				sampled[position] = conditioning[position]
			}
		}
		samples[i] = sampled
	}
	return samples, nil
}

// Score returns the log probability of the observed values of r. A row
// with nothing observed scores zero.
func (s *Session) Score(ctx context.Context, r row.Row) (float64, error) {
	request, err := s.scoreRequest(r)
	if err != nil {
		return 0, err
	}
	if err := s.send(ctx, request, false); err != nil {
		return 0, err
	}
	response, err := s.receive(ctx, checkScore)
	if err != nil {
		return 0, err
	}
	return response.Score.Score, nil
}

func (s *Session) scoreRequest(r row.Row) (*protocol.Request, error) {
	data, err := s.schema.Encode(r)
	if err != nil {
		return nil, err
	}
	return &protocol.Request{Score: &protocol.ScoreRequest{Data: data}}, nil
}

func checkScore(response *protocol.Response) error {
	if response.Score == nil {
		return violation("score", "no score payload")
	}
	return nil
}

// Entropy estimates the entropy of each feature set conditioned on
// conditioning, in a single request. Sets are deduplicated; the result
// has one entry per distinct set. A sampleCount of zero uses the
// session default.
func (s *Session) Entropy(ctx context.Context, sets []FeatureSet, conditioning row.Row, sampleCount int) (map[FeatureSet]Estimate, error) {
	// An empty set list sends nothing, so closure is checked here.
	if s.closed.Load() {
		return nil, ErrClosed
	}
	sampleCount, err := s.resolveSampleCount(sampleCount)
	if err != nil {
		return nil, err
	}

	var distinct []FeatureSet
	seen := make(map[FeatureSet]bool, len(sets))
	for _, set := range sets {
		if seen[set] {
			continue
		}
		if set.Max() >= s.schema.FeatureCount() {
			return nil, fmt.Errorf("%w: feature set %s exceeds %d features",
				row.ErrEncoding, set, s.schema.FeatureCount())
		}
		seen[set] = true
		distinct = append(distinct, set)
	}
	result := make(map[FeatureSet]Estimate, len(distinct))
	if len(distinct) == 0 {
		return result, nil
	}

	conditional, err := s.schema.Encode(conditioning)
	if err != nil {
		return nil, err
	}
	masks := make([]protocol.Mask, len(distinct))
	for i, set := range distinct {
		masks[i] = set.Mask()
	}

	request := &protocol.Request{Entropy: &protocol.EntropyRequest{
		Conditional: conditional,
		FeatureSets: masks,
		SampleCount: uint32(sampleCount),
	}}
	if err := s.send(ctx, request, false); err != nil {
		return nil, err
	}
	response, err := s.receive(ctx, func(response *protocol.Response) error {
		if response.Entropy == nil {
			return violation("entropy", "no entropy payload")
		}
		means, variances := len(response.Entropy.Means), len(response.Entropy.Variances)
		if means != len(distinct) || variances != len(distinct) {
			return violation("entropy", "%d means and %d variances for %d feature sets",
				means, variances, len(distinct))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i, set := range distinct {
		result[set] = Estimate{Mean: response.Entropy.Means[i], Variance: response.Entropy.Variances[i]}
	}
	return result, nil
}

// MutualInformation estimates I(A;B) conditioned on conditioning as
// H(A)+H(B)-H(A∪B), with the three entropies taken from one request.
// The variance is the sum of the three component variances.
func (s *Session) MutualInformation(ctx context.Context, a, b FeatureSet, conditioning row.Row, sampleCount int) (Estimate, error) {
	entropies, err := s.Entropy(ctx, []FeatureSet{a, b, a.Union(b)}, conditioning, sampleCount)
	if err != nil {
		return Estimate{}, err
	}
	return MutualInformationFrom(entropies, a, b)
}

// MutualInformationFrom computes I(A;B) from entropy estimates that
// include A, B, and their union, typically from one Entropy call over
// many sets.
func MutualInformationFrom(entropies map[FeatureSet]Estimate, a, b FeatureSet) (Estimate, error) {
	union := a.Union(b)
	var components [3]Estimate
	for i, set := range []FeatureSet{a, b, union} {
		estimate, ok := entropies[set]
		if !ok {
			return Estimate{}, fmt.Errorf("no entropy estimate for feature set %s", set)
		}
		components[i] = estimate
	}
	return components[0].Add(components[1]).Sub(components[2]), nil
}

// ScoreDerivative ranks stored rows by how much their score changes
// when updated is added on top of data, returning at most rowLimit
// rows, highest first.
func (s *Session) ScoreDerivative(ctx context.Context, updated, data row.Row, rowLimit int) ([]RowScore, error) {
	request, err := s.scoreDerivativeRequest(updated, data, rowLimit)
	if err != nil {
		return nil, err
	}
	if err := s.send(ctx, request, false); err != nil {
		return nil, err
	}
	response, err := s.receive(ctx, checkScoreDerivative(rowLimit))
	if err != nil {
		return nil, err
	}
	return rowScores(response.ScoreDerivative), nil
}

func (s *Session) scoreDerivativeRequest(updated, data row.Row, rowLimit int) (*protocol.Request, error) {
	if rowLimit < 1 {
		return nil, fmt.Errorf("row limit must be positive, got %d", rowLimit)
	}
	updatedWire, err := s.schema.Encode(updated)
	if err != nil {
		return nil, err
	}
	dataWire, err := s.schema.Encode(data)
	if err != nil {
		return nil, err
	}
	return &protocol.Request{ScoreDerivative: &protocol.ScoreDerivativeRequest{
		Updated:  updatedWire,
		Data:     dataWire,
		RowLimit: uint32(rowLimit),
	}}, nil
}

func checkScoreDerivative(rowLimit int) func(*protocol.Response) error {
	return func(response *protocol.Response) error {
		derivative := response.ScoreDerivative
		if derivative == nil {
			return violation("score_derivative", "no score_derivative payload")
		}
		if len(derivative.IDs) != len(derivative.Scores) {
			return violation("score_derivative", "%d IDs and %d scores", len(derivative.IDs), len(derivative.Scores))
		}
		if len(derivative.IDs) > rowLimit {
			return violation("score_derivative", "%d rows, limit %d", len(derivative.IDs), rowLimit)
		}
		return nil
	}
}

func rowScores(derivative *protocol.ScoreDerivativeResponse) []RowScore {
	scores := make([]RowScore, len(derivative.IDs))
	for i, id := range derivative.IDs {
		scores[i] = RowScore{RowID: id, Score: derivative.Scores[i]}
	}
	return scores
}

func (s *Session) resolveSampleCount(sampleCount int) (int, error) {
	switch {
	case sampleCount == 0:
		return s.sampleCount, nil
	case sampleCount < 0:
		return 0, fmt.Errorf("sample count must not be negative, got %d", sampleCount)
	default:
		return sampleCount, nil
	}
}
