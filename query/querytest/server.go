// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package querytest

import (
	"cmp"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"slices"

	"github.com/posterior/loom/lib/protocol"
	"github.com/posterior/loom/lib/row"
)

// Server answers query requests from a Model. A Server handles one
// stream at a time and is not safe for concurrent use.
type Server struct {
	model  *Model
	random *rand.Rand

	// Logger receives one debug record per request. Nil discards.
	Logger *slog.Logger

	// Mutate, when set, may rewrite each response after it is computed
	// and before it is written. Tests use it to inject server errors,
	// wrong IDs, and wrong result arity.
	Mutate func(*protocol.Request, *protocol.Response)
}

// NewServer returns a server over model whose Monte Carlo draws are
// deterministic in seed.
func NewServer(model *Model, seed uint64) *Server {
	return &Server{
		model:  model,
		random: rand.New(rand.NewPCG(seed, ^seed)),
	}
}

// Serve reads framed requests from r and writes one framed response to
// w per request, in order, until r ends. A clean end of input returns
// nil. A request that fails to decode is answered with an error
// response rather than ending the stream, as long as its frame was
// intact.
func (s *Server) Serve(r io.Reader, w io.Writer) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	for {
		payload, err := protocol.ReadFrame(r)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading request: %w", err)
		}

		var response *protocol.Response
		request, err := protocol.DecodeRequest(payload)
		if err != nil {
			response = &protocol.Response{Error: []string{err.Error()}}
		} else {
			response = s.Handle(request)
			if s.Mutate != nil {
				s.Mutate(request, response)
			}
			logger.Debug("answered query", "id", request.ID, "kind", request.Kind(), "errors", len(response.Error))
		}

		if err := protocol.WriteMessage(w, response); err != nil {
			return fmt.Errorf("writing response: %w", err)
		}
	}
}

// Handle computes the response to one request. Failures are reported
// in the response's Error field, never as a Go error, matching the
// native server.
func (s *Server) Handle(request *protocol.Request) *protocol.Response {
	response := &protocol.Response{ID: request.ID}
	var err error
	switch {
	case request.Sample != nil:
		response.Sample, err = s.sample(request.Sample)
	case request.Score != nil:
		response.Score, err = s.score(request.Score)
	case request.Entropy != nil:
		response.Entropy, err = s.entropy(request.Entropy)
	case request.ScoreDerivative != nil:
		response.ScoreDerivative, err = s.scoreDerivative(request.ScoreDerivative)
	case request.MutualInformation != nil:
		err = errors.New("mutual_information queries are not supported; request the three entropies instead")
	default:
		err = errors.New("request has no query")
	}
	if err != nil {
		return &protocol.Response{ID: request.ID, Error: []string{err.Error()}}
	}
	return response
}

func (s *Server) sample(request *protocol.SampleRequest) (*protocol.SampleResponse, error) {
	schema := s.model.schema
	if _, err := schema.Decode(request.Data); err != nil {
		return nil, fmt.Errorf("sample data: %w", err)
	}
	positions, err := schema.Positions(request.ToSample)
	if err != nil {
		return nil, fmt.Errorf("sample to_sample: %w", err)
	}

	samples := make([]protocol.WireRow, request.SampleCount)
	for i := range samples {
		drawn := row.Unobserved(len(schema))
		for _, position := range positions {
			drawn[position] = s.model.draw(s.random, position)
		}
		wire, err := schema.Encode(drawn)
		if err != nil {
			return nil, err
		}
		samples[i] = wire
	}
	return &protocol.SampleResponse{Samples: samples}, nil
}

func (s *Server) score(request *protocol.ScoreRequest) (*protocol.ScoreResponse, error) {
	data, err := s.model.schema.Decode(request.Data)
	if err != nil {
		return nil, fmt.Errorf("score data: %w", err)
	}
	logProbability, err := s.model.LogProbability(data)
	if err != nil {
		return nil, err
	}
	return &protocol.ScoreResponse{Score: logProbability}, nil
}

// entropy estimates H(S | conditional) for every requested set S as the
// mean surprisal of the unobserved features of S over one shared set of
// joint samples. Observed conditioning features contribute nothing.
func (s *Server) entropy(request *protocol.EntropyRequest) (*protocol.EntropyResponse, error) {
	schema := s.model.schema
	conditional, err := schema.Decode(request.Conditional)
	if err != nil {
		return nil, fmt.Errorf("entropy conditional: %w", err)
	}
	if request.SampleCount == 0 {
		return nil, errors.New("entropy sample_count must be positive")
	}

	sets := make([][]int, len(request.FeatureSets))
	used := make([]bool, len(schema))
	for i, mask := range request.FeatureSets {
		positions, err := schema.Positions(mask)
		if err != nil {
			return nil, fmt.Errorf("entropy feature set %d: %w", i, err)
		}
		sets[i] = positions
		for _, position := range positions {
			if !conditional[position].Observed() {
				used[position] = true
			}
		}
	}

	sampleCount := int(request.SampleCount)
	surprisal := make([][]float64, sampleCount)
	for i := range surprisal {
		surprisal[i] = make([]float64, len(schema))
		for position, needed := range used {
			if !needed {
				continue
			}
			value := s.model.draw(s.random, position)
			logProbability, err := s.model.featureLogProbability(position, value)
			if err != nil {
				return nil, err
			}
			surprisal[i][position] = -logProbability
		}
	}

	response := &protocol.EntropyResponse{
		Means:     make([]float64, len(sets)),
		Variances: make([]float64, len(sets)),
	}
	values := make([]float64, sampleCount)
	for i, positions := range sets {
		for j := range values {
			total := 0.0
			for _, position := range positions {
				total += surprisal[j][position]
			}
			values[j] = total
		}
		response.Means[i], response.Variances[i] = meanAndVarianceOfMean(values)
	}
	return response, nil
}

// meanAndVarianceOfMean returns the sample mean and the estimated
// variance of that mean.
func meanAndVarianceOfMean(values []float64) (float64, float64) {
	n := float64(len(values))
	mean := 0.0
	for _, value := range values {
		mean += value
	}
	mean /= n
	if len(values) < 2 {
		return mean, 0
	}
	squares := 0.0
	for _, value := range values {
		squares += (value - mean) * (value - mean)
	}
	return mean, squares / (n - 1) / n
}

// scoreDerivative ranks stored rows by how strongly they agree with
// the updated row. Each agreeing feature contributes its surprisal, so
// rare agreements weigh more. Features observed in data are already
// part of the baseline and do not count.
func (s *Server) scoreDerivative(request *protocol.ScoreDerivativeRequest) (*protocol.ScoreDerivativeResponse, error) {
	schema := s.model.schema
	updated, err := schema.Decode(request.Updated)
	if err != nil {
		return nil, fmt.Errorf("score_derivative updated: %w", err)
	}
	data, err := schema.Decode(request.Data)
	if err != nil {
		return nil, fmt.Errorf("score_derivative data: %w", err)
	}

	type ranked struct {
		id    uint64
		score float64
	}
	rankings := make([]ranked, 0, len(s.model.rows))
	for id, stored := range s.model.rows {
		score := 0.0
		for position, value := range updated {
			if data[position].Observed() || !value.Observed() || value != stored[position] {
				continue
			}
			logProbability, err := s.model.featureLogProbability(position, value)
			if err != nil {
				return nil, err
			}
			score -= logProbability
		}
		rankings = append(rankings, ranked{id: uint64(id), score: score})
	}

	slices.SortStableFunc(rankings, func(a, b ranked) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		return cmp.Compare(a.id, b.id)
	})
	limit := min(int(request.RowLimit), len(rankings))

	response := &protocol.ScoreDerivativeResponse{
		IDs:    make([]uint64, limit),
		Scores: make([]float64, limit),
	}
	for i := range limit {
		response.IDs[i] = rankings[i].id
		response.Scores[i] = rankings[i].score
	}
	return response, nil
}
