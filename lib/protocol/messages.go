// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"fmt"
	"strings"
)

// Sparsity selects how a Mask encodes which features are observed.
type Sparsity uint8

const (
	// SparsityNone marks every feature unobserved. It carries no data
	// and is the zero value, so an empty Mask is the "none" sentinel.
	SparsityNone Sparsity = 0

	// SparsityDense lists one bool per feature.
	SparsityDense Sparsity = 1

	// SparsitySparse lists the observed feature indices, sorted and
	// unique. Used for high-dimensional, mostly-absent rows.
	SparsitySparse Sparsity = 2
)

func (s Sparsity) String() string {
	switch s {
	case SparsityNone:
		return "NONE"
	case SparsityDense:
		return "DENSE"
	case SparsitySparse:
		return "SPARSE"
	default:
		return fmt.Sprintf("Sparsity(%d)", uint8(s))
	}
}

// Mask records which feature positions of a row are observed.
type Mask struct {
	Sparsity Sparsity `cbor:"sparsity"`
	Dense    []bool   `cbor:"dense,omitempty"`
	Sparse   []uint32 `cbor:"sparse,omitempty"`
}

// NoneMask returns the all-unobserved sentinel.
func NoneMask() Mask { return Mask{Sparsity: SparsityNone} }

// DenseMask returns a dense mask over observed.
func DenseMask(observed []bool) Mask {
	return Mask{Sparsity: SparsityDense, Dense: observed}
}

// SparseMask returns a sparse mask listing indices. The caller is
// responsible for sorting and deduplicating.
func SparseMask(indices []uint32) Mask {
	return Mask{Sparsity: SparsitySparse, Sparse: indices}
}

// WireRow is the wire form of a partially observed row. The i-th
// observed feature of boolean kind takes the next element of Booleans,
// and likewise for Counts and Reals; the arrays carry no positions of
// their own.
type WireRow struct {
	Observed Mask      `cbor:"observed"`
	Booleans []bool    `cbor:"booleans,omitempty"`
	Counts   []int64   `cbor:"counts,omitempty"`
	Reals    []float64 `cbor:"reals,omitempty"`
}

// ValueCount returns the total number of values across all three
// typed arrays.
func (w WireRow) ValueCount() int {
	return len(w.Booleans) + len(w.Counts) + len(w.Reals)
}

// Diff is a paired observation relative to a baseline row: Pos holds
// values added, Neg values removed.
type Diff struct {
	Pos WireRow `cbor:"pos"`
	Neg WireRow `cbor:"neg"`
}

// Request is one query sent to the server. Exactly one payload field
// is set. ID is for client bookkeeping and logging; the server echoes
// it but the protocol correlates by order, not ID.
type Request struct {
	ID string `cbor:"id"`

	Sample            *SampleRequest            `cbor:"sample,omitempty"`
	Score             *ScoreRequest             `cbor:"score,omitempty"`
	Entropy           *EntropyRequest           `cbor:"entropy,omitempty"`
	MutualInformation *MutualInformationRequest `cbor:"mutual_information,omitempty"`
	ScoreDerivative   *ScoreDerivativeRequest   `cbor:"score_derivative,omitempty"`
}

// SampleRequest draws SampleCount rows from the posterior predictive
// conditioned on Data, resampling the features set in ToSample.
type SampleRequest struct {
	Data        WireRow `cbor:"data"`
	ToSample    Mask    `cbor:"to_sample"`
	SampleCount uint32  `cbor:"sample_count"`
}

// ScoreRequest asks for the log probability of Data.
type ScoreRequest struct {
	Data WireRow `cbor:"data"`
}

// EntropyRequest asks for one Monte-Carlo entropy estimate per feature
// set, conditioned on Conditional.
type EntropyRequest struct {
	Conditional WireRow `cbor:"conditional"`
	FeatureSets []Mask  `cbor:"feature_sets"`
	SampleCount uint32  `cbor:"sample_count"`
}

// MutualInformationRequest asks the server for I(A;B) directly. Servers
// that do not implement it answer with an error; the query session
// derives mutual information from an EntropyRequest instead.
type MutualInformationRequest struct {
	Conditional WireRow `cbor:"conditional"`
	FeatureSetA Mask    `cbor:"feature_set_a"`
	FeatureSetB Mask    `cbor:"feature_set_b"`
	SampleCount uint32  `cbor:"sample_count"`
}

// ScoreDerivativeRequest asks how the score of each stored row changes
// when Updated is added to the model on top of Data. Features observed
// in Data are part of the baseline and do not contribute. At most
// RowLimit rows are returned, highest first.
type ScoreDerivativeRequest struct {
	Updated  WireRow `cbor:"updated"`
	Data     WireRow `cbor:"data"`
	RowLimit uint32  `cbor:"row_limit"`
}

// Kind names the payload carried by the request, or "" if none.
func (r *Request) Kind() string {
	kinds := r.payloadKinds()
	if len(kinds) != 1 {
		return ""
	}
	return kinds[0]
}

// Validate checks that exactly one payload is set.
func (r *Request) Validate() error {
	kinds := r.payloadKinds()
	switch len(kinds) {
	case 1:
		return nil
	case 0:
		return fmt.Errorf("%w: request %q has no payload", ErrMalformedMessage, r.ID)
	default:
		return fmt.Errorf("%w: request %q has %d payloads (%s)",
			ErrMalformedMessage, r.ID, len(kinds), strings.Join(kinds, ", "))
	}
}

func (r *Request) payloadKinds() []string {
	var kinds []string
	if r.Sample != nil {
		kinds = append(kinds, "sample")
	}
	if r.Score != nil {
		kinds = append(kinds, "score")
	}
	if r.Entropy != nil {
		kinds = append(kinds, "entropy")
	}
	if r.MutualInformation != nil {
		kinds = append(kinds, "mutual_information")
	}
	if r.ScoreDerivative != nil {
		kinds = append(kinds, "score_derivative")
	}
	return kinds
}

// Response is the server's answer to one Request. A response with any
// Error content carries no valid result, whatever else is set; use
// [Response.Err] before reading a payload.
type Response struct {
	ID    string   `cbor:"id"`
	Error []string `cbor:"error,omitempty"`

	Sample          *SampleResponse          `cbor:"sample,omitempty"`
	Score           *ScoreResponse           `cbor:"score,omitempty"`
	Entropy         *EntropyResponse         `cbor:"entropy,omitempty"`
	ScoreDerivative *ScoreDerivativeResponse `cbor:"score_derivative,omitempty"`
}

// SampleResponse carries the sampled rows.
type SampleResponse struct {
	Samples []WireRow `cbor:"samples"`
}

// ScoreResponse carries a log probability.
type ScoreResponse struct {
	Score float64 `cbor:"score"`
}

// EntropyResponse carries one mean and variance per requested feature
// set, in request order.
type EntropyResponse struct {
	Means     []float64 `cbor:"means"`
	Variances []float64 `cbor:"variances"`
}

// ScoreDerivativeResponse carries stored row IDs and their score
// derivatives, parallel arrays.
type ScoreDerivativeResponse struct {
	IDs    []uint64  `cbor:"ids"`
	Scores []float64 `cbor:"scores"`
}

// Err returns a *ServerError if the response carries error strings,
// otherwise nil.
func (r *Response) Err() error {
	if len(r.Error) == 0 {
		return nil
	}
	return &ServerError{RequestID: r.ID, Messages: r.Error}
}

// Kind names the payload carried by the response, or "" if none or
// more than one is set.
func (r *Response) Kind() string {
	var kinds []string
	if r.Sample != nil {
		kinds = append(kinds, "sample")
	}
	if r.Score != nil {
		kinds = append(kinds, "score")
	}
	if r.Entropy != nil {
		kinds = append(kinds, "entropy")
	}
	if r.ScoreDerivative != nil {
		kinds = append(kinds, "score_derivative")
	}
	if len(kinds) != 1 {
		return ""
	}
	return kinds[0]
}
