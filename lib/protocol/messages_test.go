// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"errors"
	"strings"
	"testing"
)

func TestRequestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		request Request
		kind    string
		valid   bool
	}{
		{"score", Request{Score: &ScoreRequest{}}, "score", true},
		{"entropy", Request{Entropy: &EntropyRequest{}}, "entropy", true},
		{"none", Request{}, "", false},
		{"two", Request{Score: &ScoreRequest{}, Sample: &SampleRequest{}}, "", false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			err := test.request.Validate()
			if (err == nil) != test.valid {
				t.Errorf("Validate() = %v, valid want %v", err, test.valid)
			}
			if err != nil && !errors.Is(err, ErrMalformedMessage) {
				t.Errorf("Validate() = %v, want ErrMalformedMessage", err)
			}
			if got := test.request.Kind(); got != test.kind {
				t.Errorf("Kind() = %q, want %q", got, test.kind)
			}
		})
	}
}

func TestResponseErrTakesPrecedence(t *testing.T) {
	t.Parallel()

	response := Response{
		ID:    "r-7",
		Error: []string{"bad feature", "bad mask"},
		Score: &ScoreResponse{Score: -1},
	}
	err := response.Err()
	if err == nil {
		t.Fatal("Err() = nil for a response with error strings")
	}
	if !errors.Is(err, ErrServer) {
		t.Errorf("errors.Is(err, ErrServer) = false for %v", err)
	}
	var serverError *ServerError
	if !errors.As(err, &serverError) {
		t.Fatalf("errors.As failed for %T", err)
	}
	if serverError.RequestID != "r-7" {
		t.Errorf("RequestID = %q, want r-7", serverError.RequestID)
	}
	if !strings.Contains(err.Error(), "bad feature; bad mask") {
		t.Errorf("Error() = %q, want joined messages", err.Error())
	}
}

func TestResponseErrNilWithoutErrors(t *testing.T) {
	t.Parallel()

	response := Response{Score: &ScoreResponse{Score: -2}}
	if err := response.Err(); err != nil {
		t.Errorf("Err() = %v, want nil", err)
	}
	if response.Kind() != "score" {
		t.Errorf("Kind() = %q, want score", response.Kind())
	}
}

func TestSparsityString(t *testing.T) {
	t.Parallel()

	for sparsity, want := range map[Sparsity]string{
		SparsityNone:   "NONE",
		SparsityDense:  "DENSE",
		SparsitySparse: "SPARSE",
		Sparsity(9):    "Sparsity(9)",
	} {
		if got := sparsity.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", sparsity, got, want)
		}
	}
}
