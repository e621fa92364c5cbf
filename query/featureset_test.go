// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package query

import (
	"math"
	"testing"

	"github.com/posterior/loom/lib/protocol"
)

func TestFeatureSet_Canonical(t *testing.T) {
	t.Parallel()

	a := MustFeatureSet(4, 1, 4, 0)
	b := MustFeatureSet(0, 1, 4)
	if a != b {
		t.Errorf("%s != %s, want equal sets to compare equal", a, b)
	}
	if got := a.String(); got != "{0,1,4}" {
		t.Errorf("got %q, want {0,1,4}", got)
	}
	if got := a.Len(); got != 3 {
		t.Errorf("Len = %d, want 3", got)
	}
	if got := a.Max(); got != 4 {
		t.Errorf("Max = %d, want 4", got)
	}
	if !a.Contains(1) || a.Contains(2) {
		t.Errorf("Contains gave wrong membership for %s", a)
	}
}

func TestFeatureSet_Empty(t *testing.T) {
	t.Parallel()

	var empty FeatureSet
	if empty != MustFeatureSet() {
		t.Error("zero FeatureSet differs from an explicitly empty one")
	}
	if got := empty.Max(); got != -1 {
		t.Errorf("Max of empty set = %d, want -1", got)
	}
	if got := empty.String(); got != "{}" {
		t.Errorf("got %q, want {}", got)
	}
}

func TestFeatureSet_RejectsNegativePositions(t *testing.T) {
	t.Parallel()

	if _, err := NewFeatureSet(1, -1); err == nil {
		t.Error("expected an error for a negative position")
	}
}

func TestFeatureSet_Union(t *testing.T) {
	t.Parallel()

	union := MustFeatureSet(0, 3).Union(MustFeatureSet(3, 1))
	want := []int{0, 1, 3}
	got := union.Indices()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestFeatureSet_Mask(t *testing.T) {
	t.Parallel()

	mask := MustFeatureSet(2, 0).Mask()
	if mask.Sparsity != protocol.SparsitySparse {
		t.Errorf("sparsity = %s, want SPARSE", mask.Sparsity)
	}
	if len(mask.Sparse) != 2 || mask.Sparse[0] != 0 || mask.Sparse[1] != 2 {
		t.Errorf("got %v, want [0 2]", mask.Sparse)
	}
}

func TestEstimate_Arithmetic(t *testing.T) {
	t.Parallel()

	a := Estimate{Mean: 2, Variance: 0.25}
	b := Estimate{Mean: 0.5, Variance: 0.5}

	sum := a.Add(b)
	if sum.Mean != 2.5 || sum.Variance != 0.75 {
		t.Errorf("Add = %+v, want {2.5 0.75}", sum)
	}
	// Variances of independent estimates add under subtraction too.
	difference := a.Sub(b)
	if difference.Mean != 1.5 || difference.Variance != 0.75 {
		t.Errorf("Sub = %+v, want {1.5 0.75}", difference)
	}
	if got := a.StdDev(); math.Abs(got-0.5) > 1e-15 {
		t.Errorf("StdDev = %v, want 0.5", got)
	}
}
