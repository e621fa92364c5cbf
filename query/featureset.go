// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package query

import (
	"encoding/binary"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/posterior/loom/lib/protocol"
)

// FeatureSet is an unordered set of feature positions. Two sets with
// the same members are equal with ==, whatever order they were built
// in, so a FeatureSet is safe to use as a map key. The zero value is
// the empty set.
type FeatureSet struct {
	// packed holds the sorted, distinct positions as big-endian
	// uint32s.
	packed string
}

// NewFeatureSet returns the set of the given positions. Duplicates are
// ignored.
func NewFeatureSet(positions ...int) (FeatureSet, error) {
	for _, position := range positions {
		if position < 0 || int64(position) > int64(^uint32(0)) {
			return FeatureSet{}, fmt.Errorf("feature position %d out of range", position)
		}
	}
	sorted := slices.Clone(positions)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	packed := make([]byte, 4*len(sorted))
	for i, position := range sorted {
		binary.BigEndian.PutUint32(packed[4*i:], uint32(position))
	}
	return FeatureSet{packed: string(packed)}, nil
}

// MustFeatureSet is NewFeatureSet for literal positions; it panics on
// a negative position.
func MustFeatureSet(positions ...int) FeatureSet {
	set, err := NewFeatureSet(positions...)
	if err != nil {
		panic(err)
	}
	return set
}

// Len returns the number of positions in the set.
func (s FeatureSet) Len() int { return len(s.packed) / 4 }

// Indices returns the positions in ascending order.
func (s FeatureSet) Indices() []int {
	indices := make([]int, s.Len())
	for i := range indices {
		indices[i] = int(s.at(i))
	}
	return indices
}

// Contains reports whether position is in the set.
func (s FeatureSet) Contains(position int) bool {
	if position < 0 {
		return false
	}
	_, found := slices.BinarySearch(s.Indices(), position)
	return found
}

// Union returns the set of positions in s or other.
func (s FeatureSet) Union(other FeatureSet) FeatureSet {
	return MustFeatureSet(append(s.Indices(), other.Indices()...)...)
}

// Max returns the largest position, or -1 for the empty set.
func (s FeatureSet) Max() int {
	if s.Len() == 0 {
		return -1
	}
	return int(s.at(s.Len() - 1))
}

// Mask returns the set as a sparse wire mask.
func (s FeatureSet) Mask() protocol.Mask {
	indices := make([]uint32, s.Len())
	for i := range indices {
		indices[i] = s.at(i)
	}
	return protocol.SparseMask(indices)
}

func (s FeatureSet) String() string {
	var builder strings.Builder
	builder.WriteByte('{')
	for i := range s.Len() {
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatUint(uint64(s.at(i)), 10))
	}
	builder.WriteByte('}')
	return builder.String()
}

func (s FeatureSet) at(i int) uint32 {
	return binary.BigEndian.Uint32([]byte(s.packed[4*i : 4*i+4]))
}
