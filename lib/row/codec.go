// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package row

import (
	"errors"
	"fmt"

	"github.com/posterior/loom/lib/protocol"
)

// ErrEncoding is returned when a row, mask, or wire row is inconsistent
// with the schema: wrong length, a value of the wrong kind, a mask that
// disagrees with the number of values present.
var ErrEncoding = errors.New("row: encoding error")

// Schema declares the kind of every feature in canonical order.
type Schema []Kind

// NewSchema returns a schema over kinds. Absent is not a valid feature
// kind.
func NewSchema(kinds ...Kind) (Schema, error) {
	for i, kind := range kinds {
		switch kind {
		case KindBool, KindCount, KindReal:
		default:
			return nil, fmt.Errorf("%w: feature %d declared as %s", ErrEncoding, i, kind)
		}
	}
	return Schema(kinds), nil
}

// FeatureCount returns the number of features.
func (s Schema) FeatureCount() int { return len(s) }

// Encode converts r to its wire form with a dense observed mask.
func (s Schema) Encode(r Row) (protocol.WireRow, error) {
	return s.EncodeAs(r, protocol.SparsityDense)
}

// EncodeSparse converts r to its wire form with a sparse observed mask.
func (s Schema) EncodeSparse(r Row) (protocol.WireRow, error) {
	return s.EncodeAs(r, protocol.SparsitySparse)
}

// EncodeAs converts r to its wire form using the given mask sparsity.
// SparsityNone is accepted only for a row with nothing observed.
func (s Schema) EncodeAs(r Row, sparsity protocol.Sparsity) (protocol.WireRow, error) {
	if len(r) != len(s) {
		return protocol.WireRow{}, fmt.Errorf("%w: row has %d values, schema has %d features",
			ErrEncoding, len(r), len(s))
	}

	var wire protocol.WireRow
	var dense []bool
	var sparse []uint32
	if sparsity == protocol.SparsityDense {
		dense = make([]bool, len(r))
	}

	for position, value := range r {
		if !value.Observed() {
			continue
		}
		if value.kind != s[position] {
			return protocol.WireRow{}, fmt.Errorf("%w: feature %d holds a %s value, schema declares %s",
				ErrEncoding, position, value.kind, s[position])
		}
		switch value.kind {
		case KindBool:
			wire.Booleans = append(wire.Booleans, value.boolean)
		case KindCount:
			wire.Counts = append(wire.Counts, value.count)
		case KindReal:
			wire.Reals = append(wire.Reals, value.number)
		}
		switch sparsity {
		case protocol.SparsityDense:
			dense[position] = true
		case protocol.SparsitySparse:
			sparse = append(sparse, uint32(position))
		}
	}

	switch sparsity {
	case protocol.SparsityNone:
		if wire.ValueCount() != 0 {
			return protocol.WireRow{}, fmt.Errorf("%w: none mask requested for a row with %d observed values",
				ErrEncoding, wire.ValueCount())
		}
		wire.Observed = protocol.NoneMask()
	case protocol.SparsityDense:
		wire.Observed = protocol.DenseMask(dense)
	case protocol.SparsitySparse:
		wire.Observed = protocol.SparseMask(sparse)
	default:
		return protocol.WireRow{}, fmt.Errorf("%w: unknown sparsity %s", ErrEncoding, sparsity)
	}
	return wire, nil
}

// Decode converts a wire row back to a logical row. Every observed
// feature must be matched by exactly one value in the array of its
// schema kind, and every value must be consumed.
func (s Schema) Decode(wire protocol.WireRow) (Row, error) {
	positions, err := s.Positions(wire.Observed)
	if err != nil {
		return nil, err
	}

	result := Unobserved(len(s))
	var booleans, counts, reals int
	for _, position := range positions {
		switch s[position] {
		case KindBool:
			if booleans >= len(wire.Booleans) {
				return nil, s.countMismatch(wire, position)
			}
			result[position] = Bool(wire.Booleans[booleans])
			booleans++
		case KindCount:
			if counts >= len(wire.Counts) {
				return nil, s.countMismatch(wire, position)
			}
			result[position] = Count(wire.Counts[counts])
			counts++
		case KindReal:
			if reals >= len(wire.Reals) {
				return nil, s.countMismatch(wire, position)
			}
			result[position] = Real(wire.Reals[reals])
			reals++
		}
	}

	if booleans != len(wire.Booleans) || counts != len(wire.Counts) || reals != len(wire.Reals) {
		return nil, fmt.Errorf("%w: mask selects %d/%d/%d bool/count/real values, row carries %d/%d/%d",
			ErrEncoding, booleans, counts, reals, len(wire.Booleans), len(wire.Counts), len(wire.Reals))
	}
	return result, nil
}

// EncodeDiff encodes r as the positive half of a diff whose negative
// half is the none sentinel.
func (s Schema) EncodeDiff(r Row) (protocol.Diff, error) {
	positive, err := s.Encode(r)
	if err != nil {
		return protocol.Diff{}, err
	}
	return protocol.Diff{Pos: positive, Neg: protocol.WireRow{Observed: protocol.NoneMask()}}, nil
}

// DecodeDiff reads a diff that carries only a positive observation.
// A diff with anything in its negative half is rejected rather than
// silently read as a plain row.
func (s Schema) DecodeDiff(diff protocol.Diff) (Row, error) {
	if diff.Neg.Observed.Sparsity != protocol.SparsityNone || diff.Neg.ValueCount() != 0 {
		return nil, fmt.Errorf("%w: diff has a %s negative half with %d values, want none",
			ErrEncoding, diff.Neg.Observed.Sparsity, diff.Neg.ValueCount())
	}
	return s.Decode(diff.Pos)
}

// Positions lists the feature positions selected by mask, validated
// against the schema, in ascending order.
func (s Schema) Positions(mask protocol.Mask) ([]int, error) {
	switch mask.Sparsity {
	case protocol.SparsityNone:
		if len(mask.Dense) != 0 || len(mask.Sparse) != 0 {
			return nil, fmt.Errorf("%w: none mask carries %d dense and %d sparse entries",
				ErrEncoding, len(mask.Dense), len(mask.Sparse))
		}
		return nil, nil

	case protocol.SparsityDense:
		if len(mask.Dense) != len(s) {
			return nil, fmt.Errorf("%w: dense mask has %d entries, schema has %d features",
				ErrEncoding, len(mask.Dense), len(s))
		}
		var positions []int
		for position, observed := range mask.Dense {
			if observed {
				positions = append(positions, position)
			}
		}
		return positions, nil

	case protocol.SparsitySparse:
		positions := make([]int, len(mask.Sparse))
		for i, index := range mask.Sparse {
			if int64(index) >= int64(len(s)) {
				return nil, fmt.Errorf("%w: sparse index %d out of range for %d features",
					ErrEncoding, index, len(s))
			}
			if i > 0 && index <= mask.Sparse[i-1] {
				return nil, fmt.Errorf("%w: sparse indices not strictly increasing at %d",
					ErrEncoding, i)
			}
			positions[i] = int(index)
		}
		return positions, nil

	default:
		return nil, fmt.Errorf("%w: unknown sparsity %s", ErrEncoding, mask.Sparsity)
	}
}

func (s Schema) countMismatch(wire protocol.WireRow, position int) error {
	return fmt.Errorf("%w: mask observes feature %d (%s) but the row has no %s value left (%d/%d/%d bool/count/real)",
		ErrEncoding, position, s[position], s[position], len(wire.Booleans), len(wire.Counts), len(wire.Reals))
}
