// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package row

import (
	"fmt"
	"strconv"
)

// Kind tags the variant held by a Value, and the declared type of a
// feature in a Schema.
type Kind uint8

const (
	KindAbsent Kind = iota
	KindBool
	KindCount
	KindReal
)

func (k Kind) String() string {
	switch k {
	case KindAbsent:
		return "absent"
	case KindBool:
		return "bool"
	case KindCount:
		return "count"
	case KindReal:
		return "real"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Value is one feature's value, or its absence. The zero Value is
// Absent. Values are comparable with ==.
type Value struct {
	kind    Kind
	boolean bool
	count   int64
	number  float64
}

// Absent returns the unobserved value.
func Absent() Value { return Value{} }

// Bool returns an observed boolean value.
func Bool(v bool) Value { return Value{kind: KindBool, boolean: v} }

// Count returns an observed count value.
func Count(v int64) Value { return Value{kind: KindCount, count: v} }

// Real returns an observed real value.
func Real(v float64) Value { return Value{kind: KindReal, number: v} }

// Kind returns the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// Observed reports whether v holds a value.
func (v Value) Observed() bool { return v.kind != KindAbsent }

// Bool returns the boolean held by v and whether v is a Bool.
func (v Value) Bool() (bool, bool) { return v.boolean, v.kind == KindBool }

// Count returns the count held by v and whether v is a Count.
func (v Value) Count() (int64, bool) { return v.count, v.kind == KindCount }

// Real returns the real held by v and whether v is a Real.
func (v Value) Real() (float64, bool) { return v.number, v.kind == KindReal }

func (v Value) String() string {
	switch v.kind {
	case KindBool:
		return strconv.FormatBool(v.boolean)
	case KindCount:
		return strconv.FormatInt(v.count, 10)
	case KindReal:
		return strconv.FormatFloat(v.number, 'g', -1, 64)
	default:
		return "-"
	}
}

// Row is one data instance: a value per feature, in canonical order.
type Row []Value

// Unobserved returns a row of n absent values.
func Unobserved(n int) Row {
	return make(Row, n)
}

// ObservedCount returns how many features of r are observed.
func (r Row) ObservedCount() int {
	count := 0
	for _, value := range r {
		if value.Observed() {
			count++
		}
	}
	return count
}

// ObservedMask returns one bool per feature, true where r is observed.
func (r Row) ObservedMask() []bool {
	mask := make([]bool, len(r))
	for i, value := range r {
		mask[i] = value.Observed()
	}
	return mask
}

// Clone returns a copy of r that shares no storage with it.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	clone := make(Row, len(r))
	copy(clone, r)
	return clone
}
