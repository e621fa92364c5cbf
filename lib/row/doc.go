// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package row converts between logical data rows and their wire form.
//
// A [Row] holds one [Value] per feature in canonical feature order.
// Each Value is a tagged union over {Absent, Bool, Count, Real}, fixed
// when the value is constructed. A [Schema] declares the kind of every
// feature; the same schema must be used by the client, the server, and
// the trained model, so it is supplied once per query session and never
// re-derived.
//
// Encoding partitions observed values into the booleans, counts, and
// reals arrays of a protocol.WireRow. Decoding walks the observed mask
// in feature order and pulls each feature's value from the array its
// schema kind selects. Any disagreement between the mask and the array
// lengths is an [ErrEncoding] failure; nothing is truncated or padded.
package row
