// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package query

import (
	"fmt"
	"math"
)

// Estimate is a Monte Carlo estimate: the sample mean and the variance
// of that mean.
type Estimate struct {
	Mean     float64
	Variance float64
}

// StdDev returns the standard error of the estimate.
func (e Estimate) StdDev() float64 { return math.Sqrt(e.Variance) }

// Add returns e + other, treating the two as independent.
func (e Estimate) Add(other Estimate) Estimate {
	return Estimate{Mean: e.Mean + other.Mean, Variance: e.Variance + other.Variance}
}

// Sub returns e - other, treating the two as independent.
func (e Estimate) Sub(other Estimate) Estimate {
	return Estimate{Mean: e.Mean - other.Mean, Variance: e.Variance + other.Variance}
}

func (e Estimate) String() string {
	return fmt.Sprintf("%.6g ± %.3g", e.Mean, e.StdDev())
}
