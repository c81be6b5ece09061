// SPDX-License-Identifier: MIT
//
// Package gate implements the spectral noise gate: every frequency bin whose
// magnitude falls below a threshold is replaced with zero. The gate works in
// place, never changes the frame length and has no error conditions.
package gate

import (
	"fmt"
	"math"
	"strconv"

	"specgate/internal/frame"
)

// DefaultThreshold is the default magnitude cutoff between noise and signal.
const DefaultThreshold Threshold = 0.1

// Threshold is a non-negative magnitude cutoff. Zero disables the gate.
type Threshold float64

// Validate rejects negative, NaN and infinite thresholds.
func (t Threshold) Validate() error {
	v := float64(t)
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return fmt.Errorf("gate threshold must be a finite non-negative number, got %v", v)
	}
	return nil
}

// ParseThreshold parses and validates a threshold from text.
func ParseThreshold(s string) (Threshold, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid gate threshold %q: %w", s, err)
	}
	t := Threshold(v)
	if err := t.Validate(); err != nil {
		return 0, err
	}
	return t, nil
}

// Apply zeroes, in place, every bin of f whose magnitude is strictly below
// threshold and returns the number of bins that ended up gated. Bins at or
// above the threshold are left untouched. A zero or negative threshold leaves
// the frame unchanged and returns 0.
func Apply(f frame.Frame, threshold Threshold) int {
	t := float64(threshold)
	if !(t > 0) {
		return 0
	}
	gated := 0
	for i, b := range f {
		if frame.Magnitude(b) < t {
			f[i] = 0
			gated++
		}
	}
	return gated
}
