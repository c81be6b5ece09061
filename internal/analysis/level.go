// SPDX-License-Identifier: MIT
/*
Package analysis computes per-frame summaries for logs, metrics and renderers:
  - Level: input loudness in dBFS
  - Bands: energy per named frequency band of a gated spectrum

Nothing here touches the hand-off slot. Callers pass buffers they own and the
functions allocate nothing on the hot path.
*/
package analysis

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// SilenceDBFS is the floor reported for an all-zero buffer.
const SilenceDBFS = -120.0

// Level returns the RMS level of samples in dBFS (20*log10(rms), full scale
// 1.0). scratch must be at least len(samples) long; it receives the samples
// widened to float64. An empty or silent buffer yields SilenceDBFS.
func Level(samples []float32, scratch []float64) float64 {
	if len(samples) == 0 {
		return SilenceDBFS
	}
	scratch = scratch[:len(samples)]
	for i, s := range samples {
		scratch[i] = float64(s)
	}
	return LevelFloat64(scratch)
}

// LevelFloat64 is Level for samples already in float64.
func LevelFloat64(samples []float64) float64 {
	if len(samples) == 0 {
		return SilenceDBFS
	}
	rms := floats.Norm(samples, 2) / math.Sqrt(float64(len(samples)))
	return ToDBFS(rms)
}

// ToDBFS converts a linear amplitude to dBFS, floored at SilenceDBFS.
func ToDBFS(amplitude float64) float64 {
	if !(amplitude > 0) {
		return SilenceDBFS
	}
	return math.Max(20*math.Log10(amplitude), SilenceDBFS)
}
