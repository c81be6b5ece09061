// SPDX-License-Identifier: MIT
package analysis

import (
	"math"

	"specgate/internal/frame"
)

// Band is a named frequency range [LowHz, HighHz).
type Band struct {
	Name   string
	LowHz  float64
	HighHz float64
}

// DefaultBands splits the audible range into six bands.
var DefaultBands = []Band{
	{Name: "sub", LowHz: 20, HighHz: 60},
	{Name: "bass", LowHz: 60, HighHz: 250},
	{Name: "lowMid", LowHz: 250, HighHz: 500},
	{Name: "mid", LowHz: 500, HighHz: 2000},
	{Name: "highMid", LowHz: 2000, HighHz: 4000},
	{Name: "treble", LowHz: 4000, HighHz: math.Inf(1)},
}

// BandMeter sums spectral energy into bands. Bin frequencies are fixed by the
// frame size and sample rate, so the bin-to-band mapping is computed once.
type BandMeter struct {
	bands  []Band
	bandOf []int // Band index per half-spectrum bin, -1 when outside every band.
	counts []int
}

// NewBandMeter builds a meter for spectra of frameSize bins sampled at
// sampleRate. A nil bands slice selects DefaultBands.
func NewBandMeter(frameSize int, sampleRate float64, bands []Band) *BandMeter {
	if bands == nil {
		bands = DefaultBands
	}
	n := frame.HalfSize(frameSize)
	m := &BandMeter{
		bands:  bands,
		bandOf: make([]int, n),
		counts: make([]int, len(bands)),
	}
	for i := range n {
		freq := float64(i) * sampleRate / float64(frameSize)
		m.bandOf[i] = -1
		for b, band := range bands {
			if freq >= band.LowHz && freq < band.HighHz {
				m.bandOf[i] = b
				m.counts[b]++
				break
			}
		}
	}
	return m
}

// Bands returns the band definitions in output order.
func (m *BandMeter) Bands() []Band { return m.bands }

// Measure writes the RMS magnitude of each band into dst (len(Bands()) long)
// and returns it. Bands without bins report 0.
func (m *BandMeter) Measure(dst []float64, points []frame.Point) []float64 {
	dst = dst[:len(m.bands)]
	clear(dst)
	for _, p := range points {
		if p.Index < 0 || p.Index >= len(m.bandOf) {
			continue
		}
		if b := m.bandOf[p.Index]; b >= 0 {
			dst[b] += p.Magnitude * p.Magnitude
		}
	}
	for b := range dst {
		if m.counts[b] > 0 {
			dst[b] = math.Sqrt(dst[b] / float64(m.counts[b]))
		}
	}
	return dst
}
