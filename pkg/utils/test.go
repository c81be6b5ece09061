// SPDX-License-Identifier: MIT
//
// Package utils holds signal generators and sink doubles shared by the
// package tests.
package utils

import (
	"math"
	"math/rand/v2"
	"sync"

	"specgate/internal/frame"
)

// MockSampleSink records every sample frame it is given.
type MockSampleSink struct {
	mu     sync.Mutex
	Frames [][]float32
	Err    error // Returned from every write when set.
	Closed bool
}

// WriteSamples stores a copy of samples for later inspection.
func (m *MockSampleSink) WriteSamples(samples []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	c := make([]float32, len(samples))
	copy(c, samples)
	m.Frames = append(m.Frames, c)
	return nil
}

// Close marks the sink closed.
func (m *MockSampleSink) Close() error {
	m.mu.Lock()
	m.Closed = true
	m.mu.Unlock()
	return nil
}

// Count returns the number of frames received so far.
func (m *MockSampleSink) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Frames)
}

// Last returns the most recent frame, or nil.
func (m *MockSampleSink) Last() []float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Frames) == 0 {
		return nil
	}
	return m.Frames[len(m.Frames)-1]
}

// MockPointSink records every spectrum it is given.
type MockPointSink struct {
	mu     sync.Mutex
	Frames [][]frame.Point
	Err    error
}

// WritePoints stores a copy of points for later inspection.
func (m *MockPointSink) WritePoints(points []frame.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	c := make([]frame.Point, len(points))
	copy(c, points)
	m.Frames = append(m.Frames, c)
	return nil
}

// Count returns the number of spectra received so far.
func (m *MockPointSink) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Frames)
}

// Last returns the most recent spectrum, or nil.
func (m *MockPointSink) Last() []frame.Point {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Frames) == 0 {
		return nil
	}
	return m.Frames[len(m.Frames)-1]
}

// GenerateComplexWave returns a 440Hz fundamental with two harmonics.
func GenerateComplexWave(size int, sampleRate float64) []float32 {
	buffer := make([]float32, size)
	for i := range buffer {
		tm := float64(i) / sampleRate
		signal := math.Sin(2*math.Pi*440*tm)*0.5 +
			math.Sin(2*math.Pi*880*tm)*0.3 +
			math.Sin(2*math.Pi*1320*tm)*0.2
		buffer[i] = float32(signal * 0.9)
	}
	return buffer
}

// GenerateSineWave returns a sine of the given frequency and peak amplitude.
func GenerateSineWave(size int, sampleRate, frequency, amplitude float64) []float32 {
	buffer := make([]float32, size)
	for i := range buffer {
		t := float64(i) / sampleRate
		buffer[i] = float32(math.Sin(2*math.Pi*frequency*t) * amplitude)
	}
	return buffer
}

// AddNoise adds uniform noise in [-level, level) to buffer in place. The
// generator is seeded so test fixtures are reproducible.
func AddNoise(buffer []float32, level float64, seed uint64) []float32 {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	for i := range buffer {
		buffer[i] += float32((r.Float64()*2 - 1) * level)
	}
	return buffer
}

// FindPeakBin returns the index of the largest magnitude in [startBin, endBin].
func FindPeakBin(magnitudes []float64, startBin, endBin int) int {
	if len(magnitudes) == 0 {
		return 0
	}

	if startBin < 0 {
		startBin = 0
	}

	if endBin >= len(magnitudes) {
		endBin = len(magnitudes) - 1
	}

	peakBin := startBin
	peakValue := magnitudes[startBin]

	for bin := startBin + 1; bin <= endBin; bin++ {
		if magnitudes[bin] > peakValue {
			peakValue = magnitudes[bin]
			peakBin = bin
		}
	}

	return peakBin
}
