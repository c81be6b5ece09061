// SPDX-License-Identifier: MIT
package sink

import (
	"bytes"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"specgate/internal/analysis"
	"specgate/internal/fft"
	"specgate/internal/frame"
	"specgate/pkg/utils"
)

type order struct{ closed []string }

type namedCloser struct {
	name string
	o    *order
	err  error
}

func (n *namedCloser) Close() error {
	n.o.closed = append(n.o.closed, n.name)
	return n.err
}

type flushCounter struct{ flushes int }

func (f *flushCounter) WriteSamples([]float32) error { return nil }
func (f *flushCounter) Flush() error                 { f.flushes++; return nil }

func TestMultiFanOut(t *testing.T) {
	samples := &utils.MockSampleSink{}
	points := &utils.MockPointSink{}
	m := NewMulti(samples, nil, points)

	assert.Equal(t, 2, m.Len())
	assert.True(t, m.AcceptsSamples())
	assert.True(t, m.AcceptsPoints())

	require.NoError(t, m.WriteSamples([]float32{1, 2}))
	require.NoError(t, m.WritePoints([]frame.Point{{Index: 0, Magnitude: 3}}))

	assert.Equal(t, 1, samples.Count())
	assert.Equal(t, 1, points.Count())
	assert.Equal(t, []float32{1, 2}, samples.Last())
}

func TestMultiJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	failing := &utils.MockSampleSink{Err: boom}
	ok := &utils.MockSampleSink{}
	m := NewMulti(failing, ok)

	err := m.WriteSamples([]float32{1})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, ok.Count(), "healthy members still receive the frame")
}

func TestMultiClosesInReverse(t *testing.T) {
	o := &order{}
	closeErr := errors.New("close failed")
	m := NewMulti(&namedCloser{name: "a", o: o}, &namedCloser{name: "b", o: o, err: closeErr})

	err := m.Close()
	assert.ErrorIs(t, err, closeErr)
	assert.Equal(t, []string{"b", "a"}, o.closed)
}

func TestMultiFlush(t *testing.T) {
	f := &flushCounter{}
	m := NewMulti(f, &utils.MockSampleSink{})
	require.NoError(t, m.Flush())
	assert.Equal(t, 1, f.flushes)
}

func TestMultiEmpty(t *testing.T) {
	m := NewMulti()
	assert.False(t, m.AcceptsSamples())
	assert.False(t, m.AcceptsPoints())
	assert.NoError(t, m.WriteSamples(nil))
	assert.NoError(t, m.Close())
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetLevel(logrus.DebugLevel)

	meter := analysis.NewBandMeter(8, 44100, nil)
	engine, err := fft.NewEngine(8, fft.WithRadix(2))
	require.NoError(t, err)
	l := NewLog(logger.WithField("component", "sink"), meter,
		WithBinFrequency(func(bin int) float64 { return engine.FrequencyForBin(bin, 44100) }))

	require.NoError(t, l.WriteSamples([]float32{0.1, -0.9, 0.2}))
	require.NoError(t, l.WritePoints([]frame.Point{{Index: 0, Magnitude: 1}, {Index: 3, Magnitude: 5}}))
	require.NoError(t, l.Close())

	out := buf.String()
	assert.Contains(t, out, "Reconstructed frame")
	assert.Contains(t, out, "peak_idx=1")
	assert.Contains(t, out, "Spectrum frame")
	assert.Contains(t, out, "peak_bin=3")
	assert.Contains(t, out, "peak_hz=16537.5")
	assert.Contains(t, out, "band_treble")
	assert.Contains(t, out, "frames=2")
	assert.Equal(t, uint64(2), l.Frames())
}

func TestLogSinkQuietAboveDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetLevel(logrus.InfoLevel)

	l := NewLog(logrus.NewEntry(logger), nil)
	require.NoError(t, l.WritePoints([]frame.Point{{Index: 1, Magnitude: 2}}))

	assert.NotContains(t, buf.String(), "Spectrum frame")
	assert.Equal(t, uint64(1), l.Frames())
}
