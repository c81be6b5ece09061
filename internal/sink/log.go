// SPDX-License-Identifier: MIT
package sink

import (
	"math"

	"github.com/sirupsen/logrus"

	"specgate/internal/analysis"
	"specgate/internal/frame"
)

// Log writes a one-line summary of every frame at debug level.
type Log struct {
	log    *logrus.Entry
	meter  *analysis.BandMeter
	binHz  func(bin int) float64
	levels []float64
	frames uint64
}

// LogOption customises a Log sink.
type LogOption func(*Log)

// WithBinFrequency labels the peak bin of spectrum frames in Hz.
func WithBinFrequency(hz func(bin int) float64) LogOption {
	return func(l *Log) { l.binHz = hz }
}

var (
	_ SampleSink = (*Log)(nil)
	_ PointSink  = (*Log)(nil)
)

// NewLog returns a logging sink. meter may be nil; when set, spectrum frames
// are also summarised per band.
func NewLog(entry *logrus.Entry, meter *analysis.BandMeter, opts ...LogOption) *Log {
	l := &Log{log: entry, meter: meter}
	for _, opt := range opts {
		opt(l)
	}
	if meter != nil {
		l.levels = make([]float64, len(meter.Bands()))
	}
	entry.Info("Log sink enabled")
	return l
}

// WriteSamples logs the peak sample and the frame level.
func (l *Log) WriteSamples(samples []float32) error {
	l.frames++
	if !l.log.Logger.IsLevelEnabled(logrus.DebugLevel) {
		return nil
	}

	peakIdx, peak := 0, float32(0)
	for i, s := range samples {
		if a := float32(math.Abs(float64(s))); a > peak {
			peakIdx, peak = i, a
		}
	}
	l.log.WithFields(logrus.Fields{
		"frame":     l.frames,
		"peak_idx":  peakIdx,
		"peak":      peak,
		"rms_dbfs":  analysis.Level(samples, make([]float64, len(samples))),
		"n_samples": len(samples),
	}).Debug("Reconstructed frame")
	return nil
}

// WritePoints logs the peak bin and, with a band meter, per-band levels.
func (l *Log) WritePoints(points []frame.Point) error {
	l.frames++
	if !l.log.Logger.IsLevelEnabled(logrus.DebugLevel) {
		return nil
	}

	peakIdx, peak := frame.Peak(points)
	fields := logrus.Fields{
		"frame":    l.frames,
		"peak_bin": peakIdx,
		"peak":     peak,
		"n_bins":   len(points),
	}
	if l.binHz != nil {
		fields["peak_hz"] = l.binHz(peakIdx)
	}
	if l.meter != nil {
		for i, v := range l.meter.Measure(l.levels, points) {
			fields["band_"+l.meter.Bands()[i].Name] = v
		}
	}
	l.log.WithFields(fields).Debug("Spectrum frame")
	return nil
}

// Frames returns the number of frames written.
func (l *Log) Frames() uint64 { return l.frames }

// Close logs the total.
func (l *Log) Close() error {
	l.log.WithField("frames", l.frames).Info("Log sink closed")
	return nil
}
