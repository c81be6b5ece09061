// SPDX-License-Identifier: MIT
/*
Package sink holds the consumers of processed frames.

A sink runs in the consumer context and may block, allocate and fail. The
consumer loop calls exactly one write method per delivered frame, chosen by
the pipeline mode:
  - SampleSink for reconstructed time-domain frames
  - PointSink for gated spectra, as (bin, magnitude) points

Sinks may also implement Flusher and io.Closer; the consumer flushes and
closes them when it stops.
*/
package sink

import (
	"errors"
	"io"

	"specgate/internal/frame"
)

// SampleSink accepts reconstructed frames. The slice is reused by the caller
// after the call returns.
type SampleSink interface {
	WriteSamples(samples []float32) error
}

// PointSink accepts spectra as (bin, magnitude) points. The slice is reused
// by the caller after the call returns.
type PointSink interface {
	WritePoints(points []frame.Point) error
}

// Flusher is implemented by sinks that buffer output.
type Flusher interface {
	Flush() error
}

// Multi fans a frame out to several sinks. Members that do not accept the
// written kind are skipped, so one Multi can hold sinks of both kinds.
type Multi struct {
	sinks []any
}

var (
	_ SampleSink = (*Multi)(nil)
	_ PointSink  = (*Multi)(nil)
	_ Flusher    = (*Multi)(nil)
	_ io.Closer  = (*Multi)(nil)
)

// NewMulti returns a fan-out over the given sinks. nil members are ignored.
func NewMulti(sinks ...any) *Multi {
	m := &Multi{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Len returns the number of member sinks.
func (m *Multi) Len() int { return len(m.sinks) }

// AcceptsSamples reports whether at least one member is a SampleSink.
func (m *Multi) AcceptsSamples() bool {
	for _, s := range m.sinks {
		if _, ok := s.(SampleSink); ok {
			return true
		}
	}
	return false
}

// AcceptsPoints reports whether at least one member is a PointSink.
func (m *Multi) AcceptsPoints() bool {
	for _, s := range m.sinks {
		if _, ok := s.(PointSink); ok {
			return true
		}
	}
	return false
}

// WriteSamples writes to every SampleSink member. All members are attempted;
// their errors are joined.
func (m *Multi) WriteSamples(samples []float32) error {
	var errs []error
	for _, s := range m.sinks {
		if ss, ok := s.(SampleSink); ok {
			if err := ss.WriteSamples(samples); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// WritePoints writes to every PointSink member.
func (m *Multi) WritePoints(points []frame.Point) error {
	var errs []error
	for _, s := range m.sinks {
		if ps, ok := s.(PointSink); ok {
			if err := ps.WritePoints(points); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Flush flushes every member that buffers output.
func (m *Multi) Flush() error {
	var errs []error
	for _, s := range m.sinks {
		if f, ok := s.(Flusher); ok {
			if err := f.Flush(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Close closes every member in reverse order of registration.
func (m *Multi) Close() error {
	var errs []error
	for i := len(m.sinks) - 1; i >= 0; i-- {
		if c, ok := m.sinks[i].(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
