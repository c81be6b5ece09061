// SPDX-License-Identifier: MIT
/*
Package fft is the spectral transform engine: a forward and inverse discrete
Fourier transform over one fixed frame size.

The engine wraps gonum's mixed-radix complex FFT. The frame size is fixed at
construction and must be a power of the configured radix (4 by default, the
radix the reference transform is built from). Both directions are unnormalized
by default, so Inverse(Forward(x)) == N*x. WithNormalize applies the 1/N factor
on the inverse instead; that variant is opt-in.

An Engine keeps gonum's twiddle factors and work area between calls, so it is
not safe for concurrent use. Build one per pipeline.
*/
package fft

import (
	"errors"
	"fmt"

	"specgate/internal/frame"
	"specgate/pkg/bitint"

	"gonum.org/v1/gonum/dsp/fourier"
)

// DefaultRadix is the radix frame sizes must be a power of unless overridden.
const DefaultRadix = 4

// ErrFrameSize reports a frame length the engine cannot transform.
var ErrFrameSize = errors.New("unsupported frame size")

// Engine performs forward and inverse transforms of a single fixed size.
type Engine struct {
	size      int
	radix     int
	normalize bool
	invScale  float64
	fftObj    *fourier.CmplxFFT
}

// Option configures an Engine.
type Option func(*Engine)

// WithRadix sets the radix the frame size must be a power of (2 or 4).
func WithRadix(radix int) Option {
	return func(e *Engine) { e.radix = radix }
}

// WithNormalize makes Inverse divide by N so that a round trip is the identity.
func WithNormalize(normalize bool) Option {
	return func(e *Engine) { e.normalize = normalize }
}

// NewEngine builds an engine for frames of exactly size bins. It returns an
// error wrapping ErrFrameSize if size is not a power of the radix.
func NewEngine(size int, opts ...Option) (*Engine, error) {
	e := &Engine{size: size, radix: DefaultRadix}
	for _, opt := range opts {
		opt(e)
	}

	if e.radix != 2 && e.radix != 4 {
		return nil, fmt.Errorf("%w: radix %d is not supported (use 2 or 4)", ErrFrameSize, e.radix)
	}
	if !bitint.IsPowerOfRadix(size, e.radix) {
		return nil, fmt.Errorf("%w: %d is not a power of %d (next valid size is %d)",
			ErrFrameSize, size, e.radix, bitint.NextPowerOfRadix(size, e.radix))
	}

	e.fftObj = fourier.NewCmplxFFT(size)
	e.invScale = 1
	if e.normalize {
		e.invScale = 1 / float64(size)
	}
	return e, nil
}

// Size returns the frame length the engine was built for.
func (e *Engine) Size() int { return e.size }

// Radix returns the radix the frame size was validated against.
func (e *Engine) Radix() int { return e.radix }

// Normalized reports whether Inverse applies the 1/N factor.
func (e *Engine) Normalized() bool { return e.normalize }

// RoundTripGain is the factor Inverse(Forward(x)) multiplies x by: N for the
// unnormalized engine, 1 when normalized.
func (e *Engine) RoundTripGain() float64 {
	if e.normalize {
		return 1
	}
	return float64(e.size)
}

// Forward computes the spectrum of src into dst and returns dst. dst may be
// nil (a frame is allocated) or the same slice as src. Any other length than
// Size() is a programming error and panics.
func (e *Engine) Forward(dst, src frame.Frame) frame.Frame {
	e.check(dst, src)
	return e.fftObj.Coefficients(dst, src)
}

// Inverse computes the time-domain sequence of the spectrum src into dst and
// returns dst. Scaling follows WithNormalize; see the package documentation.
func (e *Engine) Inverse(dst, src frame.Frame) frame.Frame {
	e.check(dst, src)
	dst = e.fftObj.Sequence(dst, src)
	if e.normalize {
		s := complex(e.invScale, 0)
		for i := range dst {
			dst[i] *= s
		}
	}
	return dst
}

// FrequencyForBin returns the centre frequency in Hz of bin i for the given
// sample rate, or 0 for an index outside the non-redundant half spectrum.
func (e *Engine) FrequencyForBin(i int, sampleRate float64) float64 {
	if i < 0 || i >= frame.HalfSize(e.size) {
		return 0
	}
	return float64(i) * sampleRate / float64(e.size)
}

func (e *Engine) check(dst, src frame.Frame) {
	if len(src) != e.size {
		panic(fmt.Errorf("fft: source length %d: %w (engine size %d)", len(src), ErrFrameSize, e.size))
	}
	if dst != nil && len(dst) != e.size {
		panic(fmt.Errorf("fft: destination length %d: %w (engine size %d)", len(dst), ErrFrameSize, e.size))
	}
}
