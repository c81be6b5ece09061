// SPDX-License-Identifier: MIT
/*
Package frame defines the buffers exchanged between the capture callback,
the transform, the gate and the sinks.

A Frame is a fixed-length slice of complex bins. The same type carries both
time-domain samples (imaginary part zero) and frequency-domain bins, so a
frame can be transformed in place without changing representation. None of
the helpers here allocate when given a destination of the right length, and
none of them change the length of their input.
*/
package frame

import "math/cmplx"

// Sample is one real amplitude reading as delivered by the capture source.
type Sample = float32

// Bin is one frequency-domain component.
type Bin = complex128

// Frame is a fixed-length ordered sequence of bins or time-domain samples.
type Frame []Bin

// Point is one (index, magnitude) pair handed to visual renderers.
type Point struct {
	Index     int     `json:"i"`
	Magnitude float64 `json:"m"`
}

// New returns a zeroed frame of the given length.
func New(size int) Frame {
	return make(Frame, size)
}

// Magnitude returns sqrt(re² + im²) for a single bin.
func Magnitude(b Bin) float64 {
	return cmplx.Abs(b)
}

// FromSamples loads real samples into dst, clearing the imaginary parts.
// dst and in must have the same length.
func FromSamples(dst Frame, in []Sample) Frame {
	for i, s := range in {
		dst[i] = complex(float64(s), 0)
	}
	return dst
}

// Real copies the real part of every bin of f into dst, which must be at
// least len(f) long, and returns dst[:len(f)].
func Real(dst []float32, f Frame) []float32 {
	dst = dst[:len(f)]
	for i, b := range f {
		dst[i] = float32(real(b))
	}
	return dst
}

// Points fills dst with the magnitudes of the non-redundant half of a
// spectrum (bins 0 through N/2 inclusive) and returns the filled slice.
// dst must have room for len(f)/2+1 points.
func Points(dst []Point, f Frame) []Point {
	n := HalfSize(len(f))
	dst = dst[:n]
	for i := range n {
		dst[i] = Point{Index: i, Magnitude: cmplx.Abs(f[i])}
	}
	return dst
}

// HalfSize is the number of distinct bins in the spectrum of a real signal
// of length n.
func HalfSize(n int) int {
	if n == 0 {
		return 0
	}
	return n/2 + 1
}

// Peak returns the index and magnitude of the loudest point.
func Peak(points []Point) (int, float64) {
	idx, peak := 0, 0.0
	for _, p := range points {
		if p.Magnitude > peak {
			idx, peak = p.Index, p.Magnitude
		}
	}
	return idx, peak
}
