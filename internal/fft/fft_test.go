// SPDX-License-Identifier: MIT
package fft

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"testing"

	"specgate/internal/frame"
	"specgate/pkg/utils"

	dspfft "github.com/mjibson/go-dsp/fft"
)

const (
	testFFTSize    = 1024
	testSampleRate = 44100
	tolerance      = 1e-9
)

func mustEngine(t testing.TB, size int, opts ...Option) *Engine {
	t.Helper()
	e, err := NewEngine(size, opts...)
	if err != nil {
		t.Fatalf("NewEngine(%d) error: %v", size, err)
	}
	return e
}

func assertFrame(t *testing.T, got, want frame.Frame, tol float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if cmplx.Abs(got[i]-want[i]) > tol {
			t.Errorf("bin %d = %v, want %v", i, got[i], want[i])
		}
	}
}

// Golden values for the four-point frame [1, 0, -1, 0]: all energy sits in
// bins 1 and 3, and the unnormalized round trip scales by 4.
func TestGoldenFourPoint(t *testing.T) {
	e := mustEngine(t, 4)
	in := frame.Frame{1, 0, -1, 0}

	spectrum := e.Forward(nil, in)
	assertFrame(t, spectrum, frame.Frame{0, 2, 0, 2}, 1e-12)

	out := e.Inverse(nil, spectrum)
	assertFrame(t, out, frame.Frame{4, 0, -4, 0}, 1e-12)
}

func TestGoldenFourPointWithNoise(t *testing.T) {
	e := mustEngine(t, 4)
	in := frame.Frame{1, 0.01, -1, 0.01}

	spectrum := e.Forward(nil, in)
	assertFrame(t, spectrum, frame.Frame{0.02, 2, -0.02, 2}, 1e-12)
}

func TestRoundTripScalesByN(t *testing.T) {
	for _, size := range []int{4, 16, 64, 256, testFFTSize} {
		t.Run(fmt.Sprint(size), func(t *testing.T) {
			e := mustEngine(t, size)
			samples := utils.AddNoise(utils.GenerateComplexWave(size, testSampleRate), 0.05, uint64(size))
			in := frame.FromSamples(frame.New(size), samples)

			out := e.Inverse(nil, e.Forward(nil, in))

			want := make(frame.Frame, size)
			for i := range in {
				want[i] = in[i] * complex(float64(size), 0)
			}
			assertFrame(t, out, want, tolerance*float64(size))
			if e.RoundTripGain() != float64(size) {
				t.Errorf("RoundTripGain() = %v, want %d", e.RoundTripGain(), size)
			}
		})
	}
}

func TestRoundTripNormalized(t *testing.T) {
	e := mustEngine(t, 64, WithNormalize(true))
	if !e.Normalized() || e.RoundTripGain() != 1 {
		t.Fatalf("normalized engine reports gain %v", e.RoundTripGain())
	}

	in := frame.FromSamples(frame.New(64), utils.GenerateSineWave(64, 8000, 1000, 0.5))
	out := e.Inverse(nil, e.Forward(nil, in))
	assertFrame(t, out, in, tolerance)
}

func TestInPlace(t *testing.T) {
	e := mustEngine(t, 16)
	in := frame.FromSamples(frame.New(16), utils.GenerateSineWave(16, 16, 2, 1))
	want := e.Forward(nil, in)

	buf := append(frame.Frame(nil), in...)
	e.Forward(buf, buf)
	assertFrame(t, buf, want, tolerance)
}

// Cross-checks against an independent FFT implementation. go-dsp normalizes
// its inverse, so its result is scaled back by N before comparing.
func TestMatchesReferenceImplementation(t *testing.T) {
	for _, size := range []int{16, 256, testFFTSize} {
		t.Run(fmt.Sprint(size), func(t *testing.T) {
			e := mustEngine(t, size)
			in := frame.FromSamples(frame.New(size),
				utils.AddNoise(utils.GenerateComplexWave(size, testSampleRate), 0.1, 3))

			got := e.Forward(nil, in)
			want := dspfft.FFT([]complex128(in))
			assertFrame(t, got, want, 1e-8)

			gotInv := e.Inverse(nil, got)
			wantInv := dspfft.IFFT(want)
			for i := range wantInv {
				wantInv[i] *= complex(float64(size), 0)
			}
			assertFrame(t, gotInv, wantInv, 1e-7)
		})
	}
}

func TestNewEngineRejectsSizes(t *testing.T) {
	tests := []struct {
		name  string
		size  int
		radix int
		ok    bool
	}{
		{"Radix4/1024", 1024, 4, true},
		{"Radix4/4", 4, 4, true},
		{"Radix4/512", 512, 4, false},
		{"Radix4/1000", 1000, 4, false},
		{"Radix4/0", 0, 4, false},
		{"Radix2/512", 512, 2, true},
		{"Radix2/1000", 1000, 2, false},
		{"Radix3/27", 27, 3, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := NewEngine(tt.size, WithRadix(tt.radix))
			if tt.ok {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if e.Size() != tt.size || e.Radix() != tt.radix {
					t.Errorf("engine = (%d, %d), want (%d, %d)", e.Size(), e.Radix(), tt.size, tt.radix)
				}
				return
			}
			if !errors.Is(err, ErrFrameSize) {
				t.Errorf("error = %v, want ErrFrameSize", err)
			}
			if e != nil {
				t.Errorf("expected nil engine on error")
			}
		})
	}
}

func TestWrongLengthPanics(t *testing.T) {
	e := mustEngine(t, 16)

	tests := []struct {
		name string
		fn   func()
	}{
		{"Forward short source", func() { e.Forward(nil, frame.New(8)) }},
		{"Forward long destination", func() { e.Forward(frame.New(32), frame.New(16)) }},
		{"Inverse short source", func() { e.Inverse(nil, frame.New(4)) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				r := recover()
				err, ok := r.(error)
				if !ok || !errors.Is(err, ErrFrameSize) {
					t.Errorf("recovered %v, want ErrFrameSize panic", r)
				}
			}()
			tt.fn()
		})
	}
}

func TestFrequencyForBin(t *testing.T) {
	e := mustEngine(t, testFFTSize)
	tests := []struct {
		bin  int
		want float64
	}{
		{0, 0},
		{1, testSampleRate / float64(testFFTSize)},
		{testFFTSize / 2, testSampleRate / 2},
		{testFFTSize/2 + 1, 0},
		{-1, 0},
	}
	for _, tt := range tests {
		if got := e.FrequencyForBin(tt.bin, testSampleRate); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("FrequencyForBin(%d) = %v, want %v", tt.bin, got, tt.want)
		}
	}
}

func TestTransformHotPath(t *testing.T) {
	e := mustEngine(t, testFFTSize)
	in := frame.FromSamples(frame.New(testFFTSize), utils.GenerateComplexWave(testFFTSize, testSampleRate))
	spectrum := frame.New(testFFTSize)
	out := frame.New(testFFTSize)

	// Warm-up call.
	e.Inverse(out, e.Forward(spectrum, in))
	allocs := testing.AllocsPerRun(100, func() {
		e.Forward(spectrum, in)
		e.Inverse(out, spectrum)
	})

	if allocs > 0 {
		t.Errorf("Expected zero allocations in transform hot path, got %.1f", allocs)
	}
}

func BenchmarkForwardInverse(b *testing.B) {
	e := mustEngine(b, testFFTSize)
	in := frame.FromSamples(frame.New(testFFTSize), utils.GenerateComplexWave(testFFTSize, testSampleRate))
	spectrum := frame.New(testFFTSize)
	out := frame.New(testFFTSize)

	b.ReportAllocs()

	for b.Loop() {
		e.Forward(spectrum, in)
		e.Inverse(out, spectrum)
	}
}
