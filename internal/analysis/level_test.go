// SPDX-License-Identifier: MIT
package analysis

import (
	"math"
	"testing"

	"specgate/internal/frame"
	"specgate/pkg/utils"
)

func TestLevel(t *testing.T) {
	tests := []struct {
		name    string
		samples []float32
		want    float64
	}{
		{"Empty", nil, SilenceDBFS},
		{"Silence", make([]float32, 64), SilenceDBFS},
		{"Full scale DC", []float32{1, 1, 1, 1}, 0},
		{"Full scale square", []float32{1, -1, 1, -1}, 0},
		{"Half scale", []float32{0.5, -0.5, 0.5, -0.5}, 20 * math.Log10(0.5)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Level(tt.samples, make([]float64, len(tt.samples)))
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Level() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLevelSine(t *testing.T) {
	// A full-scale sine has an RMS of 1/sqrt(2), about -3.01 dBFS.
	sine := utils.GenerateSineWave(4096, 44100, 1000, 1.0)
	got := Level(sine, make([]float64, len(sine)))
	if math.Abs(got-(-3.0103)) > 0.05 {
		t.Errorf("Level(sine) = %.3f dBFS, want about -3.01", got)
	}
}

func TestToDBFS(t *testing.T) {
	if got := ToDBFS(0); got != SilenceDBFS {
		t.Errorf("ToDBFS(0) = %v", got)
	}
	if got := ToDBFS(math.NaN()); got != SilenceDBFS {
		t.Errorf("ToDBFS(NaN) = %v", got)
	}
	if got := ToDBFS(1e-12); got != SilenceDBFS {
		t.Errorf("ToDBFS(1e-12) = %v, want floor", got)
	}
	if got := ToDBFS(0.1); math.Abs(got+20) > 1e-9 {
		t.Errorf("ToDBFS(0.1) = %v, want -20", got)
	}
}

func TestLevelHotPath(t *testing.T) {
	samples := utils.GenerateComplexWave(1024, 44100)
	scratch := make([]float64, len(samples))

	allocs := testing.AllocsPerRun(100, func() {
		_ = Level(samples, scratch)
	})
	if allocs > 0 {
		t.Errorf("Expected zero allocations in Level, got %.1f", allocs)
	}
}

func TestBandMeter(t *testing.T) {
	const (
		size       = 1024
		sampleRate = 44100.0
	)
	meter := NewBandMeter(size, sampleRate, nil)
	if len(meter.Bands()) != len(DefaultBands) {
		t.Fatalf("got %d bands", len(meter.Bands()))
	}

	// A single strong bin at ~1 kHz lands in "mid" only.
	binPos := 1000 * size / sampleRate
	bin := int(binPos)
	points := make([]frame.Point, frame.HalfSize(size))
	for i := range points {
		points[i].Index = i
	}
	points[bin].Magnitude = 10

	levels := meter.Measure(make([]float64, len(DefaultBands)), points)
	for i, band := range meter.Bands() {
		if band.Name == "mid" {
			if levels[i] <= 0 {
				t.Errorf("mid band level = %v, want > 0", levels[i])
			}
			continue
		}
		if levels[i] != 0 {
			t.Errorf("%s band level = %v, want 0", band.Name, levels[i])
		}
	}
}

func TestBandMeterIgnoresOutOfRangePoints(t *testing.T) {
	meter := NewBandMeter(16, 44100, []Band{{Name: "all", LowHz: 0, HighHz: math.Inf(1)}})
	points := []frame.Point{{Index: -1, Magnitude: 5}, {Index: 100, Magnitude: 5}, {Index: 0, Magnitude: 3}}

	levels := meter.Measure(make([]float64, 1), points)
	want := math.Sqrt(9.0 / float64(frame.HalfSize(16)))
	if math.Abs(levels[0]-want) > 1e-12 {
		t.Errorf("level = %v, want %v", levels[0], want)
	}
}

func BenchmarkLevel(b *testing.B) {
	samples := utils.GenerateComplexWave(1024, 44100)
	scratch := make([]float64, len(samples))
	for b.Loop() {
		_ = Level(samples, scratch)
	}
}
