// SPDX-License-Identifier: MIT
package pipeline

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"specgate/internal/audio"
	"specgate/internal/fft"
	"specgate/internal/frame"
	"specgate/internal/gate"
	"specgate/internal/handoff"
	"specgate/pkg/utils"
)

const tolerance = 1e-9

func newPipeline(t *testing.T, cfg Config) (*Pipeline, *handoff.Slot) {
	t.Helper()
	slot := handoff.New(cfg.Size)
	p, err := New(cfg, slot)
	require.NoError(t, err)
	return p, slot
}

// take snapshots the slot into a fresh frame.
func take(slot *handoff.Slot) handoff.Snapshot {
	return slot.Snapshot(frame.New(slot.Size()))
}

func assertFrame(t *testing.T, want []complex128, got frame.Frame) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		assert.InDelta(t, real(want[i]), real(got[i]), tolerance, "bin %d real", i)
		assert.InDelta(t, imag(want[i]), imag(got[i]), tolerance, "bin %d imag", i)
	}
}

func TestGoldenReconstruction(t *testing.T) {
	p, slot := newPipeline(t, Config{Size: 4, Threshold: 0.1, Mode: Reconstruct})

	require.NoError(t, p.Process([]float32{1, 0, -1, 0}))

	snap := take(slot)
	require.True(t, snap.OK)
	assert.Equal(t, uint64(1), snap.Seq)
	assertFrame(t, []complex128{4, 0, -4, 0}, snap.Frame)
}

func TestGoldenSpectrum(t *testing.T) {
	p, slot := newPipeline(t, Config{Size: 4, Threshold: 0.1, Mode: Spectrum})

	require.NoError(t, p.Process([]float32{1, 0, -1, 0}))

	snap := take(slot)
	assertFrame(t, []complex128{0, 2, 0, 2}, snap.Frame)
}

func TestGoldenNoiseIsGated(t *testing.T) {
	p, slot := newPipeline(t, Config{Size: 4, Threshold: 0.1, Mode: Reconstruct})

	require.NoError(t, p.Process([]float32{1, 0.01, -1, 0.01}))

	assertFrame(t, []complex128{4, 0, -4, 0}, take(slot).Frame)
	assert.Equal(t, uint64(2), p.Stats().GatedBins, "the two ±0.02 bins are gated")
}

func TestThresholdZeroRoundTripScalesByN(t *testing.T) {
	const n = 64
	p, slot := newPipeline(t, Config{Size: n, Threshold: 0, Mode: Reconstruct})

	in := utils.GenerateComplexWave(n, 44100)
	require.NoError(t, p.Process(in))

	got := take(slot).Frame
	for i, s := range in {
		assert.InDelta(t, n*float64(s), real(got[i]), 1e-6, "sample %d", i)
		assert.InDelta(t, 0, imag(got[i]), 1e-6, "sample %d", i)
	}
	assert.Equal(t, float64(1)/n, p.OutputGain())
}

func TestNormalizedRoundTripIsIdentity(t *testing.T) {
	const n = 16
	p, slot := newPipeline(t, Config{Size: n, Radix: 2, Normalize: true, Mode: Reconstruct})

	in := utils.GenerateSineWave(n, 8000, 1000, 0.5)
	require.NoError(t, p.Process(in))

	got := take(slot).Frame
	for i, s := range in {
		assert.InDelta(t, float64(s), real(got[i]), 1e-6, "sample %d", i)
	}
	assert.Equal(t, 1.0, p.OutputGain())
}

func TestGateNeverChangesLength(t *testing.T) {
	for _, mode := range []Mode{Reconstruct, Spectrum} {
		p, slot := newPipeline(t, Config{Size: 256, Threshold: 1e9, Mode: mode})
		require.NoError(t, p.Process(utils.GenerateComplexWave(256, 44100)))

		snap := take(slot)
		assert.Len(t, snap.Frame, 256, mode.String())
		for i, b := range snap.Frame {
			assert.Zero(t, b, "%s bin %d", mode, i)
		}
		assert.Equal(t, uint64(256), p.Stats().GatedBins)
	}
}

func TestProcessRejectsWrongLength(t *testing.T) {
	p, slot := newPipeline(t, Config{Size: 4, Mode: Reconstruct})

	err := p.Process([]float32{1, 2, 3})
	assert.ErrorIs(t, err, ErrFrameLength)
	assert.False(t, take(slot).OK, "nothing may be published")
	assert.Equal(t, uint64(1), p.Stats().Rejected)
	assert.Zero(t, p.Stats().Frames)

	p.OnFrame([]float32{1, 2, 3, 4, 5}, audio.FrameInfo{Seq: 1})
	assert.ErrorIs(t, take(slot).Err, ErrFrameLength)
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name   string
		cfg    Config
		slot   *handoff.Slot
		target error
	}{
		{"Not a power of four", Config{Size: 8}, handoff.New(8), fft.ErrFrameSize},
		{"Not a power of two", Config{Size: 12, Radix: 2}, handoff.New(12), fft.ErrFrameSize},
		{"Unsupported radix", Config{Size: 16, Radix: 3}, handoff.New(16), fft.ErrFrameSize},
		{"Slot size mismatch", Config{Size: 16}, handoff.New(64), nil},
		{"Nil slot", Config{Size: 16}, nil, nil},
		{"Negative threshold", Config{Size: 16, Threshold: -1}, handoff.New(16), nil},
		{"Invalid mode", Config{Size: 16, Mode: Mode(7)}, handoff.New(16), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, tt.slot)
			require.Error(t, err)
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
		})
	}

	p, err := New(Config{Size: 8, Radix: 2}, handoff.New(8))
	require.NoError(t, err)
	assert.Equal(t, 2, p.Engine().Radix())
	assert.Equal(t, gate.Threshold(0), p.Config().Threshold)
}

func TestOnError(t *testing.T) {
	p, slot := newPipeline(t, Config{Size: 4, Mode: Reconstruct})
	require.NoError(t, p.Process([]float32{1, 0, -1, 0}))

	p.OnError(nil)
	p.OnError(audio.ErrInputOverflow)
	assert.NoError(t, take(slot).Err, "overflows do not degrade the stream")
	assert.Equal(t, uint64(1), p.Stats().Transient)

	stall := errors.Join(audio.ErrStreamStalled)
	p.OnError(stall)
	snap := take(slot)
	assert.ErrorIs(t, snap.Err, audio.ErrStreamStalled)
	assert.True(t, snap.OK, "the last frame stays available")
	assert.Equal(t, uint64(1), p.Stats().StreamErrors)

	p.OnFrame([]float32{1, 0, -1, 0}, audio.FrameInfo{Seq: 9})
	assert.NoError(t, take(slot).Err, "a new frame clears the degraded state")
	assert.Equal(t, uint64(9), p.Stats().LastSeq)
}

func TestStatsLevel(t *testing.T) {
	p, _ := newPipeline(t, Config{Size: 4, Mode: Spectrum})
	assert.Equal(t, -120.0, p.Stats().LevelDBFS)

	require.NoError(t, p.Process([]float32{1, 0, -1, 0}))

	st := p.Stats()
	assert.InDelta(t, 20*math.Log10(math.Sqrt(0.5)), st.LevelDBFS, 1e-9)
	assert.Equal(t, uint64(1), st.Frames)
	assert.GreaterOrEqual(t, st.LastDuration.Nanoseconds(), int64(0))
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"reconstruct", Reconstruct, false},
		{"SPECTRUM", Spectrum, false},
		{"", Reconstruct, false},
		{"waterfall", Reconstruct, true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.wantErr, err != nil, tt.in)
	}
	assert.Equal(t, "spectrum", Spectrum.String())
	assert.Equal(t, "Mode(5)", Mode(5).String())
}

func TestProcessHotPath(t *testing.T) {
	for _, mode := range []Mode{Reconstruct, Spectrum} {
		p, _ := newPipeline(t, Config{Size: 1024, Threshold: gate.DefaultThreshold, Mode: mode})
		in := utils.GenerateComplexWave(1024, 44100)
		info := audio.FrameInfo{Seq: 1}

		allocs := testing.AllocsPerRun(100, func() {
			p.OnFrame(in, info)
		})
		if allocs > 0 {
			t.Errorf("%s: expected zero allocations in OnFrame, got %.1f", mode, allocs)
		}
	}
}

func BenchmarkProcess(b *testing.B) {
	slot := handoff.New(1024)
	p, err := New(Config{Size: 1024, Threshold: gate.DefaultThreshold}, slot)
	if err != nil {
		b.Fatal(err)
	}
	in := utils.AddNoise(utils.GenerateComplexWave(1024, 44100), 0.01, 1)

	for b.Loop() {
		_ = p.Process(in)
	}
}
