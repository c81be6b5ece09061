// SPDX-License-Identifier: MIT
package sink

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVConfig describes the file written by a WAV sink.
type WAVConfig struct {
	Path       string
	SampleRate int
	Channels   int
	BitDepth   int     // 16, 24 or 32.
	Gain       float64 // Applied before clamping to [-1, 1].
}

// WAV records reconstructed frames to a PCM WAV file.
type WAV struct {
	mu      sync.Mutex
	file    *os.File
	encoder *wav.Encoder
	buf     *audio.IntBuffer
	gain    float64
	scale   float64
	frames  uint64
}

var _ SampleSink = (*WAV)(nil)

// NewWAV creates the file (and its directory) and writes the header.
func NewWAV(cfg WAVConfig) (*WAV, error) {
	switch cfg.BitDepth {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("unsupported WAV bit depth %d (use 16, 24 or 32)", cfg.BitDepth)
	}
	if cfg.SampleRate <= 0 || cfg.Channels <= 0 {
		return nil, fmt.Errorf("invalid WAV format: %d Hz, %d channels", cfg.SampleRate, cfg.Channels)
	}

	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create recording directory: %w", err)
		}
	}
	file, err := os.Create(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create WAV file: %w", err)
	}

	return &WAV{
		file:    file,
		encoder: wav.NewEncoder(file, cfg.SampleRate, cfg.BitDepth, cfg.Channels, 1),
		buf: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: cfg.Channels, SampleRate: cfg.SampleRate},
			SourceBitDepth: cfg.BitDepth,
		},
		gain:  cfg.Gain,
		scale: math.Exp2(float64(cfg.BitDepth-1)) - 1,
	}, nil
}

// WriteSamples scales, clamps and encodes one frame.
func (w *WAV) WriteSamples(samples []float32) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.encoder == nil {
		return fmt.Errorf("WAV sink closed")
	}

	if cap(w.buf.Data) < len(samples) {
		w.buf.Data = make([]int, len(samples))
	}
	w.buf.Data = w.buf.Data[:len(samples)]
	for i, s := range samples {
		v := math.Max(-1, math.Min(1, float64(s)*w.gain))
		w.buf.Data[i] = int(math.Round(v * w.scale))
	}

	if err := w.encoder.Write(w.buf); err != nil {
		return fmt.Errorf("failed to write WAV frame: %w", err)
	}
	w.frames++
	return nil
}

// Frames returns the number of frames written.
func (w *WAV) Frames() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frames
}

// Close finalises the header and closes the file.
func (w *WAV) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.encoder == nil {
		return nil
	}
	encErr := w.encoder.Close()
	fileErr := w.file.Close()
	w.encoder = nil

	if encErr != nil {
		return fmt.Errorf("failed to finalise WAV file: %w", encErr)
	}
	if fileErr != nil {
		return fmt.Errorf("failed to close WAV file: %w", fileErr)
	}
	return nil
}
