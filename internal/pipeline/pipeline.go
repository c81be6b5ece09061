// SPDX-License-Identifier: MIT
/*
Package pipeline turns captured sample buffers into published frames and
delivers them to sinks.

Two execution contexts meet here:
  - Pipeline runs inside the capture callback: forward transform, gate,
    optional inverse transform, publish to the hand-off slot
  - Consumer runs on its own goroutine: takes the freshest frame from the slot
    and hands it to a sink

The hand-off slot is the only state they share. Pipeline statistics are atomics
written by the callback and read from anywhere.
*/
package pipeline

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"specgate/internal/analysis"
	"specgate/internal/audio"
	"specgate/internal/fft"
	"specgate/internal/frame"
	"specgate/internal/gate"
	"specgate/internal/handoff"
)

// Mode selects what the pipeline publishes.
type Mode int

const (
	// Reconstruct publishes the gated frame transformed back to the time domain.
	Reconstruct Mode = iota
	// Spectrum publishes the gated spectrum itself.
	Spectrum
)

func (m Mode) String() string {
	switch m {
	case Reconstruct:
		return "reconstruct"
	case Spectrum:
		return "spectrum"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode converts a mode name (case-insensitive) to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "reconstruct", "":
		return Reconstruct, nil
	case "spectrum":
		return Spectrum, nil
	default:
		return Reconstruct, fmt.Errorf("unknown pipeline mode %q (use reconstruct or spectrum)", s)
	}
}

// ErrFrameLength is reported when a capture buffer does not have the
// configured frame size.
var ErrFrameLength = errors.New("pipeline: captured buffer length does not match frame size")

// Config describes a pipeline.
type Config struct {
	Size      int            // Samples per frame; must be a power of Radix.
	Radix     int            // 2 or 4; zero selects fft.DefaultRadix.
	Threshold gate.Threshold // Gate cutoff; zero disables the gate.
	Normalize bool           // Apply 1/N on the inverse transform.
	Mode      Mode
}

// Stats is a point-in-time copy of the pipeline counters.
type Stats struct {
	Frames       uint64        // Frames processed and published.
	GatedBins    uint64        // Bins zeroed by the gate, summed over all frames.
	Transient    uint64        // Input overflows and underflows.
	StreamErrors uint64        // Errors that degraded the stream.
	Rejected     uint64        // Buffers dropped for having the wrong length.
	LevelDBFS    float64       // Input level of the most recent frame.
	LastDuration time.Duration // Processing time of the most recent frame.
	LastSeq      uint64        // Capture sequence of the most recent frame.
}

// StatsSource is anything that can report pipeline statistics.
type StatsSource interface {
	Stats() Stats
}

// Pipeline is the producer side: it implements audio.Handler.
//
// Performance Critical:
//   - OnFrame runs in the capture callback
//   - All buffers are allocated in New; the hot path allocates nothing
type Pipeline struct {
	cfg    Config
	engine *fft.Engine
	slot   *handoff.Slot

	work  frame.Frame // Transform workspace, reused for every frame.
	level []float64   // Widened samples for the level meter.

	frames    atomic.Uint64
	gated     atomic.Uint64
	transient atomic.Uint64
	streamErr atomic.Uint64
	rejected  atomic.Uint64
	levelBits atomic.Uint64
	lastNanos atomic.Int64
	lastSeq   atomic.Uint64
}

var (
	_ audio.Handler = (*Pipeline)(nil)
	_ StatsSource   = (*Pipeline)(nil)
)

// New builds the transform engine and the workspace. A frame size the engine
// cannot handle is returned as an error wrapping fft.ErrFrameSize; a slot of
// another size is rejected as well.
func New(cfg Config, slot *handoff.Slot) (*Pipeline, error) {
	if err := cfg.Threshold.Validate(); err != nil {
		return nil, err
	}
	if cfg.Mode != Reconstruct && cfg.Mode != Spectrum {
		return nil, fmt.Errorf("pipeline: invalid mode %v", cfg.Mode)
	}
	if cfg.Radix == 0 {
		cfg.Radix = fft.DefaultRadix
	}

	engine, err := fft.NewEngine(cfg.Size, fft.WithRadix(cfg.Radix), fft.WithNormalize(cfg.Normalize))
	if err != nil {
		return nil, err
	}
	if slot == nil {
		return nil, errors.New("pipeline: nil hand-off slot")
	}
	if slot.Size() != cfg.Size {
		return nil, fmt.Errorf("pipeline: slot size %d does not match frame size %d", slot.Size(), cfg.Size)
	}

	p := &Pipeline{
		cfg:    cfg,
		engine: engine,
		slot:   slot,
		work:   frame.New(cfg.Size),
		level:  make([]float64, cfg.Size),
	}
	p.levelBits.Store(math.Float64bits(analysis.SilenceDBFS))
	return p, nil
}

// Config returns the effective configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Engine returns the transform engine.
func (p *Pipeline) Engine() *fft.Engine { return p.engine }

// OutputGain is the factor that brings a reconstructed frame back to the
// input scale.
func (p *Pipeline) OutputGain() float64 {
	return 1 / p.engine.RoundTripGain()
}

// Process runs one buffer through the pipeline and publishes the result.
// It returns ErrFrameLength, without publishing, for a buffer of the wrong
// size.
func (p *Pipeline) Process(samples []float32) error {
	if len(samples) != p.cfg.Size {
		p.rejected.Add(1)
		return ErrFrameLength
	}
	start := time.Now()

	level := analysis.Level(samples, p.level)

	frame.FromSamples(p.work, samples)
	p.engine.Forward(p.work, p.work)
	gated := gate.Apply(p.work, p.cfg.Threshold)
	if p.cfg.Mode == Reconstruct {
		p.engine.Inverse(p.work, p.work)
	}
	p.slot.Publish(p.work)

	p.frames.Add(1)
	p.gated.Add(uint64(gated))
	p.levelBits.Store(math.Float64bits(level))
	p.lastNanos.Store(int64(time.Since(start)))
	return nil
}

// OnFrame implements audio.Handler.
func (p *Pipeline) OnFrame(samples []float32, info audio.FrameInfo) {
	p.lastSeq.Store(info.Seq)
	if err := p.Process(samples); err != nil {
		p.slot.Degrade(err)
	}
}

// OnError implements audio.Handler. Overflows and underflows are counted;
// anything else marks the stream degraded until the next frame is published.
func (p *Pipeline) OnError(err error) {
	if err == nil {
		return
	}
	if audio.IsTransient(err) {
		p.transient.Add(1)
		return
	}
	p.streamErr.Add(1)
	p.slot.Degrade(err)
}

// Stats returns a copy of the counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Frames:       p.frames.Load(),
		GatedBins:    p.gated.Load(),
		Transient:    p.transient.Load(),
		StreamErrors: p.streamErr.Load(),
		Rejected:     p.rejected.Load(),
		LevelDBFS:    math.Float64frombits(p.levelBits.Load()),
		LastDuration: time.Duration(p.lastNanos.Load()),
		LastSeq:      p.lastSeq.Load(),
	}
}
