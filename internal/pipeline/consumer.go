// SPDX-License-Identifier: MIT
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"specgate/internal/frame"
	"specgate/internal/handoff"
	"specgate/internal/sink"
)

const (
	// DefaultPollInterval bounds how long the consumer sleeps without a wake-up.
	DefaultPollInterval = 20 * time.Millisecond

	// MaxConsecutiveSinkFailures stops the consumer after this many sink
	// errors in a row.
	MaxConsecutiveSinkFailures = 5
)

// ErrSinkFailed is returned by Run once the sink has failed
// MaxConsecutiveSinkFailures times in a row.
var ErrSinkFailed = errors.New("sink failed repeatedly")

// Recorder receives consumer-side events, typically to update metrics.
type Recorder interface {
	FrameDelivered(ctx context.Context, stats Stats)
	FramesSuperseded(ctx context.Context, n uint64)
	SinkFailed(ctx context.Context)
	StreamDegraded(ctx context.Context, err error)
}

type nopRecorder struct{}

func (nopRecorder) FrameDelivered(context.Context, Stats)  {}
func (nopRecorder) FramesSuperseded(context.Context, uint64) {}
func (nopRecorder) SinkFailed(context.Context)              {}
func (nopRecorder) StreamDegraded(context.Context, error)   {}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithPollInterval sets the longest sleep between slot checks.
func WithPollInterval(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if d > 0 {
			c.poll = d
		}
	}
}

// WithLogger sets the log entry for consumer events.
func WithLogger(entry *logrus.Entry) ConsumerOption {
	return func(c *Consumer) { c.log = entry }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) ConsumerOption {
	return func(c *Consumer) {
		if r != nil {
			c.rec = r
		}
	}
}

// WithStats attaches the producer's statistics to delivery events.
func WithStats(s StatsSource) ConsumerOption {
	return func(c *Consumer) { c.stats = s }
}

// Consumer moves frames from the hand-off slot to a sink. It never blocks the
// producer: it only ever copies the slot's latest frame.
type Consumer struct {
	slot    *handoff.Slot
	mode    Mode
	samples sink.SampleSink
	points  sink.PointSink
	out     any

	poll  time.Duration
	log   *logrus.Entry
	rec   Recorder
	stats StatsSource

	buf  frame.Frame
	real []float32
	pts  []frame.Point

	lastSeq    uint64
	failures   int
	delivered  atomic.Uint64
	superseded atomic.Uint64
	sinkErrors atomic.Uint64

	mu       sync.Mutex
	degraded error
}

// NewConsumer returns a consumer delivering frames of the given mode to out.
// out must be a sink.SampleSink in Reconstruct mode and a sink.PointSink in
// Spectrum mode.
func NewConsumer(slot *handoff.Slot, mode Mode, out any, opts ...ConsumerOption) (*Consumer, error) {
	if slot == nil {
		return nil, errors.New("consumer: nil hand-off slot")
	}
	c := &Consumer{
		slot: slot,
		mode: mode,
		out:  out,
		poll: DefaultPollInterval,
		rec:  nopRecorder{},
		buf:  frame.New(slot.Size()),
	}

	switch mode {
	case Reconstruct:
		s, ok := out.(sink.SampleSink)
		if !ok {
			return nil, fmt.Errorf("consumer: %T cannot accept reconstructed frames", out)
		}
		c.samples = s
		c.real = make([]float32, slot.Size())
	case Spectrum:
		s, ok := out.(sink.PointSink)
		if !ok {
			return nil, fmt.Errorf("consumer: %T cannot accept spectrum frames", out)
		}
		c.points = s
		c.pts = make([]frame.Point, frame.HalfSize(slot.Size()))
	default:
		return nil, fmt.Errorf("consumer: invalid mode %v", mode)
	}

	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		c.log = logrus.NewEntry(l)
	}
	return c, nil
}

// Run delivers frames until ctx is cancelled or the sink fails
// MaxConsecutiveSinkFailures times in a row. The sink is flushed and closed
// before Run returns. Cancellation is a clean stop and returns nil.
func (c *Consumer) Run(ctx context.Context) (err error) {
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()
	defer func() {
		if cerr := c.finish(); err == nil {
			err = cerr
		}
	}()

	c.log.WithFields(logrus.Fields{"mode": c.mode, "poll": c.poll}).Info("Consumer started")
	for {
		select {
		case <-ctx.Done():
			c.log.WithFields(logrus.Fields{
				"delivered":  c.delivered.Load(),
				"superseded": c.superseded.Load(),
			}).Info("Consumer stopping")
			return nil
		case <-c.slot.Ready():
		case <-ticker.C:
		}

		if err := c.step(ctx); err != nil {
			return err
		}
	}
}

// step handles one wake-up: it reports stream state changes and forwards the
// slot's frame if it has not been delivered yet.
func (c *Consumer) step(ctx context.Context) error {
	snap := c.slot.Snapshot(c.buf)
	c.observeStream(ctx, snap.Err)

	if !snap.OK || snap.Seq == c.lastSeq {
		return nil
	}
	if missed := snap.Seq - c.lastSeq - 1; missed > 0 {
		c.superseded.Add(missed)
		c.rec.FramesSuperseded(ctx, missed)
	}
	c.lastSeq = snap.Seq

	if err := c.deliver(snap.Frame); err != nil {
		c.failures++
		c.sinkErrors.Add(1)
		c.rec.SinkFailed(ctx)
		c.log.WithError(err).WithFields(logrus.Fields{
			"seq":      snap.Seq,
			"failures": c.failures,
		}).Warn("Sink write failed")
		if c.failures >= MaxConsecutiveSinkFailures {
			return fmt.Errorf("%w: %d consecutive failures, last: %w", ErrSinkFailed, c.failures, err)
		}
		return nil
	}

	c.failures = 0
	c.delivered.Add(1)
	var stats Stats
	if c.stats != nil {
		stats = c.stats.Stats()
		c.log.WithFields(logrus.Fields{
			"seq":        snap.Seq,
			"level_dbfs": stats.LevelDBFS,
			"took":       stats.LastDuration,
		}).Debug("Frame delivered")
	}
	c.rec.FrameDelivered(ctx, stats)
	return nil
}

func (c *Consumer) deliver(f frame.Frame) error {
	if c.mode == Reconstruct {
		return c.samples.WriteSamples(frame.Real(c.real, f))
	}
	return c.points.WritePoints(frame.Points(c.pts, f))
}

// observeStream logs a degraded stream once per distinct error and logs the
// recovery once frames flow again.
func (c *Consumer) observeStream(ctx context.Context, err error) {
	c.mu.Lock()
	prev := c.degraded
	c.degraded = err
	c.mu.Unlock()

	switch {
	case err != nil && err != prev:
		c.rec.StreamDegraded(ctx, err)
		c.log.WithError(err).Error("Audio stream degraded")
	case err == nil && prev != nil:
		c.log.Info("Audio stream recovered")
	}
}

func (c *Consumer) finish() error {
	var errs []error
	if f, ok := c.out.(sink.Flusher); ok {
		if err := f.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("flush sink: %w", err))
		}
	}
	if cl, ok := c.out.(io.Closer); ok {
		if err := cl.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sink: %w", err))
		}
	}
	err := errors.Join(errs...)
	if err != nil {
		c.log.WithError(err).Error("Sink shutdown failed")
	}
	return err
}

// Degraded returns the stream error last seen by the consumer, or nil.
func (c *Consumer) Degraded() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}

// Delivered returns the number of frames handed to the sink successfully.
func (c *Consumer) Delivered() uint64 { return c.delivered.Load() }

// Superseded returns the number of frames replaced in the slot before the
// consumer could take them.
func (c *Consumer) Superseded() uint64 { return c.superseded.Load() }

// SinkErrors returns the total number of failed sink writes.
func (c *Consumer) SinkErrors() uint64 { return c.sinkErrors.Load() }
