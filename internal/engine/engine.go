// SPDX-License-Identifier: MIT
/*
Package engine assembles a run from configuration: capture source, pipeline,
hand-off slot, consumer, sinks, metrics and the terminal renderer.

Lifecycle:
  - Startup: everything is built and validated before the first callback
  - Hot path: the capture source drives the pipeline; the consumer, metrics
    server and renderer run in an errgroup
  - Shutdown: cancellation stops the capture first, then the group drains and
    the sinks are flushed and closed by the consumer
*/
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"specgate/internal/analysis"
	"specgate/internal/audio"
	"specgate/internal/config"
	"specgate/internal/handoff"
	applog "specgate/internal/log"
	"specgate/internal/metrics"
	"specgate/internal/pipeline"
	"specgate/internal/sink"
	"specgate/internal/sink/udp"
	"specgate/internal/tui"
)

// Option customises an Engine.
type Option func(*Engine)

// WithSource replaces the PortAudio capture, mainly for tests.
func WithSource(src audio.Source) Option {
	return func(e *Engine) { e.source = src }
}

// WithSink adds a sink on top of the configured ones.
func WithSink(s any) Option {
	return func(e *Engine) { e.extra = append(e.extra, s) }
}

// Engine owns every component of a run.
type Engine struct {
	cfg *config.Config
	log *applog.Logger

	source   audio.Source
	slot     *handoff.Slot
	pipeline *pipeline.Pipeline
	consumer *pipeline.Consumer
	sinks    *sink.Multi
	extra    []any
	renderer *tui.Spectrum
	provider *metrics.Provider
	metrics  *metrics.Metrics
	ran      bool
}

// New builds a run from cfg. Unless WithSource is given, PortAudio must be
// initialised. Construction errors are fatal configuration errors.
func New(cfg *config.Config, logger *applog.Logger, opts ...Option) (*Engine, error) {
	e := &Engine{cfg: cfg, log: logger}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.build(); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) build() error {
	cfg, logger := e.cfg, e.log
	mode, err := pipeline.ParseMode(cfg.Pipeline.Mode)
	if err != nil {
		return err
	}
	size := cfg.Audio.FrameSize()
	e.slot = handoff.New(size)
	e.pipeline, err = pipeline.New(pipeline.Config{
		Size:      size,
		Radix:     cfg.Pipeline.Radix,
		Threshold: cfg.Pipeline.Threshold,
		Normalize: cfg.Pipeline.NormalizeInverse,
		Mode:      mode,
	}, e.slot)
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}

	if e.source == nil {
		capture, err := audio.NewCapture(audio.CaptureConfig{
			DeviceID:        cfg.Audio.InputDevice,
			Channels:        cfg.Audio.InputChannels,
			SampleRate:      cfg.Audio.SampleRate,
			FramesPerBuffer: cfg.Audio.FramesPerBuffer,
			LowLatency:      cfg.Audio.LowLatency,
			StallTimeout:    cfg.Audio.StallTimeout,
		})
		if err != nil {
			return err
		}
		logger.Component("capture").WithFields(logrus.Fields{
			"device":      capture.Device().Name,
			"sample_rate": cfg.Audio.SampleRate,
			"frame_size":  size,
		}).Info("Input device selected")
		e.source = capture
	}

	if err := e.buildSinks(mode); err != nil {
		return err
	}

	var recorder pipeline.Recorder
	if cfg.Metrics.Enabled {
		if e.provider, err = metrics.NewProvider(); err != nil {
			return fmt.Errorf("failed to create metrics provider: %w", err)
		}
		if e.metrics, err = metrics.NewMetrics(e.provider, e.pipeline); err != nil {
			return fmt.Errorf("failed to create metrics: %w", err)
		}
		recorder = e.metrics
	}

	e.consumer, err = pipeline.NewConsumer(e.slot, mode, e.sinks,
		pipeline.WithPollInterval(cfg.Pipeline.PollInterval),
		pipeline.WithLogger(logger.Component("consumer")),
		pipeline.WithRecorder(recorder),
		pipeline.WithStats(e.pipeline),
	)
	if err != nil {
		return err
	}

	logger.Component("engine").WithFields(logrus.Fields{
		"mode":      mode,
		"threshold": cfg.Pipeline.Threshold,
		"radix":     e.pipeline.Engine().Radix(),
		"normalize": cfg.Pipeline.NormalizeInverse,
		"sinks":     e.sinks.Len(),
	}).Info("Pipeline ready")
	return nil
}

// outputGain is the configured gain, or the inverse of the transform's
// round-trip gain when unset.
func (e *Engine) outputGain() float64 {
	if e.cfg.Sinks.OutputGain > 0 {
		return e.cfg.Sinks.OutputGain
	}
	return e.pipeline.OutputGain()
}

func (e *Engine) buildSinks(mode pipeline.Mode) error {
	cfg := e.cfg
	var members []any

	if cfg.Sinks.Log {
		var meter *analysis.BandMeter
		var opts []sink.LogOption
		if mode == pipeline.Spectrum {
			meter = analysis.NewBandMeter(cfg.Audio.FrameSize(), cfg.Audio.SampleRate, nil)
			transform := e.pipeline.Engine()
			opts = append(opts, sink.WithBinFrequency(func(bin int) float64 {
				return transform.FrequencyForBin(bin, cfg.Audio.SampleRate)
			}))
		}
		members = append(members, sink.NewLog(e.log.Component("sink.log"), meter, opts...))
	}
	if cfg.Sinks.TUI {
		e.renderer = tui.NewSpectrum(fmt.Sprintf("specgate • %s", mode))
		members = append(members, e.renderer)
	}
	if cfg.Sinks.WebSocketAddr != "" {
		ws, err := sink.NewWebSocket(cfg.Sinks.WebSocketAddr, e.log.Component("sink.websocket"))
		if err != nil {
			e.sinks = sink.NewMulti(members...)
			return fmt.Errorf("failed to start WebSocket sink: %w", err)
		}
		members = append(members, ws)
	}
	if cfg.Sinks.UDPTarget != "" {
		u, err := udp.NewSink(cfg.Sinks.UDPTarget, e.log.Component("sink.udp"))
		if err != nil {
			e.sinks = sink.NewMulti(members...)
			return fmt.Errorf("failed to start UDP sink: %w", err)
		}
		members = append(members, u)
	}
	if cfg.Sinks.WAVPath != "" {
		w, err := sink.NewWAV(sink.WAVConfig{
			Path:       cfg.Sinks.WAVPath,
			SampleRate: int(cfg.Audio.SampleRate),
			Channels:   cfg.Audio.InputChannels,
			BitDepth:   cfg.Sinks.WAVBitDepth,
			Gain:       e.outputGain(),
		})
		if err != nil {
			e.sinks = sink.NewMulti(members...)
			return err
		}
		members = append(members, w)
	}
	if cfg.Sinks.Playback {
		p, err := audio.NewPlayback(audio.PlaybackConfig{
			DeviceID:        cfg.Audio.OutputDevice,
			Channels:        cfg.Audio.InputChannels,
			SampleRate:      cfg.Audio.SampleRate,
			FramesPerBuffer: cfg.Audio.FramesPerBuffer,
			LowLatency:      cfg.Audio.LowLatency,
			Gain:            e.outputGain(),
		})
		if err != nil {
			e.sinks = sink.NewMulti(members...)
			return err
		}
		members = append(members, p)
	}
	members = append(members, e.extra...)

	e.sinks = sink.NewMulti(members...)
	if e.sinks.Len() == 0 {
		return errors.New("no sink configured")
	}
	if mode == pipeline.Reconstruct && !e.sinks.AcceptsSamples() {
		return errors.New("no configured sink accepts reconstructed frames")
	}
	if mode == pipeline.Spectrum && !e.sinks.AcceptsPoints() {
		return errors.New("no configured sink accepts spectrum frames")
	}
	return nil
}

// errUserQuit stops the group when the renderer is closed by the user.
var errUserQuit = errors.New("user quit")

// Run starts the consumer side, then the capture, and blocks until ctx is
// cancelled, the user quits the renderer or a component fails.
func (e *Engine) Run(ctx context.Context) error {
	elog := e.log.Component("engine")
	e.ran = true
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return e.consumer.Run(gctx) })

	if e.provider != nil {
		g.Go(func() error {
			return metrics.Serve(gctx, e.cfg.Metrics.Addr, e.provider.Handler(), e.log.Component("metrics"))
		})
	}
	if e.renderer != nil {
		// The renderer owns the terminal while it runs.
		restore := e.log.MuteConsole()
		g.Go(func() error {
			defer restore()
			err := e.renderer.Run(gctx)
			if errors.Is(err, tui.ErrQuit) {
				return errUserQuit
			}
			return err
		})
	}

	if err := e.source.Start(e.pipeline); err != nil {
		g.Go(func() error { return fmt.Errorf("failed to start capture: %w", err) })
		return e.drain(g, nil)
	}
	elog.Info("Capture started")

	<-gctx.Done()
	elog.Info("Stopping capture")
	stopErr := e.source.Stop()
	return e.drain(g, stopErr)
}

func (e *Engine) drain(g *errgroup.Group, stopErr error) error {
	err := g.Wait()
	if errors.Is(err, errUserQuit) {
		err = nil
	}
	st := e.pipeline.Stats()
	e.log.Component("engine").WithFields(logrus.Fields{
		"frames":     st.Frames,
		"delivered":  e.consumer.Delivered(),
		"superseded": e.consumer.Superseded(),
		"xruns":      st.Transient,
	}).Info("Run finished")
	return errors.Join(err, stopErr)
}

// Pipeline returns the producer, for inspection.
func (e *Engine) Pipeline() *pipeline.Pipeline { return e.pipeline }

// Consumer returns the consumer, for inspection.
func (e *Engine) Consumer() *pipeline.Consumer { return e.consumer }

// Close releases what Run does not: the metrics provider, and the sinks when
// Run never started (the consumer closes them otherwise).
func (e *Engine) Close() error {
	var errs []error
	if e.metrics != nil {
		errs = append(errs, e.metrics.Close())
	}
	if e.provider != nil {
		errs = append(errs, e.provider.Shutdown(context.Background()))
	}
	if e.sinks != nil && !e.ran {
		errs = append(errs, e.sinks.Close())
	}
	return errors.Join(errs...)
}
