// SPDX-License-Identifier: MIT
/*
Package metrics exposes pipeline and consumer counters through the
OpenTelemetry Metrics API.

Producer-side values are never recorded from the capture callback. The
pipeline keeps plain atomics and the observable instruments read them when a
reader collects. Consumer-side events use synchronous instruments because the
consumer loop may block.
*/
package metrics

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"specgate/internal/audio"
	"specgate/internal/pipeline"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "specgate"

// durationBuckets are histogram boundaries in seconds sized for per-frame
// transform work.
var durationBuckets = []float64{
	0.00001, 0.000025, 0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01,
}

// Metrics holds the instruments. It implements pipeline.Recorder.
type Metrics struct {
	// FramesDelivered counts frames handed to the sink successfully.
	FramesDelivered metric.Int64Counter

	// FramesSuperseded counts frames overwritten in the hand-off slot before
	// the consumer took them.
	FramesSuperseded metric.Int64Counter

	// SinkErrors counts failed sink writes.
	SinkErrors metric.Int64Counter

	// StreamErrors counts degraded-stream reports by kind.
	StreamErrors metric.Int64Counter

	// ProcessDuration samples the producer's per-frame processing time.
	ProcessDuration metric.Float64Histogram

	framesProcessed metric.Int64ObservableCounter
	gatedBins       metric.Int64ObservableCounter
	xruns           metric.Int64ObservableCounter
	rejected        metric.Int64ObservableCounter
	inputLevel      metric.Float64ObservableGauge
	registration    metric.Registration
}

var _ pipeline.Recorder = (*Metrics)(nil)

// NewMetrics creates the instruments on mp. When src is non-nil the producer
// counters are observed from it at collection time.
func NewMetrics(mp metric.MeterProvider, src pipeline.StatsSource) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesDelivered, err = m.Int64Counter("specgate.frames.delivered",
		metric.WithDescription("Frames delivered to the sink."),
	); err != nil {
		return nil, err
	}
	if met.FramesSuperseded, err = m.Int64Counter("specgate.frames.superseded",
		metric.WithDescription("Frames replaced in the hand-off slot before delivery."),
	); err != nil {
		return nil, err
	}
	if met.SinkErrors, err = m.Int64Counter("specgate.sink.errors",
		metric.WithDescription("Failed sink writes."),
	); err != nil {
		return nil, err
	}
	if met.StreamErrors, err = m.Int64Counter("specgate.stream.errors",
		metric.WithDescription("Audio stream degradations by kind."),
	); err != nil {
		return nil, err
	}
	if met.ProcessDuration, err = m.Float64Histogram("specgate.process.duration",
		metric.WithDescription("Time to transform, gate and publish one frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	); err != nil {
		return nil, err
	}

	if src == nil {
		return met, nil
	}

	if met.framesProcessed, err = m.Int64ObservableCounter("specgate.frames.processed",
		metric.WithDescription("Frames processed by the capture callback."),
	); err != nil {
		return nil, err
	}
	if met.gatedBins, err = m.Int64ObservableCounter("specgate.gate.bins",
		metric.WithDescription("Frequency bins zeroed by the noise gate."),
	); err != nil {
		return nil, err
	}
	if met.xruns, err = m.Int64ObservableCounter("specgate.capture.xruns",
		metric.WithDescription("Input overflows and underflows."),
	); err != nil {
		return nil, err
	}
	if met.rejected, err = m.Int64ObservableCounter("specgate.capture.rejected",
		metric.WithDescription("Captured buffers dropped for a wrong length."),
	); err != nil {
		return nil, err
	}
	if met.inputLevel, err = m.Float64ObservableGauge("specgate.input.level",
		metric.WithDescription("RMS level of the most recent input frame."),
		metric.WithUnit("dBFS"),
	); err != nil {
		return nil, err
	}

	met.registration, err = m.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		st := src.Stats()
		o.ObserveInt64(met.framesProcessed, int64(st.Frames))
		o.ObserveInt64(met.gatedBins, int64(st.GatedBins))
		o.ObserveInt64(met.xruns, int64(st.Transient))
		o.ObserveInt64(met.rejected, int64(st.Rejected))
		o.ObserveFloat64(met.inputLevel, st.LevelDBFS)
		return nil
	}, met.framesProcessed, met.gatedBins, met.xruns, met.rejected, met.inputLevel)
	if err != nil {
		return nil, err
	}
	return met, nil
}

// FrameDelivered implements pipeline.Recorder.
func (m *Metrics) FrameDelivered(ctx context.Context, st pipeline.Stats) {
	m.FramesDelivered.Add(ctx, 1)
	if st.Frames > 0 {
		m.ProcessDuration.Record(ctx, st.LastDuration.Seconds())
	}
}

// FramesSuperseded implements pipeline.Recorder.
func (m *Metrics) FramesSuperseded(ctx context.Context, n uint64) {
	m.FramesSuperseded.Add(ctx, int64(n))
}

// SinkFailed implements pipeline.Recorder.
func (m *Metrics) SinkFailed(ctx context.Context) {
	m.SinkErrors.Add(ctx, 1)
}

// StreamDegraded implements pipeline.Recorder.
func (m *Metrics) StreamDegraded(ctx context.Context, err error) {
	m.StreamErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", streamErrorKind(err))))
}

// Close stops observing the pipeline.
func (m *Metrics) Close() error {
	if m.registration == nil {
		return nil
	}
	return m.registration.Unregister()
}

func streamErrorKind(err error) string {
	switch {
	case errors.Is(err, audio.ErrStreamStalled):
		return "stalled"
	case errors.Is(err, pipeline.ErrFrameLength):
		return "frame_length"
	case audio.IsTransient(err):
		return "xrun"
	default:
		return "other"
	}
}
