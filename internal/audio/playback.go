// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// PlaybackConfig describes the output stream.
type PlaybackConfig struct {
	DeviceID        int
	Channels        int
	SampleRate      float64
	FramesPerBuffer int
	LowLatency      bool
	Gain            float64 // Applied before clamping to [-1, 1].
}

// Playback replays reconstructed frames on an output device using a blocking
// PortAudio stream. WriteSamples blocks until the device accepts the buffer,
// so it must only be called from the consumer context.
type Playback struct {
	mu     sync.Mutex
	stream *portaudio.Stream
	buf    []float32
	gain   float32
}

// NewPlayback opens and starts the output stream.
func NewPlayback(cfg PlaybackConfig) (*Playback, error) {
	device, err := OutputDevice(cfg.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoOutputDevice, err)
	}
	if device.MaxOutputChannels < cfg.Channels {
		return nil, fmt.Errorf("%w: %s has %d output channels, %d requested",
			ErrNoOutputDevice, device.Name, device.MaxOutputChannels, cfg.Channels)
	}

	latency := device.DefaultHighOutputLatency
	if cfg.LowLatency {
		latency = device.DefaultLowOutputLatency
	}

	p := &Playback{
		buf:  make([]float32, cfg.FramesPerBuffer*cfg.Channels),
		gain: float32(cfg.Gain),
	}

	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Channels: cfg.Channels,
			Device:   device,
			Latency:  latency,
		},
		FramesPerBuffer: cfg.FramesPerBuffer,
		SampleRate:      cfg.SampleRate,
	}

	stream, err := portaudio.OpenStream(params, &p.buf)
	if err != nil {
		return nil, fmt.Errorf("failed to open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("failed to start output stream: %w", err)
	}
	p.stream = stream
	return p, nil
}

// WriteSamples scales, clamps and plays one frame. Frames shorter than the
// device buffer are padded with silence, longer frames are truncated. A
// device underflow is not an error: the frame simply arrived late.
func (p *Playback) WriteSamples(samples []float32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream == nil {
		return errors.New("audio: playback closed")
	}

	fillScaled(p.buf, samples, p.gain)

	if err := p.stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
		return fmt.Errorf("failed to write output stream: %w", err)
	}
	return nil
}

// Close stops and closes the output stream.
func (p *Playback) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream == nil {
		return nil
	}
	stream := p.stream
	p.stream = nil

	if err := stream.Stop(); err != nil {
		stream.Close()
		return fmt.Errorf("failed to stop output stream: %w", err)
	}
	return stream.Close()
}

// fillScaled copies src*gain into dst, clamping to [-1, 1] and zero-filling
// any remainder of dst.
func fillScaled(dst, src []float32, gain float32) {
	n := copy(dst, src)
	for i := range n {
		v := dst[i] * gain
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		dst[i] = v
	}
	clear(dst[n:])
}
