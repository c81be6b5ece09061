// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"
)

// DefaultStallTimeout is how long the input may stay silent before the
// stream is reported as stalled.
const DefaultStallTimeout = 2 * time.Second

// CaptureConfig describes the input stream to open.
type CaptureConfig struct {
	DeviceID        int           // PortAudio device index, DefaultDevice for the host default.
	Channels        int           // Interleaved channels per frame.
	SampleRate      float64       // Hz.
	FramesPerBuffer int           // Frames per callback.
	LowLatency      bool          // Use the device's low input latency.
	StallTimeout    time.Duration // Zero selects DefaultStallTimeout, negative disables the watchdog.
}

// FrameSize is the number of interleaved samples delivered per callback.
func (c CaptureConfig) FrameSize() int {
	return c.FramesPerBuffer * c.Channels
}

// Capture is a PortAudio input Source.
//
// Thread Safety:
//   - The callback touches only atomics and the Handler
//   - Start/Stop are serialised by a mutex and may be called from any goroutine
//   - The stall watchdog runs on its own goroutine, never in the callback
type Capture struct {
	config  CaptureConfig
	device  *portaudio.DeviceInfo
	latency time.Duration

	mu      sync.Mutex
	stream  *portaudio.Stream
	handler Handler
	done    chan struct{}
	wg      sync.WaitGroup

	seq          atomic.Uint64
	lastCallback atomic.Int64 // UnixNano of the most recent callback.
	stalled      atomic.Bool
}

var _ Source = (*Capture)(nil)

// NewCapture resolves the input device. PortAudio must be initialised. A
// missing device is reported as ErrNoInputDevice.
func NewCapture(cfg CaptureConfig) (*Capture, error) {
	if cfg.Channels <= 0 || cfg.FramesPerBuffer <= 0 || cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("audio: invalid capture configuration %+v", cfg)
	}

	device, err := InputDevice(cfg.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoInputDevice, err)
	}
	if device == nil {
		return nil, ErrNoInputDevice
	}
	if device.MaxInputChannels < cfg.Channels {
		return nil, fmt.Errorf("%w: %s has %d input channels, %d requested",
			ErrNoInputDevice, device.Name, device.MaxInputChannels, cfg.Channels)
	}

	c := &Capture{config: cfg, device: device}
	if cfg.LowLatency {
		c.latency = device.DefaultLowInputLatency
	} else {
		c.latency = device.DefaultHighInputLatency
	}
	return c, nil
}

// Device returns the resolved input device.
func (c *Capture) Device() *portaudio.DeviceInfo { return c.device }

// Start opens the input stream and begins delivering frames to h. The first
// callback marks the start of the real-time hot path.
func (c *Capture) Start(h Handler) error {
	if h == nil {
		return errors.New("audio: nil capture handler")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream != nil {
		return errors.New("audio: capture already started")
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Channels: c.config.Channels,
			Device:   c.device,
			Latency:  c.latency,
		},
		Output: portaudio.StreamDeviceParameters{
			Channels: 0, // No output device
			Device:   nil,
		},
		FramesPerBuffer: c.config.FramesPerBuffer,
		SampleRate:      c.config.SampleRate,
	}

	c.handler = h
	c.seq.Store(0)
	c.stalled.Store(false)
	c.lastCallback.Store(time.Now().UnixNano())

	stream, err := portaudio.OpenStream(params, c.processInputStream)
	if err != nil {
		return fmt.Errorf("failed to open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("failed to start input stream: %w", err)
	}
	c.stream = stream

	c.startWatchdog()
	return nil
}

// Stop stops the watchdog, then stops and closes the stream. It is safe to
// call Stop on a capture that was never started.
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopWatchdog()

	if c.stream == nil {
		return nil
	}
	stream := c.stream
	c.stream = nil

	if err := stream.Stop(); err != nil {
		stream.Close()
		return fmt.Errorf("failed to stop input stream: %w", err)
	}
	if err := stream.Close(); err != nil {
		return fmt.Errorf("failed to close input stream: %w", err)
	}
	return nil
}

// processInputStream is the PortAudio callback.
// Performance Critical:
//   - Runs on the PortAudio thread
//   - No allocations, no locks, no logging
func (c *Capture) processInputStream(in []float32, timeInfo portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	c.lastCallback.Store(time.Now().UnixNano())
	c.stalled.Store(false)

	h := c.handler
	if flags&portaudio.InputOverflow != 0 {
		h.OnError(ErrInputOverflow)
	}
	if flags&portaudio.InputUnderflow != 0 {
		h.OnError(ErrInputUnderflow)
	}

	h.OnFrame(in, FrameInfo{
		Seq:         c.seq.Add(1),
		InputTime:   timeInfo.InputBufferAdcTime,
		CurrentTime: timeInfo.CurrentTime,
	})
}

func (c *Capture) stallTimeout() time.Duration {
	if c.config.StallTimeout == 0 {
		return DefaultStallTimeout
	}
	return c.config.StallTimeout
}

// startWatchdog launches the stall detector. Callers hold c.mu.
func (c *Capture) startWatchdog() {
	timeout := c.stallTimeout()
	if timeout < 0 {
		return
	}
	c.done = make(chan struct{})
	done := c.done
	handler := c.handler

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(timeout / 4)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case now := <-ticker.C:
				c.checkStall(now, timeout, handler)
			}
		}
	}()
}

// checkStall reports ErrStreamStalled once per silent period.
func (c *Capture) checkStall(now time.Time, timeout time.Duration, h Handler) {
	last := time.Unix(0, c.lastCallback.Load())
	if now.Sub(last) < timeout {
		return
	}
	if c.stalled.CompareAndSwap(false, true) {
		h.OnError(fmt.Errorf("%w: no input for %s", ErrStreamStalled, now.Sub(last).Round(time.Millisecond)))
	}
}

// stopWatchdog stops the stall detector. Callers hold c.mu.
func (c *Capture) stopWatchdog() {
	if c.done == nil {
		return
	}
	close(c.done)
	c.done = nil
	c.wg.Wait()
}
