// SPDX-License-Identifier: MIT
/*
Package audio is the glue between PortAudio and the spectral pipeline:
  - Capture delivers input frames to a Handler from the PortAudio callback
  - Playback replays reconstructed frames on an output device
  - Device helpers list and resolve host devices

The capture callback is the real-time context. It only copies pointers and
calls the Handler; everything that may block (logging, rendering, file and
network I/O) belongs to the consumer side.
*/
package audio

import (
	"errors"
	"time"
)

// DefaultDevice selects the host's default input or output device.
const DefaultDevice = -1

// Stream-level errors reported through Handler.OnError.
var (
	ErrStreamStalled  = errors.New("audio: input stream stalled (device disconnected?)")
	ErrInputOverflow  = errors.New("audio: input overflow, samples were dropped")
	ErrInputUnderflow = errors.New("audio: input underflow")
	ErrNoInputDevice  = errors.New("audio: no usable input device")
	ErrNoOutputDevice = errors.New("audio: no usable output device")
)

// IsTransient reports whether err is a per-buffer glitch that resolves on its
// own (overflow/underflow) rather than a degraded stream.
func IsTransient(err error) bool {
	return errors.Is(err, ErrInputOverflow) || errors.Is(err, ErrInputUnderflow)
}

// FrameInfo is the timing metadata delivered with every input buffer.
type FrameInfo struct {
	Seq         uint64        // 1-based callback counter for this stream.
	InputTime   time.Duration // ADC time of the first sample, stream clock.
	CurrentTime time.Duration // Stream clock when the callback was invoked.
}

// Handler receives capture events. Both methods are invoked from the audio
// callback context and must return quickly without blocking.
type Handler interface {
	// OnFrame receives one buffer of interleaved samples. The slice is only
	// valid for the duration of the call and must not be modified.
	OnFrame(samples []float32, info FrameInfo)

	// OnError receives stream-level failures.
	OnError(err error)
}

// Source is a live audio input that pushes frames to a Handler.
type Source interface {
	Start(h Handler) error
	Stop() error
}
