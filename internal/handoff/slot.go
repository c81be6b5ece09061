// SPDX-License-Identifier: MIT
/*
Package handoff bridges the capture callback (producer) and the consumer loop
with a single-slot, overwrite-on-publish buffer.

Freshest wins: Publish always succeeds and replaces whatever the slot held.
There is no queue, so a consumer slower than the producer only ever observes
the latest frame; the sequence number lets it count what it missed.

Thread Safety:
  - Publish and Snapshot copy under one mutex, so a reader never observes a
    frame mixed from two publishes
  - The lock is held only for a bounded copy, the producer never waits on
    consumer work
  - Ready() is a one-element wake-up channel filled without blocking
*/
package handoff

import (
	"sync"

	"specgate/internal/frame"
)

// Snapshot is a point-in-time view of the slot.
type Snapshot struct {
	Frame frame.Frame // Copy of the published frame, nil when OK is false.
	Seq   uint64      // Number of publishes so far; 0 means empty.
	Err   error       // Non-nil while the stream is degraded.
	OK    bool        // False until the first Publish.
}

// Slot holds the most recently published frame.
type Slot struct {
	mu    sync.Mutex
	buf   frame.Frame
	seq   uint64
	err   error
	ready chan struct{}
}

// New returns an empty slot for frames of the given length.
func New(size int) *Slot {
	return &Slot{
		buf:   frame.New(size),
		ready: make(chan struct{}, 1),
	}
}

// Size returns the frame length the slot was built for.
func (s *Slot) Size() int { return len(s.buf) }

// Publish replaces the slot's content with a copy of f and clears any
// degraded state. f must have the slot's length; the slot keeps no reference
// to it, so the caller may reuse the buffer immediately.
func (s *Slot) Publish(f frame.Frame) {
	if len(f) != len(s.buf) {
		panic("handoff: published frame length does not match slot size")
	}
	s.mu.Lock()
	copy(s.buf, f)
	s.seq++
	s.err = nil
	s.mu.Unlock()
	s.notify()
}

// Degrade records a stream-level error. The slot keeps its last frame; the
// error is visible in every snapshot until the next Publish.
func (s *Slot) Degrade(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.notify()
}

// Snapshot copies the current frame into dst and returns a view over it.
// dst must be at least Size() long. Before the first Publish the result is
// empty (OK false, nil Frame) and dst is left untouched.
func (s *Slot) Snapshot(dst frame.Frame) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{Seq: s.seq, Err: s.err}
	if s.seq == 0 {
		return snap
	}
	dst = dst[:len(s.buf)]
	copy(dst, s.buf)
	snap.Frame = dst
	snap.OK = true
	return snap
}

// Seq returns the number of publishes so far without copying the frame.
func (s *Slot) Seq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Ready is signalled after a Publish or Degrade. A signal may cover several
// publishes; consumers must read Seq from the snapshot rather than count
// wake-ups.
func (s *Slot) Ready() <-chan struct{} {
	return s.ready
}

func (s *Slot) notify() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}
