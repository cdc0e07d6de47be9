package frameslot

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by Next once the slot has been closed.
var ErrClosed = errors.New("frameslot: slot is closed")

// Slot is a single-frame, last-value-wins mailbox.
//
// Thread-safety:
//   - All fields protected by mu
//   - Publish: any number of producers; a frame older than the held one is
//     dropped, so Latest never goes backwards
//   - Latest/Next: called by any number of readers
type Slot struct {
	name string

	mu    sync.Mutex
	cond  *sync.Cond
	frame *Frame

	// --- Operational Stats ---

	published   uint64
	overwritten uint64 // publishes that replaced a frame nobody waited for
	rejected    uint64 // publishes older than the held frame
	waited      bool   // a Next call took the held frame
	publishedAt time.Time

	closed bool
}

// New creates an empty slot. The name only shows up in stats and logs.
func New(name string) *Slot {
	s := &Slot{name: name}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Name returns the slot name.
func (s *Slot) Name() string {
	return s.name
}

// Publish replaces the held frame (non-blocking).
//
// The previous frame is dropped whether or not anyone read it. A frame with
// a lower Seq than the held one is discarded instead (an equal Seq replaces
// it). Publishing on a closed slot or publishing nil is a no-op.
func (s *Slot) Publish(frame *Frame) {
	if frame == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	if s.frame != nil && frame.Seq < s.frame.Seq {
		s.rejected++
		return
	}

	if s.frame != nil && !s.waited {
		s.overwritten++
	}

	s.frame = frame
	s.waited = false
	s.published++
	s.publishedAt = time.Now()

	// Wake every Next caller; each decides whether the frame is new to it.
	s.cond.Broadcast()
}

// Latest returns the most recently published frame without blocking.
// The second return value is false when nothing has been published yet.
func (s *Slot) Latest() (*Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.frame, s.frame != nil
}

// Next blocks until the slot holds a frame with Seq greater than after,
// then returns it. Pass 0 to get the first frame ever published.
//
// Returns ctx.Err() on cancellation and ErrClosed after Close. Frames
// published in between are skipped, never queued.
func (s *Slot) Next(ctx context.Context, after uint64) (*Frame, error) {
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if s.closed {
			return nil, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.frame != nil && s.frame.Seq > after {
			s.waited = true
			return s.frame, nil
		}
		s.cond.Wait()
	}
}

// Close wakes all Next callers with ErrClosed. The held frame stays readable
// through Latest. Idempotent.
func (s *Slot) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.cond.Broadcast()
}
