package frameslot

import "sync/atomic"

// Sequencer hands out monotonically increasing sequence numbers starting at 1.
// The zero value is ready to use and safe for concurrent use.
type Sequencer struct {
	n atomic.Uint64
}

// Next returns the next sequence number.
func (s *Sequencer) Next() uint64 {
	return s.n.Add(1)
}

// Current returns the last number handed out (0 if none).
func (s *Sequencer) Current() uint64 {
	return s.n.Load()
}
