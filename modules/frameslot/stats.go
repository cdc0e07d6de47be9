package frameslot

import "time"

// staleThreshold marks a slot as stale when nothing was published for this long.
// Capture runs at 10–30 fps, so a few seconds of silence means the producer is stuck.
const staleThreshold = 5 * time.Second

// Stats is a snapshot of a slot's operational state.
type Stats struct {
	Name string `json:"name"`

	// Published counts every accepted Publish call.
	Published uint64 `json:"published"`

	// Overwritten counts frames replaced before any Next caller took them.
	// Poll-style readers (Latest) do not count as consumers.
	Overwritten uint64 `json:"overwritten"`

	// Rejected counts publishes discarded for carrying an older Seq.
	Rejected uint64 `json:"rejected"`

	// LastSeq is the sequence number of the held frame (0 when empty).
	LastSeq uint64 `json:"last_seq"`

	// LastPublishedAt is the wall-clock time of the last Publish.
	LastPublishedAt time.Time `json:"last_published_at"`

	// IsStale is true when the slot is empty or silent for longer than 5s.
	IsStale bool `json:"is_stale"`

	Closed bool `json:"closed"`
}

// Stats returns a consistent snapshot (non-blocking).
func (s *Slot) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Name:            s.name,
		Published:       s.published,
		Overwritten:     s.overwritten,
		Rejected:        s.rejected,
		LastPublishedAt: s.publishedAt,
		Closed:          s.closed,
	}
	if s.frame != nil {
		st.LastSeq = s.frame.Seq
	}
	st.IsStale = s.frame == nil || time.Since(s.publishedAt) > staleThreshold

	return st
}
