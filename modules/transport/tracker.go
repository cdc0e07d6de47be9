package transport

import (
	"sync"
	"time"
)

// SeqTracker follows the sequence numbers arriving on a channel.
//
// It counts gaps (frames lost upstream or in flight) and detects peer
// restarts (sequence going backwards). It also maps wire sequence numbers to
// local ones: while the peer is monotonic the two are equal; after a restart
// the local sequence continues from where it was, so the receiving slot stays
// monotonic.
//
// One tracker lives as long as the receiving slot, across reconnects.
type SeqTracker struct {
	mu sync.Mutex

	seen      bool
	lastWire  uint64
	lastLocal uint64
	offset    uint64

	received   uint64
	lost       uint64
	duplicates uint64
	restarts   uint64
	lastAt     time.Time
}

// Observation describes one received sequence number.
type Observation struct {
	Local     uint64 // sequence number to publish under
	Gap       uint64 // frames missing before this one
	Restarted bool   // peer sequence went backwards
	Duplicate bool   // same wire sequence as the previous message
}

// Observe records a wire sequence number.
func (t *SeqTracker) Observe(wire uint64) Observation {
	t.mu.Lock()
	defer t.mu.Unlock()

	var obs Observation
	t.received++
	t.lastAt = time.Now()

	switch {
	case !t.seen:
		t.seen = true
	case wire == t.lastWire:
		obs.Duplicate = true
		t.duplicates++
	case wire > t.lastWire:
		obs.Gap = wire - t.lastWire - 1
		t.lost += obs.Gap
	default:
		obs.Restarted = true
		t.restarts++
		t.offset = t.lastLocal + 1 - wire
	}

	t.lastWire = wire
	obs.Local = wire + t.offset
	t.lastLocal = obs.Local
	return obs
}

// TrackerStats is a snapshot of a tracker.
type TrackerStats struct {
	Received   uint64    `json:"received"`
	Lost       uint64    `json:"lost"`
	Duplicates uint64    `json:"duplicates"`
	Restarts   uint64    `json:"restarts"`
	LastWire   uint64    `json:"last_wire_seq"`
	LastAt     time.Time `json:"last_at"`
}

// Stats returns a snapshot.
func (t *SeqTracker) Stats() TrackerStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	return TrackerStats{
		Received:   t.received,
		Lost:       t.lost,
		Duplicates: t.duplicates,
		Restarts:   t.restarts,
		LastWire:   t.lastWire,
		LastAt:     t.lastAt,
	}
}
