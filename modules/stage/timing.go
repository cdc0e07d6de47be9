package stage

import (
	"math"
	"time"
)

// timingWindowSize is how many recent step durations feed TimingStats.
const timingWindowSize = 128

// budgetThreshold flags a stage whose mean step time exceeds this fraction of
// its interval: it cannot keep up and cycles start to bunch up.
const budgetThreshold = 0.80

// TimingStats summarises recent step durations.
type TimingStats struct {
	Samples int           `json:"samples"`
	Mean    time.Duration `json:"mean"`
	StdDev  time.Duration `json:"std_dev"`
	Min     time.Duration `json:"min"`
	Max     time.Duration `json:"max"`
}

// OverBudget reports whether the mean step time eats most of the interval.
func (t TimingStats) OverBudget(interval time.Duration) bool {
	if t.Samples == 0 || interval <= 0 {
		return false
	}
	return float64(t.Mean) > budgetThreshold*float64(interval)
}

// timingWindow is a fixed-size ring of durations. Not safe for concurrent use;
// Loop guards it with its own mutex.
type timingWindow struct {
	samples []time.Duration
	next    int
	full    bool
}

func newTimingWindow(size int) *timingWindow {
	return &timingWindow{samples: make([]time.Duration, size)}
}

func (w *timingWindow) add(d time.Duration) {
	w.samples[w.next] = d
	w.next = (w.next + 1) % len(w.samples)
	if w.next == 0 {
		w.full = true
	}
}

func (w *timingWindow) stats() TimingStats {
	n := w.next
	if w.full {
		n = len(w.samples)
	}
	if n == 0 {
		return TimingStats{}
	}

	window := w.samples[:n]

	minD, maxD := window[0], window[0]
	var sum float64
	for _, d := range window {
		if d < minD {
			minD = d
		}
		if d > maxD {
			maxD = d
		}
		sum += float64(d)
	}
	mean := sum / float64(n)

	var sumSquares float64
	for _, d := range window {
		diff := float64(d) - mean
		sumSquares += diff * diff
	}

	return TimingStats{
		Samples: n,
		Mean:    time.Duration(mean),
		StdDev:  time.Duration(math.Sqrt(sumSquares / float64(n))),
		Min:     minD,
		Max:     maxD,
	}
}
