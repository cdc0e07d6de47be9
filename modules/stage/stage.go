// Package stage drives the per-cycle pipeline stages (stitch, combine,
// overlay) and keeps their diagnostics.
//
// A stage exposes Step. Each call reads the latest inputs and either
// publishes one output frame, skips because an input is missing, or fails.
// The driving Loop never stops on a failed cycle: the error is logged with the
// stage name and the loop proceeds to the next tick.
package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrStepPanic marks a cycle whose Step panicked. The loop counts it as a
// failed cycle and keeps running.
var ErrStepPanic = errors.New("stage: step panicked")

// Result is the outcome of a successful Step.
type Result int

const (
	// Skipped means at least one input was absent; the output slot is untouched.
	Skipped Result = iota
	// Published means a new frame was written to the output slot.
	Published
)

// String returns "skipped" or "published".
func (r Result) String() string {
	switch r {
	case Published:
		return "published"
	case Skipped:
		return "skipped"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// Stepper is implemented by every cycle-driven stage.
type Stepper interface {
	Step() (Result, error)
}

// StepFunc adapts a plain function to Stepper.
type StepFunc func() (Result, error)

// Step calls f.
func (f StepFunc) Step() (Result, error) { return f() }

// Loop runs a Stepper at a fixed cadence until its context is cancelled.
type Loop struct {
	name     string
	interval time.Duration
	stepper  Stepper

	mu          sync.Mutex
	cycles      uint64
	published   uint64
	skipped     uint64
	failed      uint64
	lastError   string
	lastErrorAt time.Time
	timings     *timingWindow
}

// NewLoop creates a loop for the given stage. interval must be positive.
func NewLoop(name string, interval time.Duration, stepper Stepper) (*Loop, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("stage: %s: interval must be > 0, got %v", name, interval)
	}
	if stepper == nil {
		return nil, fmt.Errorf("stage: %s: nil stepper", name)
	}
	return &Loop{
		name:     name,
		interval: interval,
		stepper:  stepper,
		timings:  newTimingWindow(timingWindowSize),
	}, nil
}

// Name returns the stage name.
func (l *Loop) Name() string { return l.name }

// Run blocks, stepping once per interval, until ctx is done. It always
// returns ctx.Err().
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	slog.Info("stage: loop started", "stage", l.name, "interval", l.interval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("stage: loop stopped", "stage", l.name, "cycles", l.Stats().Cycles)
			return ctx.Err()
		case <-ticker.C:
			l.RunOnce()
		}
	}
}

// RunOnce executes a single cycle and records its outcome.
func (l *Loop) RunOnce() {
	start := time.Now()
	result, err := l.step()
	elapsed := time.Since(start)

	l.mu.Lock()
	l.cycles++
	l.timings.add(elapsed)
	switch {
	case err != nil:
		l.failed++
		l.lastError = err.Error()
		l.lastErrorAt = time.Now()
	case result == Published:
		l.published++
	default:
		l.skipped++
	}
	cycle := l.cycles
	l.mu.Unlock()

	if err != nil {
		slog.Warn("stage: cycle failed, retrying next cycle",
			"stage", l.name,
			"cycle", cycle,
			"error", err,
			"duration", elapsed,
		)
		return
	}

	slog.Debug("stage: cycle done",
		"stage", l.name,
		"cycle", cycle,
		"result", result,
		"duration", elapsed,
	)
}

// step runs the stepper, turning a panic into a failed cycle so one bad
// input cannot take the loop down.
func (l *Loop) step() (result Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			result, err = Skipped, fmt.Errorf("%w: %v", ErrStepPanic, p)
		}
	}()
	return l.stepper.Step()
}

// Stats is a snapshot of a loop's diagnostics.
type Stats struct {
	Name        string        `json:"name"`
	Cycles      uint64        `json:"cycles"`
	Published   uint64        `json:"published"`
	Skipped     uint64        `json:"skipped"`
	Failed      uint64        `json:"failed"`
	LastError   string        `json:"last_error,omitempty"`
	LastErrorAt time.Time     `json:"last_error_at,omitempty"`
	Timing      TimingStats   `json:"timing"`
	Interval    time.Duration `json:"interval"`
}

// Stats returns a consistent snapshot.
func (l *Loop) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return Stats{
		Name:        l.name,
		Cycles:      l.cycles,
		Published:   l.published,
		Skipped:     l.skipped,
		Failed:      l.failed,
		LastError:   l.lastError,
		LastErrorAt: l.lastErrorAt,
		Timing:      l.timings.stats(),
		Interval:    l.interval,
	}
}
