// Package capture runs one producer goroutine per camera, each publishing the
// latest frame of its device into that camera's frameslot.Slot.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/e7canasta/orion-rig360/modules/frameslot"
)

const (
	defaultReadRetryDelay = 10 * time.Millisecond
	defaultStopTimeout    = 3 * time.Second

	// failureLogEvery throttles read-failure warnings per camera.
	failureLogEvery = 100
)

// Config describes the cameras a Stage owns.
type Config struct {
	// Cameras lists device indices in stitch order. Must be non-empty and unique.
	Cameras []int

	// ReadRetryDelay is the pause after a failed or empty read (default 10ms).
	ReadRetryDelay time.Duration

	// StopTimeout bounds how long Stop waits for workers (default 3s).
	StopTimeout time.Duration
}

// Stage owns one device and one worker per configured camera.
type Stage struct {
	cfg    Config
	opener Opener

	slots map[int]*frameslot.Slot
	seqs  map[int]*frameslot.Sequencer

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	workers []*worker
	started time.Time

	// draining is closed once the workers of a timed-out Stop have exited.
	draining chan struct{}
}

// New validates the configuration and creates one slot per camera. Devices
// are not opened until Start.
func New(cfg Config, opener Opener) (*Stage, error) {
	if opener == nil {
		return nil, fmt.Errorf("capture: opener is required")
	}
	if len(cfg.Cameras) == 0 {
		return nil, fmt.Errorf("capture: at least one camera is required")
	}
	if cfg.ReadRetryDelay <= 0 {
		cfg.ReadRetryDelay = defaultReadRetryDelay
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}

	s := &Stage{
		cfg:    cfg,
		opener: opener,
		slots:  make(map[int]*frameslot.Slot, len(cfg.Cameras)),
		seqs:   make(map[int]*frameslot.Sequencer, len(cfg.Cameras)),
	}
	for _, idx := range cfg.Cameras {
		if _, dup := s.slots[idx]; dup {
			return nil, fmt.Errorf("capture: camera %d configured twice", idx)
		}
		s.slots[idx] = frameslot.New("cam-" + strconv.Itoa(idx))
		s.seqs[idx] = &frameslot.Sequencer{}
	}

	return s, nil
}

// Slot returns the slot of the given camera, or nil if it is not configured.
func (s *Stage) Slot(index int) *frameslot.Slot {
	return s.slots[index]
}

// Slots returns the camera slots in configured order.
func (s *Stage) Slots() []*frameslot.Slot {
	out := make([]*frameslot.Slot, 0, len(s.cfg.Cameras))
	for _, idx := range s.cfg.Cameras {
		out = append(out, s.slots[idx])
	}
	return out
}

// Start opens every configured device, then launches one worker per camera.
//
// If any device fails to open, the devices opened so far are closed and an
// error wrapping ErrDeviceUnavailable is returned; no worker is started.
func (s *Stage) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return ErrAlreadyStarted
	}
	if s.draining != nil {
		select {
		case <-s.draining:
			s.draining = nil
		default:
			return ErrStillStopping
		}
	}

	opened := make([]*worker, 0, len(s.cfg.Cameras))
	for _, idx := range s.cfg.Cameras {
		dev, err := s.opener.Open(ctx, idx)
		if err != nil {
			openErr := fmt.Errorf("%w: camera %d: %w", ErrDeviceUnavailable, idx, err)

			var closeErr error
			for _, w := range opened {
				closeErr = multierr.Append(closeErr, w.dev.Close())
			}

			slog.Error("capture: failed to open camera, aborting startup",
				"camera", idx,
				"error", err,
				"closed_devices", len(opened),
				"close_error", closeErr,
			)
			return multierr.Append(openErr, closeErr)
		}

		slog.Info("capture: camera opened", "camera", idx)
		opened = append(opened, &worker{
			index: idx,
			dev:   dev,
			slot:  s.slots[idx],
			seq:   s.seqs[idx],
		})
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.workers = opened
	s.started = time.Now()

	for _, w := range opened {
		s.wg.Add(1)
		go func(w *worker) {
			defer s.wg.Done()
			w.run(runCtx, s.cfg.ReadRetryDelay)
		}(w)
	}

	slog.Info("capture: stage started", "cameras", s.cfg.Cameras)
	return nil
}

// Stop cancels every worker, waits for them to release their devices and
// returns the aggregated close errors. Idempotent.
func (s *Stage) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		if s.draining != nil {
			return s.awaitDrain()
		}
		slog.Debug("capture: stage not started, nothing to stop")
		return nil
	}

	slog.Info("capture: stopping stage")
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		for _, w := range s.workers {
			err = multierr.Append(err, w.closeErr)
		}
	case <-time.After(s.cfg.StopTimeout):
		err = fmt.Errorf("%w: stop timeout exceeded (%v), some devices may still be open", ErrStillStopping, s.cfg.StopTimeout)
		slog.Warn("capture: stop timeout exceeded, some workers may still be running")
		// Start stays refused until these workers released their devices.
		s.draining = done
	}

	slog.Info("capture: stage stopped", "uptime", time.Since(s.started), "error", err)

	s.cancel = nil
	s.workers = nil
	return err
}

// awaitDrain gives the workers of a timed-out Stop another StopTimeout to
// exit. Called with mu held.
func (s *Stage) awaitDrain() error {
	select {
	case <-s.draining:
		s.draining = nil
		slog.Info("capture: late workers released their devices")
		return nil
	case <-time.After(s.cfg.StopTimeout):
		return fmt.Errorf("%w: workers still running after %v", ErrStillStopping, s.cfg.StopTimeout)
	}
}

// Stats returns per-camera statistics in configured order.
func (s *Stage) Stats() []CameraStats {
	s.mu.Lock()
	workers := s.workers
	s.mu.Unlock()

	byIndex := make(map[int]*worker, len(workers))
	for _, w := range workers {
		byIndex[w.index] = w
	}

	out := make([]CameraStats, 0, len(s.cfg.Cameras))
	for _, idx := range s.cfg.Cameras {
		st := CameraStats{Camera: idx, Slot: s.slots[idx].Stats()}
		if w, ok := byIndex[idx]; ok {
			st.Running = true
			st.FramesRead = w.framesRead.Load()
			st.ReadFailures = w.readFailures.Load()
			st.ConsecutiveFailures = w.consecutive.Load()
		}
		out = append(out, st)
	}
	return out
}

// CameraStats describes one camera worker.
type CameraStats struct {
	Camera              int             `json:"camera"`
	Running             bool            `json:"running"`
	FramesRead          uint64          `json:"frames_read"`
	ReadFailures        uint64          `json:"read_failures"`
	ConsecutiveFailures uint64          `json:"consecutive_failures"`
	Slot                frameslot.Stats `json:"slot"`
}

// worker owns one device for the lifetime of a Start/Stop cycle.
type worker struct {
	index int
	dev   Device
	slot  *frameslot.Slot
	seq   *frameslot.Sequencer

	framesRead   atomic.Uint64
	readFailures atomic.Uint64
	consecutive  atomic.Uint64

	closeErr error // written once by run before it returns
}

// run reads frames until ctx is cancelled, then closes the device.
func (w *worker) run(ctx context.Context, retryDelay time.Duration) {
	source := "cam-" + strconv.Itoa(w.index)

	defer func() {
		if err := w.dev.Close(); err != nil {
			w.closeErr = fmt.Errorf("capture: camera %d close: %w", w.index, err)
			slog.Warn("capture: failed to close camera", "camera", w.index, "error", err)
			return
		}
		slog.Debug("capture: camera closed", "camera", w.index)
	}()

	for ctx.Err() == nil {
		frame, err := w.dev.ReadFrame(ctx)
		if err == nil {
			err = frame.Validate()
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !errors.Is(err, ErrNoFrame) {
				w.readFailures.Add(1)
				n := w.consecutive.Add(1)
				if n == 1 || n%failureLogEvery == 0 {
					slog.Warn("capture: read failed, retrying",
						"camera", w.index,
						"consecutive_failures", n,
						"error", err,
					)
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(retryDelay):
			}
			continue
		}

		w.consecutive.Store(0)
		w.framesRead.Add(1)

		frame.Seq = w.seq.Next()
		frame.Source = source
		frame.TraceID = uuid.New().String()
		if frame.Timestamp.IsZero() {
			frame.Timestamp = time.Now()
		}

		w.slot.Publish(frame)
	}
}
