package capture

import (
	"context"
	"errors"

	"github.com/e7canasta/orion-rig360/modules/frameslot"
)

var (
	// ErrDeviceUnavailable is returned by Stage.Start when any configured camera
	// cannot be opened. Startup is all-or-nothing.
	ErrDeviceUnavailable = errors.New("capture: device unavailable")

	// ErrNoFrame is returned by Device.ReadFrame when no frame is ready yet.
	// It is not a failure; the worker simply tries again.
	ErrNoFrame = errors.New("capture: no frame available")

	// ErrAlreadyStarted is returned by Start on a running stage.
	ErrAlreadyStarted = errors.New("capture: stage already started")

	// ErrStillStopping is returned when workers of a previous Stop have not
	// released their devices yet. Start refuses to reopen cameras until they do.
	ErrStillStopping = errors.New("capture: previous stop still in progress")
)

// Device is an open camera handle.
//
// Contract:
//   - ReadFrame returns promptly when ctx is cancelled (no unbounded blocking)
//   - ReadFrame returns ErrNoFrame when nothing is ready; any other error is a
//     read failure, retried by the worker
//   - The returned frame is owned by the caller; Seq is stamped by the worker
//   - Close is called exactly once, by the worker that owns the device
type Device interface {
	ReadFrame(ctx context.Context) (*frameslot.Frame, error)
	Close() error
}

// Opener opens the camera with the given index.
type Opener interface {
	Open(ctx context.Context, index int) (Device, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, index int) (Device, error)

// Open calls f.
func (f OpenerFunc) Open(ctx context.Context, index int) (Device, error) {
	return f(ctx, index)
}
