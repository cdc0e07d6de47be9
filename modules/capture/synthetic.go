package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/e7canasta/orion-rig360/modules/frameslot"
)

// SyntheticOpener opens test-pattern cameras. Used when no hardware is
// attached (capture.source: synthetic) and in demos.
type SyntheticOpener struct {
	Width  int
	Height int
	FPS    int
}

// Open returns a device producing a moving-bar pattern tinted per camera.
func (o SyntheticOpener) Open(ctx context.Context, index int) (Device, error) {
	if o.Width <= 0 || o.Height <= 0 {
		return nil, fmt.Errorf("synthetic camera %d: invalid size %dx%d", index, o.Width, o.Height)
	}
	fps := o.FPS
	if fps <= 0 {
		fps = 15
	}

	return &syntheticDevice{
		index:    index,
		width:    o.Width,
		height:   o.Height,
		interval: time.Second / time.Duration(fps),
		next:     time.Now(),
	}, nil
}

type syntheticDevice struct {
	index         int
	width, height int
	interval      time.Duration

	mu     sync.Mutex
	next   time.Time
	frame  uint64
	closed bool
}

// ReadFrame paces frames at the configured rate.
func (d *syntheticDevice) ReadFrame(ctx context.Context) (*frameslot.Frame, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, fmt.Errorf("synthetic camera %d: closed", d.index)
	}
	wait := time.Until(d.next)
	d.next = d.next.Add(d.interval)
	if wait < -d.interval {
		// Fell behind (slow consumer or paused process): resync instead of bursting.
		d.next = time.Now().Add(d.interval)
	}
	d.frame++
	n := d.frame
	d.mu.Unlock()

	if wait > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}

	return d.render(n), nil
}

// render draws a horizontal gradient tinted by camera index with a bright
// vertical bar sweeping across the frame.
func (d *syntheticDevice) render(n uint64) *frameslot.Frame {
	f := frameslot.NewFrame(d.width, d.height)

	tint := [3]byte{
		byte(30 * (d.index % 3)),
		byte(45 * ((d.index + 1) % 3)),
		byte(60 * ((d.index + 2) % 3)),
	}
	bar := int(n*4) % d.width

	for y := 0; y < d.height; y++ {
		row := f.Data[y*f.Stride():]
		for x := 0; x < d.width; x++ {
			g := byte(x * 255 / d.width)
			px := row[x*3 : x*3+3]
			if x >= bar && x < bar+8 {
				px[0], px[1], px[2] = 255, 255, 255
				continue
			}
			px[0] = g/2 + tint[0]
			px[1] = g/2 + tint[1]
			px[2] = byte(y*255/d.height)/2 + tint[2]
		}
	}
	return f
}

func (d *syntheticDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}
