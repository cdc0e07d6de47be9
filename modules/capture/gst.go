package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/orion-rig360/internal/gstutil"
	"github.com/e7canasta/orion-rig360/modules/frameslot"
)

const (
	defaultDevicePattern = "/dev/video%d"
	defaultOpenTimeout   = 5 * time.Second

	// pullTimeout bounds each appsink pull so reads stay cancellable.
	pullTimeout = 100 * time.Millisecond

	// restartBackoff is the minimum pause between pipeline restarts of a broken device.
	restartBackoff = time.Second
)

// GstOpener opens V4L2 cameras through a GStreamer pipeline:
//
//	v4l2src → videoconvert → videoscale → videorate → capsfilter(BGR) → appsink
//
// The appsink keeps only the latest buffer (max-buffers=1, drop=true), which
// matches the slot semantics downstream.
type GstOpener struct {
	Width  int
	Height int
	FPS    int

	// DevicePattern formats the camera index into a device node (default "/dev/video%d").
	DevicePattern string

	// OpenTimeout bounds the wait for the PLAYING state (default 5s).
	OpenTimeout time.Duration
}

// Open launches the capture pipeline for camera index and waits until it plays.
func (o GstOpener) Open(ctx context.Context, index int) (Device, error) {
	if o.Width <= 0 || o.Height <= 0 || o.FPS <= 0 {
		return nil, fmt.Errorf("invalid capture format %dx%d@%d", o.Width, o.Height, o.FPS)
	}
	pattern := o.DevicePattern
	if pattern == "" {
		pattern = defaultDevicePattern
	}
	timeout := o.OpenTimeout
	if timeout <= 0 {
		timeout = defaultOpenTimeout
	}

	node := fmt.Sprintf(pattern, index)
	description := fmt.Sprintf(
		"v4l2src device=%s ! videoconvert ! videoscale ! videorate drop-only=true ! "+
			"video/x-raw,format=BGR,width=%d,height=%d,framerate=%d/1 ! "+
			"appsink name=sink max-buffers=1 drop=true sync=false",
		node, o.Width, o.Height, o.FPS,
	)

	pipeline, elem, err := gstutil.Launch(description, "sink")
	if err != nil {
		return nil, err
	}

	if err := gstutil.Play(ctx, pipeline, timeout); err != nil {
		return nil, fmt.Errorf("%s: %w", node, err)
	}

	slog.Debug("capture: gstreamer pipeline playing", "camera", index, "device", node)

	return &gstDevice{
		index:    index,
		node:     node,
		width:    o.Width,
		height:   o.Height,
		pipeline: pipeline,
		sink:     app.SinkFromElement(elem),
		timeout:  timeout,
	}, nil
}

type gstDevice struct {
	index         int
	node          string
	width, height int
	timeout       time.Duration

	mu          sync.Mutex
	pipeline    *gst.Pipeline
	sink        *app.Sink
	broken      bool
	lastRestart time.Time
}

// ReadFrame pulls the newest sample, copying it out of GStreamer memory.
func (d *gstDevice) ReadFrame(ctx context.Context) (*frameslot.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pipeline == nil {
		return nil, fmt.Errorf("%s: device closed", d.node)
	}

	if d.broken {
		if err := d.restart(ctx); err != nil {
			return nil, err
		}
	}

	if err := gstutil.PollError(d.pipeline); err != nil {
		d.broken = true
		return nil, fmt.Errorf("%s: %w", d.node, err)
	}

	sample := d.sink.TryPullSample(pullTimeout)
	if sample == nil {
		return nil, ErrNoFrame
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		return nil, ErrNoFrame
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		return nil, ErrNoFrame
	}

	// Copy frame data (GStreamer will reuse the buffer)
	f := frameslot.NewFrame(d.width, d.height)
	n := copy(f.Data, data)
	buffer.Unmap()

	if n != len(f.Data) {
		return nil, fmt.Errorf("%s: short buffer %d bytes, expected %d", d.node, n, len(f.Data))
	}
	return f, nil
}

// restart cycles the pipeline through NULL back to PLAYING, at most once per
// restartBackoff.
func (d *gstDevice) restart(ctx context.Context) error {
	if time.Since(d.lastRestart) < restartBackoff {
		return fmt.Errorf("%s: pipeline broken, waiting to restart", d.node)
	}
	d.lastRestart = time.Now()

	slog.Info("capture: restarting camera pipeline", "camera", d.index, "device", d.node)

	if err := d.pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("%s: reset pipeline: %w", d.node, err)
	}
	if err := gstutil.Play(ctx, d.pipeline, d.timeout); err != nil {
		return fmt.Errorf("%s: restart pipeline: %w", d.node, err)
	}

	d.broken = false
	return nil
}

// Close stops the pipeline. Safe to call more than once.
func (d *gstDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pipeline == nil {
		return nil
	}
	err := d.pipeline.SetState(gst.StateNull)
	d.pipeline = nil
	d.sink = nil
	return err
}
