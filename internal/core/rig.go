package core

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/e7canasta/orion-rig360/internal/config"
	"github.com/e7canasta/orion-rig360/internal/emitter"
	"github.com/e7canasta/orion-rig360/modules/capture"
	"github.com/e7canasta/orion-rig360/modules/combine"
	"github.com/e7canasta/orion-rig360/modules/distribution"
	"github.com/e7canasta/orion-rig360/modules/frameslot"
	"github.com/e7canasta/orion-rig360/modules/imaging"
	"github.com/e7canasta/orion-rig360/modules/overlay"
	"github.com/e7canasta/orion-rig360/modules/stage"
	"github.com/e7canasta/orion-rig360/modules/stitch"
	"github.com/e7canasta/orion-rig360/modules/transport"
)

// statsInterval is the period of the diagnostics logger.
const statsInterval = 10 * time.Second

// Rig is the main service orchestrator. It wires the stages of one host:
//
//	edge: capture → stitch → sender
//	hub:  capture → stitch ─┐
//	      receivers ────────┴→ combine → overlay → MJPEG / RTSP
type Rig struct {
	cfg     *config.Config
	session string // unique per process, tags health reports

	// Core components
	capture   *capture.Stage
	stitch    *stitch.Stage
	loops     []*stage.Loop
	sender    *transport.Sender
	receivers []*transport.Receiver
	combine   *combine.Stage
	overlay   *overlay.Stage
	final     *frameslot.Slot // what distribution serves
	mjpeg     *distribution.MJPEG
	rtsp      *distribution.RTSPPusher
	emitter   *emitter.MQTTEmitter
	engine    *gin.Engine
	server    *http.Server

	// Lifecycle management
	started   time.Time
	mu        sync.RWMutex
	wg        sync.WaitGroup
	isRunning bool
	cancelRun context.CancelFunc
}

// NewRig builds every stage of the configured role. Nothing runs and no
// device is opened yet; receivers already own their listening sockets.
//
// A nil opener selects one from cfg.Group.Source.
func NewRig(cfg *config.Config, opener capture.Opener) (*Rig, error) {
	if opener == nil {
		opener = openerFor(cfg.Group)
	}

	r := &Rig{
		cfg:     cfg,
		session: uuid.New().String(),
	}

	var err error
	r.capture, err = capture.New(capture.Config{Cameras: cfg.Group.Cameras}, opener)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrConfiguration, err)
	}

	r.stitch, err = stitch.NewStage(stitch.Config{
		Group:      cfg.Group.Name,
		WorkWidth:  cfg.Stitch.WorkWidth,
		WorkHeight: cfg.Stitch.WorkHeight,
		Quality:    imaging.Bilinear,
	}, r.capture.Slots(), stitcherFor(cfg.Stitch))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrConfiguration, err)
	}
	if err := r.addLoop("stitch-"+cfg.Group.Name, cfg.Stitch.Interval(), r.stitch); err != nil {
		return nil, err
	}

	switch cfg.Role {
	case config.RoleEdge:
		err = r.buildEdge()
	case config.RoleHub:
		err = r.buildHub()
	default:
		err = fmt.Errorf("%w: unknown role %q", config.ErrConfiguration, cfg.Role)
	}
	if err != nil {
		r.closeReceivers()
		return nil, err
	}

	r.mjpeg = distribution.NewMJPEG(r.final, distribution.MJPEGOptions{Quality: cfg.Distribution.JPEGQuality})

	if cfg.MQTT.Broker != "" {
		r.emitter = emitter.NewMQTTEmitter(emitter.Config{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.InstanceID,
			Topic:    cfg.MQTT.HealthTopic,
			QoS:      cfg.MQTT.QoS,
			Interval: cfg.MQTT.HealthInterval(),
		})
	}

	r.engine = r.routes()

	slog.Info("rig: pipeline built",
		"instance_id", cfg.InstanceID,
		"role", cfg.Role,
		"group", cfg.Group.Name,
		"cameras", cfg.Group.Cameras,
		"stitch", cfg.Stitch.Strategy,
		"remotes", len(r.receivers),
	)

	return r, nil
}

func (r *Rig) buildEdge() error {
	var err error
	r.sender, err = transport.NewSender(transport.SenderConfig{
		Name:    r.cfg.Group.Name + "->hub",
		Addr:    r.cfg.Peer.Address,
		Options: transport.Options{Compression: compressionFor(r.cfg.Peer.Compression)},
		Reconnect: transport.ReconnectConfig{
			MaxRetries:    r.cfg.Peer.MaxRetries,
			RetryDelay:    time.Duration(r.cfg.Peer.RetryDelayMS) * time.Millisecond,
			MaxRetryDelay: time.Duration(r.cfg.Peer.MaxRetryDelayMS) * time.Millisecond,
		},
	}, r.stitch.Output())
	if err != nil {
		return fmt.Errorf("%w: %w", config.ErrConfiguration, err)
	}

	// The edge previews its own stitched output.
	r.final = r.stitch.Output()
	return nil
}

func (r *Rig) buildHub() error {
	remotes := make([]*frameslot.Slot, 0, len(r.cfg.Remotes))
	for _, rc := range r.cfg.Remotes {
		recv, err := transport.NewReceiver(transport.ReceiverConfig{
			Name:      rc.Name,
			Addr:      rc.Listen,
			Reconnect: transport.DefaultReconnectConfig(),
		})
		if err != nil {
			return fmt.Errorf("remote %s: %w", rc.Name, err)
		}
		r.receivers = append(r.receivers, recv)
		remotes = append(remotes, recv.Slot())
	}

	layout := combine.DefaultLayout(r.cfg.Combine.Width, r.cfg.Combine.Height, 1+len(remotes))
	if len(r.cfg.Combine.Placements) > 0 {
		layout.Placements = slices.Clone(r.cfg.Combine.Placements)
	}

	var err error
	r.combine, err = combine.NewStage(layout, r.stitch.Output(), remotes...)
	if err != nil {
		return fmt.Errorf("%w: %w", config.ErrConfiguration, err)
	}
	if err := r.addLoop("combine", r.cfg.Combine.Interval(), r.combine); err != nil {
		return err
	}
	r.final = r.combine.Output()

	if !r.cfg.Overlay.Disabled {
		ov, err := newOverlay(r.cfg.Overlay, layout.Width, layout.Height)
		if err != nil {
			return fmt.Errorf("%w: %w", config.ErrConfiguration, err)
		}
		r.overlay, err = overlay.NewStage(ov, r.combine.Output())
		if err != nil {
			return fmt.Errorf("%w: %w", config.ErrConfiguration, err)
		}
		if err := r.addLoop("overlay", r.cfg.Combine.Interval(), r.overlay); err != nil {
			return err
		}
		r.final = r.overlay.Output()
	}

	if r.cfg.Distribution.RTSP.Enabled {
		r.rtsp, err = distribution.NewRTSPPusher(distribution.RTSPConfig{
			Host:    r.cfg.Distribution.RTSP.Host,
			Port:    r.cfg.Distribution.RTSP.Port,
			Width:   layout.Width,
			Height:  layout.Height,
			FPS:     r.cfg.Distribution.RTSP.FPS,
			Bitrate: r.cfg.Distribution.RTSP.Bitrate,
		}, r.final)
		if err != nil {
			return fmt.Errorf("%w: %w", config.ErrConfiguration, err)
		}
	}

	return nil
}

// newOverlay prepares the overlay asset; a size mismatch with the composite
// is reported here, before anything runs.
func newOverlay(cfg config.OverlayConfig, frameWidth, frameHeight int) (*overlay.Overlay, error) {
	var img image.Image
	if cfg.Asset != "" {
		var err error
		if img, err = overlay.Load(cfg.Asset); err != nil {
			return nil, err
		}
	} else {
		img = overlay.Compass(cfg.Size)
	}
	return overlay.New(img, cfg.X, cfg.Y, frameWidth, frameHeight)
}

func (r *Rig) addLoop(name string, interval time.Duration, stepper stage.Stepper) error {
	loop, err := stage.NewLoop(name, interval, stepper)
	if err != nil {
		return fmt.Errorf("%w: %w", config.ErrConfiguration, err)
	}
	r.loops = append(r.loops, loop)
	return nil
}

func openerFor(g config.GroupConfig) capture.Opener {
	if g.Source == "synthetic" {
		return capture.SyntheticOpener{Width: g.Width, Height: g.Height, FPS: g.FPS}
	}
	return capture.GstOpener{Width: g.Width, Height: g.Height, FPS: g.FPS, DevicePattern: g.DevicePattern}
}

func stitcherFor(s config.StitchConfig) stitch.Stitcher {
	if s.Strategy == "panorama" {
		return stitch.Panorama{MinOverlap: s.MinOverlap, MaxOverlap: s.MaxOverlap, MaxMeanDiff: s.MaxMeanDiff}
	}
	return stitch.Equirect{Width: s.OutputWidth, Height: s.OutputHeight, FOVPerCamera: s.FOVPerCamera}
}

func compressionFor(name string) transport.Compression {
	if name == "zstd" {
		return transport.CompressionZstd
	}
	return transport.CompressionNone
}

// Final returns the slot served to consumers (composite with overlay on a
// hub, stitched group on an edge).
func (r *Rig) Final() *frameslot.Slot {
	return r.final
}

// Handler returns the HTTP routes (stream, snapshot, health).
func (r *Rig) Handler() http.Handler {
	return r.engine
}

// ReceiverAddrs returns the bound transport addresses of a hub.
func (r *Rig) ReceiverAddrs() []string {
	addrs := make([]string, len(r.receivers))
	for i, recv := range r.receivers {
		addrs[i] = recv.Addr()
	}
	return addrs
}

// Run starts the pipeline and blocks until ctx is cancelled. A camera that
// cannot be opened aborts startup with capture.ErrDeviceUnavailable.
func (r *Rig) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.isRunning {
		r.mu.Unlock()
		return fmt.Errorf("rig is already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	r.isRunning = true
	r.started = time.Now()
	r.cancelRun = cancel
	r.server = &http.Server{
		Addr:              r.cfg.Distribution.HTTPAddr,
		Handler:           r.engine,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		// Cancelling the run ends open MJPEG streams.
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	r.mu.Unlock()

	slog.Info("rig: starting", "instance_id", r.cfg.InstanceID, "role", r.cfg.Role, "session", r.session)

	// All-or-nothing: a missing camera leaves nothing open behind.
	if err := r.capture.Start(ctx); err != nil {
		cancel()
		r.closeReceivers()
		r.mu.Lock()
		r.isRunning = false
		r.mu.Unlock()
		return err
	}

	for _, loop := range r.loops {
		r.goRun(func() { loop.Run(ctx) })
	}
	if r.sender != nil {
		r.goRun(func() { r.sender.Run(ctx) })
	}
	for _, recv := range r.receivers {
		r.goRun(func() { recv.Run(ctx) })
	}
	if r.rtsp != nil {
		r.goRun(func() { r.rtsp.Run(ctx) })
	}

	server := r.server
	r.goRun(func() {
		slog.Info("rig: http server listening",
			"addr", server.Addr,
			"endpoints", []string{"/video_feed", "/snapshot.jpg", "/health", "/readiness", "/stats"},
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("rig: http server failed", "error", err)
		}
	})

	if r.emitter != nil {
		if err := r.emitter.Connect(ctx); err != nil {
			// Telemetry is optional: the pipeline runs without it.
			slog.Warn("rig: mqtt telemetry unavailable", "error", err)
		}
		r.goRun(func() { r.emitter.Run(ctx, func() any { return r.HealthCheck() }) })
	}

	r.goRun(func() { r.logStats(ctx, statsInterval) })

	slog.Info("rig: running", "stages", len(r.loops), "receivers", len(r.receivers))

	<-ctx.Done()

	slog.Info("rig: run loop exiting")
	return nil
}

func (r *Rig) goRun(fn func()) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		fn()
	}()
}

// Shutdown stops every component in dependency order and waits for all
// goroutines, bounded by ctx.
func (r *Rig) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if !r.isRunning {
		r.mu.Unlock()
		return nil
	}
	cancel := r.cancelRun
	server := r.server
	r.mu.Unlock()

	slog.Info("rig: shutting down")

	var errs error

	// 1. Stop stages, transport and distribution (they only read slots)
	cancel()

	// 2. Stop capture: joins camera workers, each closes its device
	if err := r.capture.Stop(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("capture: %w", err))
	}

	// 3. Stop HTTP (ends MJPEG streams)
	if server != nil {
		if err := server.Shutdown(ctx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("http: %w", err))
		}
	}

	// 4. Wait for goroutines to finish
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = multierr.Append(errs, fmt.Errorf("waiting for goroutines: %w", ctx.Err()))
	}

	// 5. Disconnect MQTT
	if r.emitter != nil {
		r.emitter.Disconnect()
	}

	r.mu.Lock()
	uptime := time.Since(r.started)
	r.isRunning = false
	r.mu.Unlock()

	slog.Info("rig: shutdown complete", "uptime", uptime, "error", errs)
	return errs
}

// closeReceivers releases listening sockets of a rig that never ran.
func (r *Rig) closeReceivers() {
	for _, recv := range r.receivers {
		recv.Close()
	}
}

// ShutdownTimeout returns the configured graceful shutdown timeout.
func (r *Rig) ShutdownTimeout() time.Duration {
	timeout := r.cfg.ShutdownTimeout()
	if timeout == 0 {
		return 5 * time.Second
	}
	return timeout
}
