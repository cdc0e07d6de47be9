package distribution

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/orion-rig360/internal/gstutil"
	"github.com/e7canasta/orion-rig360/modules/frameslot"
	"github.com/e7canasta/orion-rig360/modules/imaging"
)

const (
	defaultRTSPHost    = "127.0.0.1"
	defaultRTSPPort    = 8554
	defaultRTSPBitrate = 3000 // kbit/s
	rtspStartTimeout   = 5 * time.Second
	rtspRestartDelay   = time.Second
)

// RTSPConfig configures the H.264 pusher. The RTP stream is sent over UDP to
// Host:Port, where an RTSP relay picks it up.
type RTSPConfig struct {
	Host    string
	Port    int
	Width   int
	Height  int
	FPS     int
	Bitrate int // kbit/s
}

func (c RTSPConfig) withDefaults() RTSPConfig {
	if c.Host == "" {
		c.Host = defaultRTSPHost
	}
	if c.Port == 0 {
		c.Port = defaultRTSPPort
	}
	if c.Bitrate <= 0 {
		c.Bitrate = defaultRTSPBitrate
	}
	return c
}

// Validate checks the stream geometry.
func (c RTSPConfig) Validate() error {
	if c.Width <= 0 || c.Height <= 0 || c.FPS <= 0 {
		return fmt.Errorf("distribution: invalid rtsp format %dx%d@%d", c.Width, c.Height, c.FPS)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("distribution: invalid rtsp port %d", c.Port)
	}
	return nil
}

// pipelineDescription builds the encoder pipeline:
//
//	appsrc(BGR) → videoconvert → x264enc → rtph264pay → udpsink
func (c RTSPConfig) pipelineDescription() string {
	return fmt.Sprintf(
		"appsrc name=src is-live=true format=time do-timestamp=true "+
			"caps=video/x-raw,format=BGR,width=%d,height=%d,framerate=%d/1 ! "+
			"videoconvert ! x264enc tune=zerolatency bitrate=%d speed-preset=superfast ! "+
			"rtph264pay config-interval=1 pt=96 ! udpsink host=%s port=%d sync=false",
		c.Width, c.Height, c.FPS, c.Bitrate, c.Host, c.Port,
	)
}

// RTSPPusher feeds the latest frame into the encoder at a constant rate. The
// same frame is repeated while upstream is stalled so the stream keeps its
// cadence; nothing is pushed before the first frame exists.
type RTSPPusher struct {
	cfg RTSPConfig
	src Source

	pushed   atomic.Uint64
	restarts atomic.Uint64
}

// NewRTSPPusher validates the configuration.
func NewRTSPPusher(cfg RTSPConfig, src Source) (*RTSPPusher, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if src == nil {
		return nil, fmt.Errorf("distribution: rtsp pusher needs a source")
	}
	return &RTSPPusher{cfg: cfg, src: src}, nil
}

// Run pushes frames until ctx is cancelled. Pipeline failures are logged and
// the pipeline is rebuilt after a short delay.
func (p *RTSPPusher) Run(ctx context.Context) error {
	slog.Info("distribution: rtsp pusher started",
		"target", fmt.Sprintf("%s:%d", p.cfg.Host, p.cfg.Port),
		"format", fmt.Sprintf("%dx%d@%d", p.cfg.Width, p.cfg.Height, p.cfg.FPS),
	)

	for {
		err := p.runPipeline(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		p.restarts.Add(1)
		slog.Error("distribution: rtsp pipeline failed, restarting", "error", err, "delay", rtspRestartDelay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(rtspRestartDelay):
		}
	}
}

func (p *RTSPPusher) runPipeline(ctx context.Context) error {
	pipeline, elem, err := gstutil.Launch(p.cfg.pipelineDescription(), "src")
	if err != nil {
		return err
	}
	defer pipeline.SetState(gst.StateNull)

	if err := gstutil.Play(ctx, pipeline, rtspStartTimeout); err != nil {
		return err
	}
	src := app.SrcFromElement(elem)
	defer src.EndStream()

	ticker := time.NewTicker(time.Second / time.Duration(p.cfg.FPS))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if err := gstutil.PollError(pipeline); err != nil {
			return err
		}

		f, ok := p.src.Latest()
		if !ok {
			continue
		}
		data, err := p.prepare(f)
		if err != nil {
			slog.Warn("distribution: rtsp frame dropped", "seq", f.Seq, "error", err)
			continue
		}

		if ret := src.PushBuffer(gst.NewBufferFromBytes(data)); ret != gst.FlowOK {
			return fmt.Errorf("distribution: appsrc push returned %v", ret)
		}
		p.pushed.Add(1)
	}
}

// prepare returns BGR bytes at the stream size.
func (p *RTSPPusher) prepare(f *frameslot.Frame) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if f.Width == p.cfg.Width && f.Height == p.cfg.Height {
		return f.Data, nil
	}
	scaled, err := imaging.Resize(f, p.cfg.Width, p.cfg.Height, imaging.Bilinear)
	if err != nil {
		return nil, err
	}
	return scaled.Data, nil
}

// RTSPStats is a snapshot of the pusher.
type RTSPStats struct {
	Pushed   uint64 `json:"pushed"`
	Restarts uint64 `json:"restarts"`
}

// Stats returns a snapshot.
func (p *RTSPPusher) Stats() RTSPStats {
	return RTSPStats{Pushed: p.pushed.Load(), Restarts: p.restarts.Load()}
}
