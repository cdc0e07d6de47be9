package core

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/e7canasta/orion-rig360/internal/emitter"
	"github.com/e7canasta/orion-rig360/modules/capture"
	"github.com/e7canasta/orion-rig360/modules/distribution"
	"github.com/e7canasta/orion-rig360/modules/frameslot"
	"github.com/e7canasta/orion-rig360/modules/stage"
	"github.com/e7canasta/orion-rig360/modules/transport"
)

// HealthStatus represents the health state of the rig service
type HealthStatus struct {
	Status        string `json:"status"` // "healthy", "degraded", "unhealthy"
	InstanceID    string `json:"instance_id"`
	Role          string `json:"role"`
	Session       string `json:"session"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	CamerasUp     int    `json:"cameras_up"`
	CamerasTotal  int    `json:"cameras_total"`
	PeersUp       int    `json:"peers_up"`
	PeersTotal    int    `json:"peers_total"`
	OutputStale   bool   `json:"output_stale"`
	MQTTConnected bool   `json:"mqtt_connected"`
}

// HealthCheck returns the current health status of the service.
//
// Unhealthy means not running. Degraded means running with a camera that
// keeps failing, a missing peer, or no fresh output frame.
func (r *Rig) HealthCheck() HealthStatus {
	r.mu.RLock()
	running := r.isRunning
	started := r.started
	r.mu.RUnlock()

	status := HealthStatus{
		Status:       "healthy",
		InstanceID:   r.cfg.InstanceID,
		Role:         string(r.cfg.Role),
		Session:      r.session,
		CamerasTotal: len(r.cfg.Group.Cameras),
		PeersTotal:   len(r.receivers),
		OutputStale:  r.final.Stats().IsStale,
	}
	if running {
		status.UptimeSeconds = int64(time.Since(started).Seconds())
	}

	for _, cam := range r.capture.Stats() {
		if cam.Running && cam.ConsecutiveFailures == 0 {
			status.CamerasUp++
		}
	}
	for _, recv := range r.receivers {
		if !recv.Slot().Stats().IsStale {
			status.PeersUp++
		}
	}
	if r.sender != nil {
		status.PeersTotal = 1
		if r.sender.Stats().Connected {
			status.PeersUp = 1
		}
	}
	if r.emitter != nil {
		status.MQTTConnected = r.emitter.Stats().Connected
	}

	switch {
	case !running:
		status.Status = "unhealthy"
	case status.CamerasUp < status.CamerasTotal,
		status.PeersUp < status.PeersTotal,
		status.OutputStale:
		status.Status = "degraded"
	}

	return status
}

// RigStats is the detailed operational snapshot served on /stats.
type RigStats struct {
	Cameras   []capture.CameraStats     `json:"cameras"`
	Stages    []stage.Stats             `json:"stages"`
	Sender    *transport.SenderStats    `json:"sender,omitempty"`
	Receivers []transport.ReceiverStats `json:"receivers,omitempty"`
	Output    frameslot.Stats           `json:"output"`
	MJPEG     distribution.MJPEGStats   `json:"mjpeg"`
	RTSP      *distribution.RTSPStats   `json:"rtsp,omitempty"`
	MQTT      *emitter.Stats            `json:"mqtt,omitempty"`
}

// Stats collects a snapshot from every component.
func (r *Rig) Stats() RigStats {
	st := RigStats{
		Cameras: r.capture.Stats(),
		Output:  r.final.Stats(),
		MJPEG:   r.mjpeg.Stats(),
	}
	for _, loop := range r.loops {
		st.Stages = append(st.Stages, loop.Stats())
	}
	if r.sender != nil {
		s := r.sender.Stats()
		st.Sender = &s
	}
	for _, recv := range r.receivers {
		st.Receivers = append(st.Receivers, recv.Stats())
	}
	if r.rtsp != nil {
		s := r.rtsp.Stats()
		st.RTSP = &s
	}
	if r.emitter != nil {
		s := r.emitter.Stats()
		st.MQTT = &s
	}
	return st
}

func (r *Rig) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	r.mjpeg.Register(engine)
	engine.GET("/health", r.livenessHandler)
	engine.GET("/readiness", r.readinessHandler)
	engine.GET("/stats", r.statsHandler)

	return engine
}

// livenessHandler answers 200 while the process can serve requests.
func (r *Rig) livenessHandler(c *gin.Context) {
	r.mu.RLock()
	started := r.started
	r.mu.RUnlock()

	var uptime int64
	if !started.IsZero() {
		uptime = int64(time.Since(started).Seconds())
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive", "uptime": uptime})
}

// readinessHandler answers 503 only when the rig is not running; a degraded
// rig still serves its output.
func (r *Rig) readinessHandler(c *gin.Context) {
	health := r.HealthCheck()

	code := http.StatusOK
	if health.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, health)
}

func (r *Rig) statsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, r.Stats())
}

// logStats periodically logs per-stage timing and the transport counters.
func (r *Rig) logStats(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, loop := range r.loops {
				st := loop.Stats()
				attrs := []any{
					"stage", st.Name,
					"cycles", st.Cycles,
					"published", st.Published,
					"skipped", st.Skipped,
					"failed", st.Failed,
					"mean_ms", st.Timing.Mean.Milliseconds(),
					"max_ms", st.Timing.Max.Milliseconds(),
				}
				if st.Timing.OverBudget(st.Interval) {
					slog.Warn("rig: stage over budget", attrs...)
				} else {
					slog.Info("rig: stage stats", attrs...)
				}
			}
			for _, recv := range r.receivers {
				st := recv.Stats()
				slog.Info("rig: receiver stats",
					"channel", st.Name,
					"sessions", st.Sessions,
					"received", st.Sequence.Received,
					"lost", st.Sequence.Lost,
					"restarts", st.Sequence.Restarts,
				)
			}
			if r.sender != nil {
				st := r.sender.Stats()
				slog.Info("rig: sender stats",
					"channel", st.Name,
					"sessions", st.Sessions,
					"sent", st.Sent,
					"dropped", st.Dropped,
					"last_seq", st.LastSeq,
				)
			}
		}
	}
}
