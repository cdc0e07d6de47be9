package distribution

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	// Boundary separates MJPEG parts.
	Boundary = "frame"

	defaultJPEGQuality  = 80
	defaultPollInterval = 33 * time.Millisecond
)

// MJPEGOptions configures the HTTP distributor.
type MJPEGOptions struct {
	// Quality is the JPEG quality, 1-100 (default 80).
	Quality int

	// PollInterval is how often a stream checks for a new frame (default 33ms).
	PollInterval time.Duration
}

// MJPEG serves the source as multipart/x-mixed-replace and as snapshots.
type MJPEG struct {
	src  Source
	opts MJPEGOptions
	jpeg *jpegCache

	clients atomic.Int64
	served  atomic.Uint64
}

// NewMJPEG creates the HTTP distributor.
func NewMJPEG(src Source, opts MJPEGOptions) *MJPEG {
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = defaultJPEGQuality
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	return &MJPEG{src: src, opts: opts, jpeg: newJPEGCache(opts.Quality)}
}

// Register mounts /video_feed and /snapshot.jpg.
func (m *MJPEG) Register(r gin.IRoutes) {
	r.GET("/video_feed", m.Stream)
	r.GET("/snapshot.jpg", m.Snapshot)
}

// Stream writes every new frame as one multipart part until the client goes
// away. Frames that arrive faster than the poll interval are skipped.
func (m *MJPEG) Stream(c *gin.Context) {
	c.Header("Content-Type", "multipart/x-mixed-replace; boundary="+Boundary)
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	// Send headers now; the first frame may be a while.
	c.Writer.Flush()

	m.clients.Add(1)
	defer m.clients.Add(-1)

	slog.Debug("distribution: mjpeg client connected", "remote", c.ClientIP())

	ticker := time.NewTicker(m.opts.PollInterval)
	defer ticker.Stop()

	clientGone := c.Request.Context().Done()
	var (
		lastSeq uint64
		sent    bool
	)

	for {
		if f, ok := m.src.Latest(); ok && (!sent || f.Seq != lastSeq) {
			data, err := m.jpeg.get(f)
			if err != nil {
				slog.Warn("distribution: jpeg encode failed", "seq", f.Seq, "error", err)
			} else {
				if err := writePart(c.Writer, data); err != nil {
					slog.Debug("distribution: mjpeg client write failed", "error", err)
					return
				}
				c.Writer.Flush()
				m.served.Add(1)
			}
			lastSeq, sent = f.Seq, true
		}

		select {
		case <-clientGone:
			slog.Debug("distribution: mjpeg client disconnected", "remote", c.ClientIP())
			return
		case <-ticker.C:
		}
	}
}

func writePart(w gin.ResponseWriter, data []byte) error {
	header := fmt.Sprintf("--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", Boundary, len(data))
	if _, err := w.WriteString(header); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := w.WriteString("\r\n")
	return err
}

// Snapshot serves the latest frame as a single JPEG, or 503 before the first
// frame exists.
func (m *MJPEG) Snapshot(c *gin.Context) {
	f, ok := m.src.Latest()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":     "no_frame",
			"message":   "no frame available yet",
			"timestamp": time.Now(),
		})
		return
	}

	data, err := m.jpeg.get(f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "encode_failed", "message": err.Error()})
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Frame-Seq", strconv.FormatUint(f.Seq, 10))
	c.Data(http.StatusOK, "image/jpeg", data)
	m.served.Add(1)
}

// MJPEGStats is a snapshot of the HTTP distributor.
type MJPEGStats struct {
	Clients int64  `json:"clients"`
	Served  uint64 `json:"served"`
}

// Stats returns a snapshot.
func (m *MJPEG) Stats() MJPEGStats {
	return MJPEGStats{Clients: m.clients.Load(), Served: m.served.Load()}
}
