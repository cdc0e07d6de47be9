package config

import (
	"fmt"
	"regexp"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Defaults of the original rig: four cameras per host, 800x600 working
// frames, peer on port 8000, MJPEG on :5000, RTSP on 8554.
const (
	DefaultPeerPort    = 8000
	DefaultHTTPAddr    = ":5000"
	DefaultRTSPPort    = 8554
	DefaultWorkWidth   = 800
	DefaultWorkHeight  = 600
	DefaultCompassSize = 100
	DefaultCompassX    = 50
	DefaultCompassY    = 50
)

// Validate checks the configuration and fills in defaults. Every error wraps
// ErrConfiguration.
func Validate(cfg *Config) error {
	if err := validate(cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return nil
}

func validate(cfg *Config) error {
	// Validate instance_id
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	switch cfg.Role {
	case RoleEdge, RoleHub:
	case "":
		return fmt.Errorf("role is required (edge or hub)")
	default:
		return fmt.Errorf("unknown role %q (must be 'edge' or 'hub')", cfg.Role)
	}

	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = 5
	}

	if err := validateGroup(&cfg.Group); err != nil {
		return fmt.Errorf("group: %w", err)
	}
	if err := validateStitch(&cfg.Stitch, len(cfg.Group.Cameras)); err != nil {
		return fmt.Errorf("stitch: %w", err)
	}

	switch cfg.Role {
	case RoleEdge:
		if err := validatePeer(&cfg.Peer); err != nil {
			return fmt.Errorf("peer: %w", err)
		}
	case RoleHub:
		if err := validateRemotes(cfg.Remotes); err != nil {
			return fmt.Errorf("remotes: %w", err)
		}
		if err := validateCombine(&cfg.Combine, cfg.Stitch, 1+len(cfg.Remotes)); err != nil {
			return fmt.Errorf("combine: %w", err)
		}
		if err := validateOverlay(&cfg.Overlay); err != nil {
			return fmt.Errorf("overlay: %w", err)
		}
	}

	validateDistribution(&cfg.Distribution, cfg.Group.FPS)

	if cfg.MQTT.Broker != "" {
		if cfg.MQTT.HealthTopic == "" {
			cfg.MQTT.HealthTopic = fmt.Sprintf("rig/health/%s", cfg.InstanceID)
		}
		if cfg.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
		}
		if cfg.MQTT.HealthIntervalS <= 0 {
			cfg.MQTT.HealthIntervalS = 10
		}
	}

	return nil
}

func validateGroup(g *GroupConfig) error {
	if g.Name == "" {
		g.Name = "local"
	}
	if len(g.Cameras) == 0 {
		g.Cameras = []int{0, 1, 2, 3}
	}
	seen := make(map[int]bool, len(g.Cameras))
	for _, idx := range g.Cameras {
		if idx < 0 {
			return fmt.Errorf("camera index %d must be >= 0", idx)
		}
		if seen[idx] {
			return fmt.Errorf("camera %d listed twice", idx)
		}
		seen[idx] = true
	}

	switch g.Source {
	case "":
		g.Source = "v4l2"
	case "v4l2", "synthetic":
	default:
		return fmt.Errorf("unknown source %q (must be 'v4l2' or 'synthetic')", g.Source)
	}

	if g.Width <= 0 {
		g.Width = 640
	}
	if g.Height <= 0 {
		g.Height = 480
	}
	if g.FPS <= 0 {
		g.FPS = 15
	}
	return nil
}

func validateStitch(s *StitchConfig, cameras int) error {
	if s.WorkWidth <= 0 {
		s.WorkWidth = DefaultWorkWidth
	}
	if s.WorkHeight <= 0 {
		s.WorkHeight = DefaultWorkHeight
	}
	if s.IntervalMS <= 0 {
		s.IntervalMS = 66
	}

	switch s.Strategy {
	case "", "equirect":
		s.Strategy = "equirect"
		if s.OutputWidth <= 0 {
			s.OutputWidth = s.WorkWidth * cameras
		}
		if s.OutputHeight <= 0 {
			s.OutputHeight = s.WorkHeight
		}
		if s.FOVPerCamera <= 0 {
			s.FOVPerCamera = 41
		}
		if s.FOVPerCamera > 360 {
			return fmt.Errorf("fov_per_camera %.1f exceeds 360", s.FOVPerCamera)
		}
	case "panorama":
		if s.MinOverlap <= 0 {
			s.MinOverlap = s.WorkWidth / 20
		}
		if s.MaxOverlap <= 0 {
			s.MaxOverlap = s.WorkWidth / 3
		}
		if s.MaxOverlap < s.MinOverlap || s.MaxOverlap >= s.WorkWidth {
			return fmt.Errorf("overlap range [%d, %d] invalid for work width %d", s.MinOverlap, s.MaxOverlap, s.WorkWidth)
		}
		if s.MaxMeanDiff <= 0 {
			s.MaxMeanDiff = 40
		}
	default:
		return fmt.Errorf("unknown strategy %q (must be 'equirect' or 'panorama')", s.Strategy)
	}
	return nil
}

func validatePeer(p *PeerConfig) error {
	if p.Address == "" {
		return fmt.Errorf("address is required for an edge")
	}
	switch p.Compression {
	case "":
		p.Compression = "none"
	case "none", "zstd":
	default:
		return fmt.Errorf("unknown compression %q (must be 'none' or 'zstd')", p.Compression)
	}
	if p.RetryDelayMS <= 0 {
		p.RetryDelayMS = 1000
	}
	if p.MaxRetryDelayMS <= 0 {
		p.MaxRetryDelayMS = 30000
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0")
	}
	return nil
}

func validateRemotes(remotes []RemoteConfig) error {
	names := make(map[string]bool, len(remotes))
	for i := range remotes {
		r := &remotes[i]
		if r.Name == "" {
			r.Name = fmt.Sprintf("edge-%d", i)
		}
		if names[r.Name] {
			return fmt.Errorf("remote %q listed twice", r.Name)
		}
		names[r.Name] = true
		if r.Listen == "" {
			r.Listen = fmt.Sprintf(":%d", DefaultPeerPort+i)
		}
	}
	return nil
}

func validateCombine(c *CombineConfig, s StitchConfig, inputs int) error {
	if c.Height <= 0 {
		c.Height = s.WorkHeight
	}
	if c.Width <= 0 {
		c.Width = 2 * c.Height // equirectangular 2:1
	}
	if c.IntervalMS <= 0 {
		c.IntervalMS = s.IntervalMS
	}
	if len(c.Placements) != 0 && len(c.Placements) != inputs {
		return fmt.Errorf("%d placements for %d inputs (local group + %d remotes)", len(c.Placements), inputs, inputs-1)
	}
	for i, p := range c.Placements {
		if p.OffsetDeg < 0 || p.OffsetDeg >= 360 || p.SpanDeg <= 0 || p.SpanDeg > 360 {
			return fmt.Errorf("placement %d: offset %.1f° / span %.1f° out of range", i, p.OffsetDeg, p.SpanDeg)
		}
	}
	return nil
}

func validateOverlay(o *OverlayConfig) error {
	if o.Disabled {
		return nil
	}
	if o.Asset == "" {
		if o.Size <= 0 {
			o.Size = DefaultCompassSize
		}
		if o.X == 0 && o.Y == 0 {
			o.X, o.Y = DefaultCompassX, DefaultCompassY
		}
	}
	if o.X < 0 || o.Y < 0 {
		return fmt.Errorf("position (%d,%d) must be non-negative", o.X, o.Y)
	}
	return nil
}

func validateDistribution(d *DistributionConfig, fps int) {
	if d.HTTPAddr == "" {
		d.HTTPAddr = DefaultHTTPAddr
	}
	if d.JPEGQuality <= 0 || d.JPEGQuality > 100 {
		d.JPEGQuality = 80
	}
	if d.RTSP.Port == 0 {
		d.RTSP.Port = DefaultRTSPPort
	}
	if d.RTSP.FPS <= 0 {
		d.RTSP.FPS = fps
	}
}
