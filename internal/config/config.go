package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/e7canasta/orion-rig360/modules/combine"
)

// ErrConfiguration marks every startup configuration problem. It is fatal:
// the rig does not start on a bad configuration.
var ErrConfiguration = errors.New("configuration error")

// Role selects which half of the rig a host runs.
type Role string

const (
	// RoleEdge captures and stitches its camera group and sends the result
	// to the hub.
	RoleEdge Role = "edge"

	// RoleHub captures and stitches its own group, receives the edges,
	// combines, overlays and distributes.
	RoleHub Role = "hub"
)

// Config represents the complete rig configuration. Loaded once at startup.
type Config struct {
	InstanceID       string             `yaml:"instance_id"`
	Role             Role               `yaml:"role"`
	ShutdownTimeoutS int                `yaml:"shutdown_timeout_s"` // Graceful shutdown timeout in seconds (default: 5)
	Group            GroupConfig        `yaml:"group"`
	Stitch           StitchConfig       `yaml:"stitch"`
	Peer             PeerConfig         `yaml:"peer"`    // edge only
	Remotes          []RemoteConfig     `yaml:"remotes"` // hub only
	Combine          CombineConfig      `yaml:"combine"`
	Overlay          OverlayConfig      `yaml:"overlay"`
	Distribution     DistributionConfig `yaml:"distribution"`
	MQTT             MQTTConfig         `yaml:"mqtt"`
}

// GroupConfig is the camera group captured by this host.
type GroupConfig struct {
	Name          string `yaml:"name"`
	Cameras       []int  `yaml:"cameras"`        // device indices, stitch order
	Source        string `yaml:"source"`         // v4l2, synthetic
	Width         int    `yaml:"width"`          // capture width
	Height        int    `yaml:"height"`         // capture height
	FPS           int    `yaml:"fps"`            // capture fps
	DevicePattern string `yaml:"device_pattern"` // e.g. /dev/video%d
}

// StitchConfig selects and tunes the stitching strategy.
type StitchConfig struct {
	Strategy     string  `yaml:"strategy"` // equirect, panorama
	WorkWidth    int     `yaml:"work_width"`
	WorkHeight   int     `yaml:"work_height"`
	IntervalMS   int     `yaml:"interval_ms"`
	OutputWidth  int     `yaml:"output_width"`  // equirect canvas
	OutputHeight int     `yaml:"output_height"` // equirect canvas
	FOVPerCamera float64 `yaml:"fov_per_camera"`
	MinOverlap   int     `yaml:"min_overlap"`   // panorama
	MaxOverlap   int     `yaml:"max_overlap"`   // panorama
	MaxMeanDiff  float64 `yaml:"max_mean_diff"` // panorama
}

// PeerConfig is where an edge sends its stitched frames.
type PeerConfig struct {
	Address         string `yaml:"address"`
	Compression     string `yaml:"compression"` // none, zstd
	RetryDelayMS    int    `yaml:"retry_delay_ms"`
	MaxRetryDelayMS int    `yaml:"max_retry_delay_ms"`
	MaxRetries      int    `yaml:"max_retries"` // 0 = retry forever
}

// RemoteConfig is one edge a hub receives from.
type RemoteConfig struct {
	Name   string `yaml:"name"`
	Listen string `yaml:"listen"`
}

// CombineConfig is the composite canvas. Placements list the local group
// first, then remotes in order; empty means an even split.
type CombineConfig struct {
	Width      int                 `yaml:"width"`
	Height     int                 `yaml:"height"`
	IntervalMS int                 `yaml:"interval_ms"`
	Placements []combine.Placement `yaml:"placements"`
}

// OverlayConfig is the static overlay drawn on the composite.
type OverlayConfig struct {
	Disabled bool   `yaml:"disabled"`
	Asset    string `yaml:"asset"` // PNG/JPEG path; empty renders the compass
	X        int    `yaml:"x"`
	Y        int    `yaml:"y"`
	Size     int    `yaml:"size"` // compass size in pixels
}

// DistributionConfig exposes the final frames.
type DistributionConfig struct {
	HTTPAddr    string     `yaml:"http_addr"`
	JPEGQuality int        `yaml:"jpeg_quality"`
	RTSP        RTSPConfig `yaml:"rtsp"`
}

// RTSPConfig is the H.264/RTP push towards an RTSP relay.
type RTSPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	FPS     int    `yaml:"fps"`
	Bitrate int    `yaml:"bitrate_kbps"`
}

// MQTTConfig is the optional health telemetry broker.
type MQTTConfig struct {
	Broker          string `yaml:"broker"` // host:port, empty disables telemetry
	HealthTopic     string `yaml:"health_topic"`
	QoS             byte   `yaml:"qos"`
	HealthIntervalS int    `yaml:"health_interval_s"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read config file: %v", ErrConfiguration, err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrConfiguration, err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ShutdownTimeout returns the graceful shutdown budget.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}

// Interval returns the stitch cycle period.
func (s StitchConfig) Interval() time.Duration {
	return time.Duration(s.IntervalMS) * time.Millisecond
}

// Interval returns the combine cycle period.
func (c CombineConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMS) * time.Millisecond
}

// HealthInterval returns the telemetry period.
func (m MQTTConfig) HealthInterval() time.Duration {
	return time.Duration(m.HealthIntervalS) * time.Second
}
