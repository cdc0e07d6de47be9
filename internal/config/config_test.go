package config

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/e7canasta/orion-rig360/modules/combine"
)

const hubYAML = `
instance_id: rig-hub
role: hub
group:
  name: front
  cameras: [0, 1, 2, 3]
  source: synthetic
remotes:
  - name: back
    listen: ":8000"
`

const edgeYAML = `
instance_id: rig-edge
role: edge
group:
  name: back
  cameras: [0, 1, 2, 3]
peer:
  address: 192.168.0.2:8000
  compression: zstd
`

func TestParseHubDefaults(t *testing.T) {
	cfg, err := Parse([]byte(hubYAML))
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}

	if cfg.Stitch.Strategy != "equirect" || cfg.Stitch.WorkWidth != 800 || cfg.Stitch.WorkHeight != 600 {
		t.Errorf("stitch defaults = %+v", cfg.Stitch)
	}
	if cfg.Stitch.OutputWidth != 3200 || cfg.Stitch.FOVPerCamera != 41 {
		t.Errorf("equirect defaults = %dx%d fov %.0f", cfg.Stitch.OutputWidth, cfg.Stitch.OutputHeight, cfg.Stitch.FOVPerCamera)
	}
	if cfg.Distribution.HTTPAddr != ":5000" || cfg.Distribution.RTSP.Port != 8554 {
		t.Errorf("distribution defaults = %+v", cfg.Distribution)
	}
	if cfg.Overlay.Size != 100 || cfg.Overlay.X != 50 || cfg.Overlay.Y != 50 {
		t.Errorf("overlay defaults = %+v", cfg.Overlay)
	}
	if cfg.Combine.Width != 1200 || cfg.Combine.Height != 600 {
		t.Errorf("combine canvas = %dx%d", cfg.Combine.Width, cfg.Combine.Height)
	}
	if cfg.ShutdownTimeout().Seconds() != 5 {
		t.Errorf("shutdown timeout = %v", cfg.ShutdownTimeout())
	}
	if cfg.MQTT.Broker != "" {
		t.Error("telemetry should stay disabled without a broker")
	}
}

func TestParseEdge(t *testing.T) {
	cfg, err := Parse([]byte(edgeYAML))
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	if cfg.Role != RoleEdge || cfg.Peer.Compression != "zstd" || cfg.Peer.RetryDelayMS != 1000 {
		t.Errorf("edge config = %+v", cfg.Peer)
	}
	if cfg.Group.Source != "v4l2" {
		t.Errorf("source default = %q, want v4l2", cfg.Group.Source)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"missing instance id", "role: hub", "instance_id is required"},
		{"bad instance id", "instance_id: Rig_1\nrole: hub", "instance_id must match"},
		{"missing role", "instance_id: a", "role is required"},
		{"unknown role", "instance_id: a\nrole: relay", "unknown role"},
		{"edge without peer", "instance_id: a\nrole: edge", "address is required"},
		{"duplicate camera", "instance_id: a\nrole: edge\ngroup: {cameras: [1, 1]}\npeer: {address: x:1}", "listed twice"},
		{"unknown strategy", "instance_id: a\nrole: edge\nstitch: {strategy: cubemap}\npeer: {address: x:1}", "unknown strategy"},
		{"placements mismatch", "instance_id: a\nrole: hub\ncombine: {placements: [{offset_deg: 0, span_deg: 90}, {offset_deg: 90, span_deg: 90}]}", "placements for 1 inputs"},
		{"bad qos", "instance_id: a\nrole: hub\nmqtt: {broker: b:1883, qos: 3}", "mqtt.qos"},
		{"not yaml", "instance_id: [", "failed to parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, ErrConfiguration) {
				t.Errorf("error %v does not wrap ErrConfiguration", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rig.yaml")
	if err := os.WriteFile(path, []byte(hubYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.InstanceID != "rig-hub" || len(cfg.Remotes) != 1 {
		t.Errorf("loaded = %+v", cfg)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, ErrConfiguration) {
		t.Errorf("missing file error = %v", err)
	}
}

func TestParsePlacements(t *testing.T) {
	cfg, err := Parse([]byte(hubYAML + `
combine:
  placements:
    - { offset_deg: 0, span_deg: 200 }
    - { offset_deg: 180, span_deg: 200 }
`))
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}

	want := []combine.Placement{{OffsetDeg: 0, SpanDeg: 200}, {OffsetDeg: 180, SpanDeg: 200}}
	if !slices.Equal(cfg.Combine.Placements, want) {
		t.Errorf("placements = %+v, want %+v", cfg.Combine.Placements, want)
	}
}
