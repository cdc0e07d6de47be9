package gstutil

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		message string
		debug   string
		want    ErrorCategory
	}{
		{"missing device", "Cannot identify device '/dev/video3'.", "", ErrCategoryDevice},
		{"busy device", "Device is busy", "v4l2src0", ErrCategoryDevice},
		{"caps", "Internal data stream error.", "streaming stopped, reason not-negotiated (not negotiated)", ErrCategoryCodec},
		{"udp", "Could not connect to host", "udpsink0", ErrCategoryNetwork},
		{"unknown", "something odd", "", ErrCategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.message, tt.debug); got != tt.want {
				t.Errorf("Classify() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestClassifyNil(t *testing.T) {
	if got := ClassifyGStreamerError(nil); got != ErrCategoryUnknown {
		t.Errorf("ClassifyGStreamerError(nil) = %s, want unknown", got)
	}
}

func TestErrorCategoryString(t *testing.T) {
	for cat, want := range map[ErrorCategory]string{
		ErrCategoryDevice:  "device",
		ErrCategoryNetwork: "network",
		ErrCategoryCodec:   "codec",
		ErrCategoryUnknown: "unknown",
		ErrorCategory(99):  "unknown",
	} {
		if got := cat.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(cat), got, want)
		}
	}
}
