// Package gstutil holds the GStreamer plumbing shared by camera capture and
// the RTSP pusher: pipeline launch, bus draining and error classification.
package gstutil

import (
	"strings"

	"github.com/tinyzimmer/go-gst/gst"
)

// ErrorCategory represents the classification of GStreamer errors for telemetry
type ErrorCategory int

const (
	// ErrCategoryDevice indicates the device node is missing, busy or unreadable
	ErrCategoryDevice ErrorCategory = iota
	// ErrCategoryNetwork indicates network-related failures (udpsink, unreachable host)
	ErrCategoryNetwork
	// ErrCategoryCodec indicates negotiation or encode/decode failures
	ErrCategoryCodec
	// ErrCategoryUnknown indicates unclassified errors
	ErrCategoryUnknown
)

// String returns a human-readable string representation of the error category
func (e ErrorCategory) String() string {
	switch e {
	case ErrCategoryDevice:
		return "device"
	case ErrCategoryNetwork:
		return "network"
	case ErrCategoryCodec:
		return "codec"
	default:
		return "unknown"
	}
}

// ClassifyGStreamerError categorizes a GStreamer error for logs and counters.
//
// go-gst's GError does not expose the error domain, so classification relies
// on message heuristics (see Classify).
func ClassifyGStreamerError(gerr *gst.GError) ErrorCategory {
	if gerr == nil {
		return ErrCategoryUnknown
	}
	return Classify(gerr.Error(), gerr.DebugString())
}

// Classify categorizes an error from its message and debug string.
//
// Device keywords are checked first (most specific for v4l2src), then codec,
// then network.
func Classify(message, debug string) ErrorCategory {
	combined := strings.ToLower(message + " " + debug)

	switch {
	case containsAny(combined, deviceKeywords):
		return ErrCategoryDevice
	case containsAny(combined, codecKeywords):
		return ErrCategoryCodec
	case containsAny(combined, networkKeywords):
		return ErrCategoryNetwork
	default:
		return ErrCategoryUnknown
	}
}

var deviceKeywords = []string{
	"/dev/video",
	"v4l2",
	"device",
	"busy",
	"permission denied",
	"no such file",
	"cannot identify",
}

var codecKeywords = []string{
	"not negotiated",
	"negotiation",
	"caps",
	"x264",
	"encode",
	"decode",
	"format",
	"no element",
	"missing plugin",
}

var networkKeywords = []string{
	"connection",
	"timeout",
	"unreachable",
	"network",
	"socket",
	"udp",
	"could not connect",
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
