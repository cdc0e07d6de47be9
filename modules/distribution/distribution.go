// Package distribution hands the final frames to external consumers: an
// MJPEG stream over HTTP and an RTP/H.264 push for an RTSP relay.
//
// Consumers pull the freshest frame at their own cadence through Source.
// Upstream failures never reach them: they see the last good frame, or
// nothing yet.
package distribution

import (
	"bytes"
	"sync"

	"github.com/e7canasta/orion-rig360/modules/frameslot"
	"github.com/e7canasta/orion-rig360/modules/imaging"
)

// Source is the inbound contract of every distributor. *frameslot.Slot
// satisfies it.
type Source interface {
	Latest() (*frameslot.Frame, bool)
}

// jpegCache keeps the JPEG encoding of the most recent frame so concurrent
// clients encode each frame once.
type jpegCache struct {
	quality int

	mu    sync.Mutex
	seq   uint64
	src   *frameslot.Frame
	bytes []byte
}

func newJPEGCache(quality int) *jpegCache {
	return &jpegCache{quality: quality}
}

// get returns the encoding of f, encoding at most once per frame.
func (c *jpegCache) get(f *frameslot.Frame) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.src == f && c.seq == f.Seq {
		return c.bytes, nil
	}

	var buf bytes.Buffer
	if err := imaging.EncodeJPEG(&buf, f, c.quality); err != nil {
		return nil, err
	}

	c.src, c.seq, c.bytes = f, f.Seq, buf.Bytes()
	return c.bytes, nil
}
