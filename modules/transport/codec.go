package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/e7canasta/orion-rig360/modules/frameslot"
)

// PayloadVersion is the only payload layout this build understands.
const PayloadVersion = 1

// Compression selects how pixel data travels inside the payload.
type Compression uint8

const (
	// CompressionNone sends raw BGR24 bytes.
	CompressionNone Compression = 0

	// CompressionZstd sends zstd-compressed BGR24 bytes.
	CompressionZstd Compression = 1
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// payload is the msgpack document following the wire header.
type payload struct {
	Version     uint8  `msgpack:"v"`
	Width       int    `msgpack:"w"`
	Height      int    `msgpack:"h"`
	Format      uint8  `msgpack:"f"`
	Timestamp   int64  `msgpack:"ts"`
	Source      string `msgpack:"src"`
	TraceID     string `msgpack:"trace"`
	Compression uint8  `msgpack:"c"`
	Pixels      []byte `msgpack:"px"`
}

var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
	zstdErr  error
)

// zstdCoders returns process-wide coders. EncodeAll/DecodeAll are safe for
// concurrent use, so one pair serves every channel.
func zstdCoders() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEnc, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if zstdErr != nil {
			return
		}
		zstdDec, zstdErr = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(DefaultMaxPayload))
	})
	return zstdEnc, zstdDec, zstdErr
}

// encodeFrame serializes everything but the sequence number, which lives in
// the wire header.
func encodeFrame(f *frameslot.Frame, c Compression) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("transport: encode: %w", err)
	}

	p := payload{
		Version:     PayloadVersion,
		Width:       f.Width,
		Height:      f.Height,
		Format:      uint8(f.Format),
		Timestamp:   unixNano(f.Timestamp),
		Source:      f.Source,
		TraceID:     f.TraceID,
		Compression: uint8(c),
		Pixels:      f.Data,
	}

	switch c {
	case CompressionNone:
	case CompressionZstd:
		enc, _, err := zstdCoders()
		if err != nil {
			return nil, fmt.Errorf("transport: zstd init: %w", err)
		}
		p.Pixels = enc.EncodeAll(f.Data, make([]byte, 0, len(f.Data)/4))
	default:
		return nil, fmt.Errorf("transport: unsupported compression %v", c)
	}

	b, err := msgpack.Marshal(&p)
	if err != nil {
		return nil, fmt.Errorf("transport: marshal payload: %w", err)
	}
	return b, nil
}

// decodeFrame rebuilds a frame from a payload. Every failure wraps
// ErrMalformed so a version-skewed peer fails fast.
func decodeFrame(seq uint64, b []byte) (*frameslot.Frame, error) {
	var p payload
	if err := msgpack.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("%w: seq %d: %v", ErrMalformed, seq, err)
	}
	if p.Version != PayloadVersion {
		return nil, fmt.Errorf("%w: seq %d: unsupported payload version %d", ErrMalformed, seq, p.Version)
	}

	pixels := p.Pixels
	switch Compression(p.Compression) {
	case CompressionNone:
	case CompressionZstd:
		_, dec, err := zstdCoders()
		if err != nil {
			return nil, fmt.Errorf("transport: zstd init: %w", err)
		}
		pixels, err = dec.DecodeAll(p.Pixels, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: seq %d: zstd: %v", ErrMalformed, seq, err)
		}
	default:
		return nil, fmt.Errorf("%w: seq %d: unknown compression %d", ErrMalformed, seq, p.Compression)
	}

	f := &frameslot.Frame{
		Seq:       seq,
		Width:     p.Width,
		Height:    p.Height,
		Format:    frameslot.PixelFormat(p.Format),
		Data:      pixels,
		Timestamp: fromUnixNano(p.Timestamp),
		Source:    p.Source,
		TraceID:   p.TraceID,
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("%w: seq %d: %v", ErrMalformed, seq, err)
	}
	return f, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
