// Package transport moves frames between hosts over a length-prefixed TCP
// stream.
//
// Wire format (repeated, no handshake):
//
//	[seq: 8 bytes big-endian][payload_length: 4 bytes big-endian][payload]
//
// The payload is a versioned msgpack document (dimensions, format, timestamp,
// source, trace id, pixels) with optional zstd pixel compression. Transport
// is best-effort: there are no acks and no retransmission. Receivers detect
// drops from gaps in the sequence numbers.
package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/e7canasta/orion-rig360/modules/frameslot"
)

var (
	// ErrConnection means the peer could not be reached.
	ErrConnection = errors.New("transport: connection error")

	// ErrChannelClosed means the stream ended, cleanly or mid-message. The
	// channel is unusable; the owner reconnects.
	ErrChannelClosed = errors.New("transport: channel closed")

	// ErrMalformed means a message could not be decoded (oversize length,
	// unknown payload version, corrupt document).
	ErrMalformed = errors.New("transport: malformed message")
)

const (
	// HeaderSize is the fixed prefix of every message.
	HeaderSize = 8 + 4

	// DefaultMaxPayload bounds the length field; larger values are treated
	// as a corrupt or incompatible stream.
	DefaultMaxPayload = 64 << 20
)

// Options configures a Conn.
type Options struct {
	// Compression used for outgoing frames. Incoming frames carry their own.
	Compression Compression

	// MaxPayload caps accepted payload lengths (default DefaultMaxPayload).
	MaxPayload int

	// DialTimeout bounds Dial (default 5s).
	DialTimeout time.Duration

	// WriteTimeout bounds each Send (0 = none).
	WriteTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxPayload <= 0 {
		o.MaxPayload = DefaultMaxPayload
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 5 * time.Second
	}
	return o
}

// Conn is one end of a frame channel.
//
// Send is safe for concurrent use; messages never interleave. Receive must
// be called from a single goroutine.
type Conn struct {
	c    net.Conn
	opts Options

	sendMu sync.Mutex
	hdr    [HeaderSize]byte // guarded by sendMu

	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps an established stream (tests use net.Pipe).
func NewConn(c net.Conn, opts Options) *Conn {
	return &Conn{c: c, opts: opts.withDefaults()}
}

// Dial connects to a receiving peer.
func Dial(ctx context.Context, addr string, opts Options) (*Conn, error) {
	opts = opts.withDefaults()

	d := net.Dialer{Timeout: opts.DialTimeout}
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrConnection, addr, err)
	}
	return NewConn(c, opts), nil
}

// Send writes one frame as a single message.
func (c *Conn) Send(f *frameslot.Frame) error {
	body, err := encodeFrame(f, c.opts.Compression)
	if err != nil {
		return err
	}
	if len(body) > c.opts.MaxPayload {
		return fmt.Errorf("transport: seq %d: payload %d bytes exceeds limit %d", f.Seq, len(body), c.opts.MaxPayload)
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.opts.WriteTimeout > 0 {
		_ = c.c.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	}

	binary.BigEndian.PutUint64(c.hdr[0:8], f.Seq)
	binary.BigEndian.PutUint32(c.hdr[8:12], uint32(len(body)))

	bufs := net.Buffers{c.hdr[:], body}
	if _, err := bufs.WriteTo(c.c); err != nil {
		return fmt.Errorf("%w: send seq %d: %v", ErrChannelClosed, f.Seq, err)
	}
	return nil
}

// Receive blocks until one full message has arrived and decodes it. The
// returned frame carries the sender's sequence number.
//
// A stream ending anywhere, including inside a message, yields
// ErrChannelClosed. A payload that fails to decode yields ErrMalformed; the
// stream stays in sync and the next message can be read. Close unblocks a
// pending Receive.
func (c *Conn) Receive() (*frameslot.Frame, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(c.c, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: reading header: %v", ErrChannelClosed, err)
	}

	seq := binary.BigEndian.Uint64(hdr[0:8])
	length := binary.BigEndian.Uint32(hdr[8:12])
	if int64(length) > int64(c.opts.MaxPayload) {
		// Framing can't be trusted past this point.
		return nil, fmt.Errorf("%w: %w: seq %d: payload length %d exceeds limit %d",
			ErrChannelClosed, ErrMalformed, seq, length, c.opts.MaxPayload)
	}

	body := make([]byte, length)
	if n, err := io.ReadFull(c.c, body); err != nil {
		return nil, fmt.Errorf("%w: seq %d: got %d of %d payload bytes: %v", ErrChannelClosed, seq, n, length, err)
	}

	return decodeFrame(seq, body)
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() string {
	return c.c.RemoteAddr().String()
}

// Close closes the stream. Idempotent.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.c.Close()
	})
	return c.closeErr
}

// Listener accepts incoming channels.
type Listener struct {
	l    net.Listener
	opts Options
}

// Listen binds a TCP address for incoming channels.
func Listen(addr string, opts Options) (*Listener, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: listen %s: %v", ErrConnection, addr, err)
	}
	return &Listener{l: l, opts: opts.withDefaults()}, nil
}

// Accept waits for the next peer. Cancelling ctx unblocks it.
func (l *Listener) Accept(ctx context.Context) (*Conn, error) {
	dl, canDeadline := l.l.(interface{ SetDeadline(time.Time) error })
	if canDeadline {
		_ = dl.SetDeadline(time.Time{})
	}

	stop := context.AfterFunc(ctx, func() {
		// Wake Accept without closing the listener.
		if canDeadline {
			_ = dl.SetDeadline(time.Now())
		}
	})
	defer stop()

	c, err := l.l.Accept()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: accept: %v", ErrConnection, err)
	}
	return NewConn(c, l.opts), nil
}

// Addr returns the bound address (useful with port 0).
func (l *Listener) Addr() string {
	return l.l.Addr().String()
}

// Close stops accepting.
func (l *Listener) Close() error {
	return l.l.Close()
}
