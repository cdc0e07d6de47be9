package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/e7canasta/orion-rig360/modules/frameslot"
)

// SenderConfig configures a Sender.
type SenderConfig struct {
	// Name identifies the channel in logs.
	Name string

	// Addr of the receiving peer, e.g. "192.168.1.2:8000".
	Addr string

	Options   Options
	Reconnect ReconnectConfig
}

// Sender streams the newest frames of a slot to a peer, reconnecting with
// backoff whenever the peer is unreachable or the channel breaks.
//
// Frames published faster than the link drains are skipped, never queued.
type Sender struct {
	cfg SenderConfig
	src *frameslot.Slot

	state     ReconnectState
	connected atomic.Bool
	sessions  atomic.Uint64
	sent      atomic.Uint64
	dropped   atomic.Uint64
	lastSeq   atomic.Uint64
}

// NewSender creates a sender reading from src.
func NewSender(cfg SenderConfig, src *frameslot.Slot) (*Sender, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("transport: sender name is required")
	}
	if cfg.Addr == "" {
		return nil, fmt.Errorf("transport: sender %s: peer address is required", cfg.Name)
	}
	if src == nil {
		return nil, fmt.Errorf("transport: sender %s: nil source slot", cfg.Name)
	}
	return &Sender{cfg: cfg, src: src}, nil
}

// Run blocks until ctx is cancelled (or MaxRetries is exhausted).
func (s *Sender) Run(ctx context.Context) error {
	slog.Info("transport: sender started", "channel", s.cfg.Name, "peer", s.cfg.Addr)
	return RunWithReconnect(ctx, s.cfg.Name, s.session, s.cfg.Reconnect, &s.state)
}

// session dials and sends until the channel breaks. The first frame of a
// session is whatever the slot holds, so a fresh peer gets a picture at once.
func (s *Sender) session(ctx context.Context) error {
	conn, err := Dial(ctx, s.cfg.Addr, s.cfg.Options)
	if err != nil {
		return err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	s.sessions.Add(1)
	s.connected.Store(true)
	defer s.connected.Store(false)
	slog.Info("transport: connected to peer", "channel", s.cfg.Name, "peer", s.cfg.Addr)

	var after uint64
	for {
		f, err := s.src.Next(ctx, after)
		if err != nil {
			if errors.Is(err, frameslot.ErrClosed) {
				// Source gone: nothing more to send on this channel.
				<-ctx.Done()
				return ctx.Err()
			}
			return err
		}
		after = f.Seq

		if err := conn.Send(f); err != nil {
			if errors.Is(err, ErrChannelClosed) {
				return err
			}
			s.dropped.Add(1)
			slog.Warn("transport: frame not sent",
				"channel", s.cfg.Name,
				"seq", f.Seq,
				"trace_id", f.TraceID,
				"error", err,
			)
			continue
		}

		s.sent.Add(1)
		s.lastSeq.Store(f.Seq)
	}
}

// SenderStats is a snapshot of a sender.
type SenderStats struct {
	Name       string `json:"name"`
	Peer       string `json:"peer"`
	Connected  bool   `json:"connected"`
	Sessions   uint64 `json:"sessions"`
	Reconnects uint64 `json:"reconnects"`
	Sent       uint64 `json:"sent"`
	Dropped    uint64 `json:"dropped"`
	LastSeq    uint64 `json:"last_seq"`
}

// Stats returns a snapshot.
func (s *Sender) Stats() SenderStats {
	return SenderStats{
		Name:       s.cfg.Name,
		Peer:       s.cfg.Addr,
		Connected:  s.connected.Load(),
		Sessions:   s.sessions.Load(),
		Reconnects: s.state.Reconnects.Load(),
		Sent:       s.sent.Load(),
		Dropped:    s.dropped.Load(),
		LastSeq:    s.lastSeq.Load(),
	}
}
