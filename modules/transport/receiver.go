package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/e7canasta/orion-rig360/modules/frameslot"
)

// ReceiveLoop reads frames from conn into slot until the channel breaks or
// ctx is cancelled.
//
// Frames are published under the tracker's local sequence numbers. Undecodable
// messages are logged and skipped. On return the slot still holds the last
// frame received intact; the error wraps ErrChannelClosed, or is ctx.Err().
// conn is closed on return.
func ReceiveLoop(ctx context.Context, conn *Conn, slot *frameslot.Slot, tracker *SeqTracker) error {
	if tracker == nil {
		tracker = &SeqTracker{}
	}

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	peer := conn.RemoteAddr()

	for {
		f, err := conn.Receive()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if errors.Is(err, ErrChannelClosed) {
				return err
			}
			slog.Warn("transport: dropping undecodable message", "peer", peer, "error", err)
			continue
		}

		obs := tracker.Observe(f.Seq)
		switch {
		case obs.Restarted:
			slog.Warn("transport: peer sequence restarted",
				"peer", peer,
				"wire_seq", f.Seq,
				"local_seq", obs.Local,
			)
		case obs.Gap > 0:
			slog.Debug("transport: sequence gap",
				"peer", peer,
				"wire_seq", f.Seq,
				"lost", obs.Gap,
			)
		}

		f.Seq = obs.Local
		slot.Publish(f)
	}
}

// ReceiverConfig configures a Receiver.
type ReceiverConfig struct {
	// Name identifies the channel in logs and names the output slot.
	Name string

	// Addr to listen on, e.g. ":8000".
	Addr string

	Options   Options
	Reconnect ReconnectConfig
}

// Receiver listens for one peer at a time and feeds its frames into a slot.
// When the channel breaks it goes back to accepting.
type Receiver struct {
	cfg      ReceiverConfig
	listener *Listener
	slot     *frameslot.Slot
	tracker  SeqTracker
	state    ReconnectState
	sessions atomic.Uint64
}

// NewReceiver binds the listening address. A bind failure is returned here so
// it aborts startup.
func NewReceiver(cfg ReceiverConfig) (*Receiver, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("transport: receiver name is required")
	}
	l, err := Listen(cfg.Addr, cfg.Options)
	if err != nil {
		return nil, err
	}
	return &Receiver{
		cfg:      cfg,
		listener: l,
		slot:     frameslot.New("remote-" + cfg.Name),
	}, nil
}

// Slot returns the slot holding the latest remote frame.
func (r *Receiver) Slot() *frameslot.Slot {
	return r.slot
}

// Addr returns the bound address.
func (r *Receiver) Addr() string {
	return r.listener.Addr()
}

// Run accepts and receives until ctx is cancelled. The listener is closed on
// return.
func (r *Receiver) Run(ctx context.Context) error {
	defer r.listener.Close()

	slog.Info("transport: receiver listening", "channel", r.cfg.Name, "addr", r.listener.Addr())

	return RunWithReconnect(ctx, r.cfg.Name, r.session, r.cfg.Reconnect, &r.state)
}

// Close releases the listening socket of a receiver that will not Run.
func (r *Receiver) Close() error {
	return r.listener.Close()
}

func (r *Receiver) session(ctx context.Context) error {
	conn, err := r.listener.Accept(ctx)
	if err != nil {
		return err
	}
	r.sessions.Add(1)

	slog.Info("transport: peer connected", "channel", r.cfg.Name, "peer", conn.RemoteAddr())
	return ReceiveLoop(ctx, conn, r.slot, &r.tracker)
}

// ReceiverStats is a snapshot of a receiver.
type ReceiverStats struct {
	Name       string       `json:"name"`
	Addr       string       `json:"addr"`
	Sessions   uint64       `json:"sessions"`
	Reconnects uint64       `json:"reconnects"`
	Sequence   TrackerStats `json:"sequence"`
}

// Stats returns a snapshot.
func (r *Receiver) Stats() ReceiverStats {
	return ReceiverStats{
		Name:       r.cfg.Name,
		Addr:       r.listener.Addr(),
		Sessions:   r.sessions.Load(),
		Reconnects: r.state.Reconnects.Load(),
		Sequence:   r.tracker.Stats(),
	}
}
