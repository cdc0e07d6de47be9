package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// ReconnectConfig contains configuration for exponential backoff reconnection.
type ReconnectConfig struct {
	MaxRetries    int           // Consecutive failed attempts before giving up (0 = never give up)
	RetryDelay    time.Duration // Initial retry delay (default: 1 second)
	MaxRetryDelay time.Duration // Maximum retry delay cap (default: 30 seconds)
}

// DefaultReconnectConfig returns default reconnection configuration.
//
// A link between the two hosts is retried forever: losing it degrades the
// composite, it never stops the pipeline.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		MaxRetries:    0,
		RetryDelay:    1 * time.Second,
		MaxRetryDelay: 30 * time.Second,
	}
}

// ReconnectState tracks reconnection attempts of one channel.
type ReconnectState struct {
	CurrentRetries int
	Reconnects     atomic.Uint64 // total sessions started after the first
}

// SessionFunc runs one channel session: connect, then move frames until the
// channel breaks. It returns ctx.Err() on cancellation.
//
// An error wrapping ErrChannelClosed (or nil) means the session had been
// established; anything else counts as a failed attempt.
type SessionFunc func(ctx context.Context) error

// RunWithReconnect runs sessions back to back until ctx is cancelled or
// MaxRetries consecutive attempts fail.
//
// Backoff between failed attempts:
//   - Attempt 1: RetryDelay
//   - Attempt 2: RetryDelay * 2
//   - Attempt n: RetryDelay * 2^(n-1), capped at MaxRetryDelay
//
// A session that was established resets the counter, so the next attempt
// after a dropped link waits RetryDelay again.
func RunWithReconnect(
	ctx context.Context,
	name string,
	sessionFn SessionFunc,
	cfg ReconnectConfig,
	state *ReconnectState,
) error {
	for sessions := 0; ; sessions++ {
		if err := ctx.Err(); err != nil {
			slog.Info("transport: context cancelled, stopping reconnection", "channel", name)
			return err
		}
		if sessions > 0 {
			state.Reconnects.Add(1)
		}

		err := sessionFn(ctx)
		if ctxErr := ctx.Err(); ctxErr != nil {
			slog.Info("transport: context cancelled, stopping reconnection", "channel", name)
			return ctxErr
		}

		if err == nil || errors.Is(err, ErrChannelClosed) {
			// Session was up; the link dropped.
			state.CurrentRetries = 0
			slog.Warn("transport: channel lost", "channel", name, "error", err)
		} else {
			slog.Error("transport: connection failed", "channel", name, "error", err)
		}

		state.CurrentRetries++
		if cfg.MaxRetries > 0 && state.CurrentRetries > cfg.MaxRetries {
			return fmt.Errorf("transport: %s: max retries exceeded (%d attempts): %w", name, cfg.MaxRetries, err)
		}

		delay := calculateBackoff(state.CurrentRetries, cfg)

		slog.Warn("transport: retrying connection",
			"channel", name,
			"attempt", state.CurrentRetries,
			"max_retries", cfg.MaxRetries,
			"delay", delay,
		)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			slog.Info("transport: context cancelled during backoff", "channel", name)
			return ctx.Err()
		}
	}
}

// calculateBackoff calculates the exponential backoff delay for a given attempt.
//
// Formula: delay = retryDelay * 2^(attempt-1)
// Cap: min(delay, maxRetryDelay)
func calculateBackoff(attempt int, cfg ReconnectConfig) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// Beyond 2^30 the cap always wins; avoid overflowing the shift.
	if attempt > 31 {
		attempt = 31
	}

	delay := cfg.RetryDelay * time.Duration(1<<uint(attempt-1))

	if cfg.MaxRetryDelay > 0 && (delay > cfg.MaxRetryDelay || delay <= 0) {
		delay = cfg.MaxRetryDelay
	}

	return delay
}
