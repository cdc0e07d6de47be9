package transport

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestCalculateBackoff(t *testing.T) {
	cfg := ReconnectConfig{RetryDelay: time.Second, MaxRetryDelay: 30 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{100, 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempt), func(t *testing.T) {
			if got := calculateBackoff(tt.attempt, cfg); got != tt.want {
				t.Errorf("calculateBackoff(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}

// TestRunWithReconnectMaxRetries validates giving up after consecutive failures.
func TestRunWithReconnectMaxRetries(t *testing.T) {
	cfg := ReconnectConfig{MaxRetries: 2, RetryDelay: time.Millisecond, MaxRetryDelay: 5 * time.Millisecond}
	var state ReconnectState

	attempts := 0
	err := RunWithReconnect(context.Background(), "test", func(ctx context.Context) error {
		attempts++
		return fmt.Errorf("%w: refused", ErrConnection)
	}, cfg, &state)

	if err == nil || !errors.Is(err, ErrConnection) {
		t.Fatalf("RunWithReconnect() error = %v, want max retries wrapping ErrConnection", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if got := state.Reconnects.Load(); got != 2 {
		t.Errorf("Reconnects = %d, want 2", got)
	}
}

// TestRunWithReconnectResetsAfterSession validates dropped sessions do not
// exhaust the retry budget.
func TestRunWithReconnectResetsAfterSession(t *testing.T) {
	cfg := ReconnectConfig{MaxRetries: 1, RetryDelay: time.Millisecond, MaxRetryDelay: time.Millisecond}
	var state ReconnectState

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sessions := 0
	err := RunWithReconnect(ctx, "test", func(ctx context.Context) error {
		sessions++
		if sessions == 5 {
			cancel()
			return ctx.Err()
		}
		return fmt.Errorf("%w: peer went away", ErrChannelClosed)
	}, cfg, &state)

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("RunWithReconnect() error = %v, want context.Canceled", err)
	}
	if sessions != 5 {
		t.Errorf("sessions = %d, want 5", sessions)
	}
}

func TestRunWithReconnectCancelDuringBackoff(t *testing.T) {
	cfg := ReconnectConfig{RetryDelay: time.Hour, MaxRetryDelay: time.Hour}
	var state ReconnectState

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- RunWithReconnect(ctx, "test", func(ctx context.Context) error {
			return ErrConnection
		}, cfg, &state)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("backoff not interrupted by cancellation")
	}
}
