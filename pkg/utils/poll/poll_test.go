package poll_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"judgeflow/pkg/utils/poll"
)

func TestUntilStopsWhenDone(t *testing.T) {
	t.Parallel()

	calls := 0
	value, attempts, err := poll.Until(context.Background(), poll.Config{Interval: time.Millisecond, MaxAttempts: 10},
		func(ctx context.Context, attempt int) (string, bool, error) {
			calls++
			if attempt == 3 {
				return "ready", true, nil
			}
			return "queued", false, nil
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value != "ready" || attempts != 3 || calls != 3 {
		t.Fatalf("got value=%q attempts=%d calls=%d", value, attempts, calls)
	}
}

func TestUntilExhaustsWithLastValue(t *testing.T) {
	t.Parallel()

	value, attempts, err := poll.Until(context.Background(), poll.Config{Interval: time.Millisecond, MaxAttempts: 4},
		func(ctx context.Context, attempt int) (int, bool, error) {
			return attempt, false, nil
		})
	if !errors.Is(err, poll.ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if value != 4 || attempts != 4 {
		t.Fatalf("got value=%d attempts=%d", value, attempts)
	}
}

func TestUntilReturnsAttemptError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	_, attempts, err := poll.Until(context.Background(), poll.Config{Interval: time.Millisecond, MaxAttempts: 5},
		func(ctx context.Context, attempt int) (int, bool, error) {
			if attempt == 2 {
				return 0, false, boom
			}
			return 0, false, nil
		})
	if !errors.Is(err, boom) || attempts != 2 {
		t.Fatalf("expected boom after 2 attempts, got %v after %d", err, attempts)
	}
}

func TestUntilHonorsCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	_, _, err := poll.Until(ctx, poll.Config{Interval: time.Hour, MaxAttempts: 5},
		func(ctx context.Context, attempt int) (int, bool, error) {
			calls++
			return 0, false, nil
		})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected no attempts, got %d", calls)
	}
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := poll.Config{}.WithDefaults()
	if cfg.Interval != 500*time.Millisecond || cfg.MaxAttempts != 10 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}
