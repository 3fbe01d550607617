// Package poll provides a bounded retry-with-delay loop for asynchronous collaborators.
package poll

import (
	"context"
	"errors"
	"time"
)

const (
	DefaultInterval    = 500 * time.Millisecond
	DefaultMaxAttempts = 10
)

// ErrExhausted is returned when MaxAttempts ran out before fn reported done.
var ErrExhausted = errors.New("poll attempts exhausted")

// Config bounds a polling loop.
type Config struct {
	// Interval is waited before every attempt.
	Interval    time.Duration `yaml:"interval"`
	MaxAttempts int           `yaml:"maxAttempts"`
}

// WithDefaults fills zero fields with DefaultInterval and DefaultMaxAttempts.
func (c Config) WithDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	return c
}

// Func performs one attempt. It returns done=true once the value is final.
type Func[T any] func(ctx context.Context, attempt int) (value T, done bool, err error)

// Until runs fn until it reports done, returns an error, ctx ends or attempts run out.
// On exhaustion the last observed value is returned together with ErrExhausted.
// The returned int is the number of attempts made.
func Until[T any](ctx context.Context, cfg Config, fn Func[T]) (T, int, error) {
	cfg = cfg.WithDefaults()

	var last T
	timer := time.NewTimer(cfg.Interval)
	defer timer.Stop()

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return last, attempt - 1, ctx.Err()
		case <-timer.C:
		}

		value, done, err := fn(ctx, attempt)
		if err != nil {
			return value, attempt, err
		}
		last = value
		if done {
			return value, attempt, nil
		}
		timer.Reset(cfg.Interval)
	}
	return last, cfg.MaxAttempts, ErrExhausted
}
