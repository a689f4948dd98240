// Package retry provides bounded exponential-backoff retry for transient
// upstream failures.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Config controls backoff timing and which errors are worth retrying.
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool

	// Retryable reports whether err is worth another attempt. If nil,
	// every non-nil error is retried.
	Retryable func(err error) bool
}

// DefaultConfig returns a short, jittered backoff suitable for a single
// upstream candidate URL: a handful of attempts within a couple seconds,
// not a long-running resilience policy.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Do runs fn, retrying on a retryable error up to MaxAttempts times with
// exponential backoff between attempts. It returns the last error if all
// attempts fail, or nil on the first success.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if cfg.Retryable != nil && !cfg.Retryable(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff(cfg, attempt)):
		}
	}
	return lastErr
}

func backoff(cfg Config, attempt int) time.Duration {
	d := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if d > float64(cfg.MaxDelay) {
		d = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		d += d * 0.2 * (rand.Float64()*2 - 1)
	}
	return time.Duration(d)
}
