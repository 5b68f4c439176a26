package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RetryConfig bounds a retry loop. Each attempt runs under its own deadline
// that grows with the attempt number, so a slow upstream gets progressively
// more room before the loop gives up.
type RetryConfig struct {
	// Attempts is the total number of tries. Default: 3.
	Attempts int

	// BaseTimeout is the deadline for the first attempt. Default: 10s.
	BaseTimeout time.Duration

	// TimeoutStep is added to the deadline on every subsequent attempt.
	// Default: 5s.
	TimeoutStep time.Duration

	// Backoff is the pause between attempts. Default: 500ms.
	Backoff time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.BaseTimeout <= 0 {
		c.BaseTimeout = 10 * time.Second
	}
	if c.TimeoutStep <= 0 {
		c.TimeoutStep = 5 * time.Second
	}
	if c.Backoff <= 0 {
		c.Backoff = 500 * time.Millisecond
	}
	return c
}

// Retry runs fn up to cfg.Attempts times, passing each invocation a context
// whose deadline escalates from BaseTimeout by TimeoutStep per attempt. It
// stops early when fn succeeds or the parent context is cancelled, and returns
// the last error otherwise.
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	cfg = cfg.withDefaults()

	var lastErr error
	for attempt := 0; attempt < cfg.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, cfg.BaseTimeout+time.Duration(attempt)*cfg.TimeoutStep)
		err := fn(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt < cfg.Attempts-1 {
			slog.Debug("retrying after failure",
				"attempt", attempt+1,
				"error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(cfg.Backoff):
			}
		}
	}
	return fmt.Errorf("all %d attempts failed: %w", cfg.Attempts, lastErr)
}

// RetryWithResult is the value-returning form of [Retry].
func RetryWithResult[R any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (R, error)) (R, error) {
	var result R
	err := Retry(ctx, cfg, func(ctx context.Context) error {
		var innerErr error
		result, innerErr = fn(ctx)
		return innerErr
	})
	if err != nil {
		var zero R
		return zero, err
	}
	return result, nil
}
