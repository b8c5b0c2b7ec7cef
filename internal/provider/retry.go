package provider

import (
	"context"
	"time"

	"DramaForge/server/internal/apperr"
)

// RetryConfig controls the shared retry loop around provider calls.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetry matches the config defaults.
var DefaultRetry = RetryConfig{MaxAttempts: 3, BaseDelay: time.Second}

func (c RetryConfig) normalized() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultRetry.MaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultRetry.BaseDelay
	}
	return c
}

// WithRetry runs fn up to MaxAttempts times, doubling the delay after each
// transient failure. Fatal provider errors, validation errors and anything
// else non-transient abort immediately with the attempt they failed on.
// The loop itself never aborts on caller cancellation; whether fn honors
// the context is the caller's choice.
func WithRetry[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = cfg.normalized()

	var zero T
	var lastErr error
	delay := cfg.BaseDelay
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			time.Sleep(delay)
			delay *= 2
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !apperr.IsTransient(err) {
			return zero, err
		}
	}
	return zero, lastErr
}
