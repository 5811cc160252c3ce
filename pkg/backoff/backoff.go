// Package backoff provides exponential backoff calculation and a retry loop.
package backoff

import (
	"context"
	"math"
	"time"
)

// Config for exponential backoff. Zero values use defaults.
type Config struct {
	Initial time.Duration // default: 100ms
	Max     time.Duration // default: 5s
}

func (c *Config) bounds() (initial, maxBackoff time.Duration) {
	initial = 100 * time.Millisecond
	maxBackoff = 5 * time.Second
	if c != nil {
		if c.Initial > 0 {
			initial = c.Initial
		}
		if c.Max > 0 {
			maxBackoff = c.Max
		}
	}
	if maxBackoff < initial {
		maxBackoff = initial
	}
	return initial, maxBackoff
}

// Exponential calculates exponential backoff for a given attempt.
// Attempt 1 returns initial, attempt 2 returns initial*2, etc.
func Exponential(attempt int, cfg *Config) time.Duration {
	initial, maxBackoff := cfg.bounds()
	if attempt < 1 {
		return initial
	}
	backoff := float64(initial) * math.Pow(2.0, float64(attempt-1))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}
	return time.Duration(backoff)
}

// Retry calls fn up to attempts times, sleeping Exponential(n) between calls.
// It stops early when fn succeeds, when retryable reports false for the
// returned error, or when ctx is done. The last error is returned.
func Retry(ctx context.Context, attempts int, cfg *Config, retryable func(error) bool, fn func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		timer := time.NewTimer(Exponential(attempt, cfg))
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}
