// Package readiness replaces fixed sleeps with bounded polling.
//
// A condition is polled until it reports true, returns an error, the context
// is cancelled, or the timeout elapses. The poll interval grows exponentially
// so a slow subprocess is not hammered while a fast one is noticed quickly.
package readiness

import (
	"context"
	"errors"
	"time"

	"regshots/pkg/backoff"
)

// ErrTimeout is returned when a condition is not met before the deadline.
var ErrTimeout = errors.New("timed out waiting for condition")

// Condition reports whether the awaited state has been reached.
// A non-nil error aborts polling immediately.
type Condition func(ctx context.Context) (bool, error)

// Options configures Poll behavior.
type Options struct {
	Timeout  time.Duration
	Interval backoff.Config
}

// Option is a functional option for Poll.
type Option func(*Options)

// WithTimeout sets the maximum wait time (default: 10s).
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// WithInterval sets the initial and maximum polling interval (default: 50ms..1s).
func WithInterval(initial, maxInterval time.Duration) Option {
	return func(o *Options) {
		o.Interval = backoff.Config{Initial: initial, Max: maxInterval}
	}
}

func defaultOptions() Options {
	return Options{
		Timeout:  10 * time.Second,
		Interval: backoff.Config{Initial: 50 * time.Millisecond, Max: time.Second},
	}
}

// Poll waits until cond returns true.
// Returns nil on success, the condition's error, ctx.Err(), or ErrTimeout.
func Poll(ctx context.Context, cond Condition, opts ...Option) error {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithTimeout(ctx, o.Timeout)
	defer cancel()

	for attempt := 1; ; attempt++ {
		ok, err := cond(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		timer := time.NewTimer(backoff.Exponential(attempt, &o.Interval))
		select {
		case <-ctx.Done():
			timer.Stop()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				// One last look so a condition met right at the deadline still counts.
				if ok, err := cond(context.WithoutCancel(ctx)); err == nil && ok {
					return nil
				}
				return ErrTimeout
			}
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
