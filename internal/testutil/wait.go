// Package testutil provides helpers for tests that drive real subprocesses.
package testutil

import (
	"context"
	"testing"
	"time"

	"regshots/internal/readiness"
)

// WaitFor polls condition until it holds or timeout elapses.
// Returns true if the condition was met.
func WaitFor(tb testing.TB, condition func() bool, timeout time.Duration) bool {
	tb.Helper()
	err := readiness.Poll(context.Background(), func(context.Context) (bool, error) {
		return condition(), nil
	}, readiness.WithTimeout(timeout), readiness.WithInterval(10*time.Millisecond, 100*time.Millisecond))
	return err == nil
}

// MustWaitFor is WaitFor that fails the test on timeout.
func MustWaitFor(tb testing.TB, what string, condition func() bool, timeout time.Duration) {
	tb.Helper()
	if !WaitFor(tb, condition, timeout) {
		tb.Fatalf("timed out after %v waiting for %s", timeout, what)
	}
}

// Outputter is satisfied by process handles that expose captured output.
type Outputter interface {
	Output() string
}

// WaitForOutput waits until h has printed marker, typically a line a test
// script echoes once its signal traps are installed.
func WaitForOutput(tb testing.TB, h Outputter, marker string) {
	tb.Helper()
	MustWaitFor(tb, "output "+marker, func() bool {
		return containsLine(h.Output(), marker)
	}, 5*time.Second)
}
