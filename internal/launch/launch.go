// Package launch defines owned subprocess handles and the Launcher interface.
//
// Every process a capture run starts is represented by a Handle. The caller
// owns it and must end its life with Stop (or Wait after a signal); Stop is
// safe to call on a process that has already exited, so it can be deferred on
// every exit path.
package launch

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Spec describes a process to start.
type Spec struct {
	Name string   // Step name, used for logs and container names
	Path string   // Executable path or name resolved via PATH
	Args []string // Arguments, excluding the executable
	Env  []string // Complete child environment (KEY=VALUE)
	Dir  string   // Working directory (empty: inherit)
	TTY  bool     // Attach stdout/stderr to a pseudo-terminal
}

// Argv returns the full argument vector.
func (s Spec) Argv() []string {
	return append([]string{s.Path}, s.Args...)
}

// Exit describes how a process ended.
type Exit struct {
	Code     int
	Signal   string // Set when the process was terminated by a signal
	Duration time.Duration
}

// Success returns true if the process exited on its own with status 0.
func (e Exit) Success() bool {
	return e.Code == 0 && e.Signal == ""
}

func (e Exit) String() string {
	if e.Signal != "" {
		return fmt.Sprintf("killed by %s after %s", e.Signal, e.Duration.Round(time.Millisecond))
	}
	return fmt.Sprintf("exit %d after %s", e.Code, e.Duration.Round(time.Millisecond))
}

// Handle is an owned, running process.
type Handle interface {
	// ID identifies the process (pid or container id).
	ID() string

	// Interrupt asks the process to finish cleanly (SIGINT).
	Interrupt(ctx context.Context) error

	// Terminate asks the process to exit (SIGTERM).
	Terminate(ctx context.Context) error

	// Kill ends the process unconditionally (SIGKILL).
	Kill(ctx context.Context) error

	// Wait blocks until the process exits or ctx is done.
	// It may be called more than once and returns the same Exit each time.
	Wait(ctx context.Context) (Exit, error)

	// Exited reports whether the process has already exited, without blocking.
	Exited() bool

	// Output returns the tail of the combined stdout/stderr.
	Output() string
}

// Launcher starts processes on some backend.
type Launcher interface {
	// Start launches the process described by spec.
	Start(ctx context.Context, spec Spec) (Handle, error)

	// Ready checks if the backend can start processes.
	Ready(ctx context.Context) error

	// Close releases backend resources. Handles already returned stay valid
	// until they are stopped.
	Close() error
}

// ErrStillRunning is returned by Stop when a process survived SIGKILL.
var ErrStillRunning = errors.New("process still running after kill")

// Stop terminates h, waiting up to grace before escalating to Kill.
// Stopping a process that already exited returns its Exit without signalling.
func Stop(ctx context.Context, h Handle, grace time.Duration) (Exit, error) {
	if h.Exited() {
		return h.Wait(ctx)
	}
	_ = h.Terminate(ctx)
	return waitOrKill(ctx, h, grace)
}

// Finish interrupts h so it can flush its output, escalating to Kill if it
// does not exit within grace.
func Finish(ctx context.Context, h Handle, grace time.Duration) (Exit, error) {
	if h.Exited() {
		return h.Wait(ctx)
	}
	_ = h.Interrupt(ctx)
	return waitOrKill(ctx, h, grace)
}

func waitOrKill(ctx context.Context, h Handle, grace time.Duration) (Exit, error) {
	graceCtx, cancel := context.WithTimeout(ctx, grace)
	exit, err := h.Wait(graceCtx)
	cancel()
	if err == nil {
		return exit, nil
	}

	_ = h.Kill(ctx)
	killCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), grace)
	defer cancel()
	exit, err = h.Wait(killCtx)
	if err != nil {
		return exit, fmt.Errorf("%w: %s", ErrStillRunning, h.ID())
	}
	return exit, nil
}
