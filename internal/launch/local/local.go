// Package local implements launch.Launcher with host processes.
//
// Each process is started in its own process group (or session, in TTY mode)
// so signals reach everything it spawned, not just the direct child.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"

	"regshots/internal/launch"
)

const (
	defaultTailBytes = 16 * 1024
	waitDelay        = time.Second
	ttyDrainTimeout  = 200 * time.Millisecond
)

// Launcher starts processes on the local host.
type Launcher struct {
	tailBytes int
}

// Option configures a Launcher.
type Option func(*Launcher)

// WithTailBytes sets how much trailing output each handle retains.
func WithTailBytes(n int) Option {
	return func(l *Launcher) {
		l.tailBytes = n
	}
}

// New creates a local launcher.
func New(opts ...Option) *Launcher {
	l := &Launcher{tailBytes: defaultTailBytes}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start launches spec as a host process.
func (l *Launcher) Start(ctx context.Context, spec launch.Spec) (launch.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Env = spec.Env
	cmd.Dir = spec.Dir
	cmd.WaitDelay = waitDelay

	p := &process{
		cmd:  cmd,
		out:  launch.NewTailBuffer(l.tailBytes),
		done: make(chan struct{}),
	}

	var tty *os.File
	var copied chan struct{}
	if spec.TTY {
		// pty.Start puts the child in a new session, which also makes it a
		// process group leader.
		f, err := pty.Start(cmd)
		if err != nil {
			return nil, fmt.Errorf("failed to start %s on a pty: %w", spec.Path, err)
		}
		tty = f
		copied = make(chan struct{})
		go func() {
			defer close(copied)
			_, _ = io.Copy(p.out, f)
		}()
	} else {
		cmd.Stdout = p.out
		cmd.Stderr = p.out
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("failed to start %s: %w", spec.Path, err)
		}
	}
	p.start = time.Now()

	go p.reap(tty, copied)
	return p, nil
}

// Ready always succeeds: the host can start processes if we are running.
func (l *Launcher) Ready(ctx context.Context) error {
	return nil
}

// Close releases resources.
func (l *Launcher) Close() error {
	return nil
}

// process implements launch.Handle.
type process struct {
	cmd   *exec.Cmd
	out   *launch.TailBuffer
	start time.Time

	done    chan struct{}
	mu      sync.Mutex
	exit    launch.Exit
	waitErr error
}

func (p *process) reap(tty *os.File, copied chan struct{}) {
	err := p.cmd.Wait()
	if tty != nil {
		select {
		case <-copied:
		case <-time.After(ttyDrainTimeout):
		}
		_ = tty.Close()
	}

	exit := launch.Exit{Code: -1, Duration: time.Since(p.start)}
	var waitErr error
	if ps := p.cmd.ProcessState; ps != nil {
		exit.Code = ps.ExitCode()
		if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			exit.Signal = unix.SignalName(ws.Signal())
		}
	} else if err != nil {
		waitErr = err
	}

	p.mu.Lock()
	p.exit = exit
	p.waitErr = waitErr
	p.mu.Unlock()
	close(p.done)
}

func (p *process) ID() string {
	return strconv.Itoa(p.cmd.Process.Pid)
}

func (p *process) Interrupt(ctx context.Context) error {
	if p.Exited() {
		return nil
	}
	return p.signalGroup(unix.SIGINT)
}

func (p *process) Terminate(ctx context.Context) error {
	if p.Exited() {
		return nil
	}
	return p.signalGroup(unix.SIGTERM)
}

// Kill signals the whole group even after the leader exited, so stragglers
// it left behind are cleaned up too.
func (p *process) Kill(ctx context.Context) error {
	return p.signalGroup(unix.SIGKILL)
}

func (p *process) signalGroup(sig syscall.Signal) error {
	err := unix.Kill(-p.cmd.Process.Pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

func (p *process) Wait(ctx context.Context) (launch.Exit, error) {
	select {
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.exit, p.waitErr
	case <-ctx.Done():
		return launch.Exit{Code: -1, Duration: time.Since(p.start)}, ctx.Err()
	}
}

func (p *process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Output returns the retained tail of the process output, marked with a
// leading "..." when earlier output was dropped.
func (p *process) Output() string {
	if p.out.Truncated() {
		return "..." + p.out.String()
	}
	return p.out.String()
}
