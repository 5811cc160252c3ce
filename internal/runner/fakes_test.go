package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"regshots/internal/launch"
	"regshots/internal/recording"
)

// fakeHandle is an in-memory process.
type fakeHandle struct {
	id         string
	spec       launch.Spec
	ignoreTerm bool
	output     string

	mu      sync.Mutex
	signals []string
	exit    launch.Exit
	done    chan struct{}
	started time.Time
}

func newFakeHandle(id string, spec launch.Spec) *fakeHandle {
	return &fakeHandle{id: id, spec: spec, done: make(chan struct{}), started: time.Now()}
}

func (h *fakeHandle) ID() string { return h.id }

func (h *fakeHandle) finish(exit launch.Exit) {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.done:
		return
	default:
	}
	exit.Duration = time.Since(h.started)
	h.exit = exit
	close(h.done)
}

func (h *fakeHandle) signal(name string) {
	h.mu.Lock()
	h.signals = append(h.signals, name)
	h.mu.Unlock()
}

func (h *fakeHandle) Signals() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.signals...)
}

func (h *fakeHandle) Interrupt(ctx context.Context) error {
	h.signal("SIGINT")
	h.finish(launch.Exit{Code: 0})
	return nil
}

func (h *fakeHandle) Terminate(ctx context.Context) error {
	h.signal("SIGTERM")
	if !h.ignoreTerm {
		h.finish(launch.Exit{Code: 143, Signal: "SIGTERM"})
	}
	return nil
}

func (h *fakeHandle) Kill(ctx context.Context) error {
	h.signal("SIGKILL")
	h.finish(launch.Exit{Code: 137, Signal: "SIGKILL"})
	return nil
}

func (h *fakeHandle) Wait(ctx context.Context) (launch.Exit, error) {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.exit, nil
	case <-ctx.Done():
		return launch.Exit{}, ctx.Err()
	}
}

func (h *fakeHandle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

func (h *fakeHandle) Output() string { return h.output }

// recorderBehavior controls what the fake recorder writes.
type recorderBehavior int

const (
	recorderWrites recorderBehavior = iota
	recorderSilent
	recorderMissingFrames
)

// fakeLauncher starts fake processes. The recorder writes a capture into its
// argument directory; viewers "open" a window while running.
type fakeLauncher struct {
	recorder       recorderBehavior
	viewerExitCode int  // non-zero: viewer exits right after start
	ignoreTerm     bool // viewers ignore SIGTERM
	startErr       error

	mu      sync.Mutex
	handles []*fakeHandle
}

func (l *fakeLauncher) Start(ctx context.Context, spec launch.Spec) (launch.Handle, error) {
	if l.startErr != nil {
		return nil, l.startErr
	}

	l.mu.Lock()
	h := newFakeHandle(fmt.Sprintf("fake-%d", len(l.handles)+1), spec)
	l.handles = append(l.handles, h)
	l.mu.Unlock()

	if spec.Name == "record" {
		// Like the real recorder, refuse to write over an existing index.
		if _, err := os.Stat(filepath.Join(spec.Args[0], recording.IndexFile)); err == nil {
			h.output = "Error: Index already exists, to avoid overwriting use a different directory."
			h.finish(launch.Exit{Code: 1})
			return h, nil
		}
		l.writeRecording(spec.Args[0])
		return h, nil
	}

	h.ignoreTerm = l.ignoreTerm
	if l.viewerExitCode != 0 {
		h.output = "freenect_open_device failed"
		h.finish(launch.Exit{Code: l.viewerExitCode})
	}
	return h, nil
}

func (l *fakeLauncher) writeRecording(dir string) {
	if l.recorder == recorderSilent {
		return
	}
	_ = os.MkdirAll(dir, 0o755)

	lines := []string{
		"a-1294770045.372364-0-dump",
		"d-1294770045.372664-2349236-pgm",
		"r-1294770045.412663-2354856-ppm",
	}
	if l.recorder != recorderMissingFrames {
		for _, name := range lines {
			_ = os.WriteFile(filepath.Join(dir, name), []byte("frame"), 0o644)
		}
	}
	_ = os.WriteFile(filepath.Join(dir, recording.IndexFile), []byte(strings.Join(lines, "\n")+"\n"), 0o644)
}

func (l *fakeLauncher) Ready(ctx context.Context) error { return nil }
func (l *fakeLauncher) Close() error                    { return nil }

func (l *fakeLauncher) Handles() []*fakeHandle {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*fakeHandle(nil), l.handles...)
}

// windowOpen reports whether any viewer is running.
func (l *fakeLauncher) windowOpen() bool {
	for _, h := range l.Handles() {
		if h.spec.Name != "record" && !h.Exited() {
			return true
		}
	}
	return false
}

// fakeProbe sees a window while a viewer runs, unless never is set.
type fakeProbe struct {
	launcher *fakeLauncher
	never    bool

	mu     sync.Mutex
	titles []string
}

func (p *fakeProbe) Exists(ctx context.Context, title string) (bool, error) {
	p.mu.Lock()
	p.titles = append(p.titles, title)
	p.mu.Unlock()
	if p.never {
		return false, nil
	}
	return p.launcher.windowOpen(), nil
}

// fakeShooter writes a minimal PNG to dest.
type fakeShooter struct {
	failLabel string

	mu    sync.Mutex
	dests []string
}

func (s *fakeShooter) Capture(ctx context.Context, title, dest string) error {
	s.mu.Lock()
	s.dests = append(s.dests, dest)
	s.mu.Unlock()
	if s.failLabel != "" && strings.Contains(dest, s.failLabel) {
		return errors.New("import: unable to read X window image")
	}
	return os.WriteFile(dest, []byte("\x89PNG\r\n\x1a\nfake"), 0o644)
}

// progressRecorder collects progress callbacks.
type progressRecorder struct {
	mu       sync.Mutex
	started  []string
	finished []StepResult
}

func (p *progressRecorder) StepStarted(step, description string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = append(p.started, step+": "+description)
}

func (p *progressRecorder) StepFinished(result StepResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finished = append(p.finished, result)
}
