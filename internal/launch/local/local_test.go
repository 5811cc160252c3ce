package local

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"regshots/internal/launch"
	"regshots/internal/testutil"
)

func shSpec(script string) launch.Spec {
	return launch.Spec{
		Name: "test",
		Path: "/bin/sh",
		Args: []string{"-c", script},
		Env:  os.Environ(),
	}
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestStart_ExitCodeAndOutput(t *testing.T) {
	t.Parallel()
	ctx := waitCtx(t)

	h, err := New().Start(ctx, shSpec("echo hello; echo oops >&2; exit 3"))
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	exit, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
	if exit.Code != 3 {
		t.Errorf("expected exit code 3, got %d", exit.Code)
	}
	if exit.Success() {
		t.Error("exit 3 should not be a success")
	}
	out := h.Output()
	if !strings.Contains(out, "hello") || !strings.Contains(out, "oops") {
		t.Errorf("expected combined output, got %q", out)
	}

	// Wait is repeatable
	again, err := h.Wait(ctx)
	if err != nil || again.Code != 3 {
		t.Errorf("second Wait() = %v, %v", again, err)
	}
	if !h.Exited() {
		t.Error("Exited() should be true after Wait")
	}
}

func TestStart_UsesExplicitEnv(t *testing.T) {
	t.Parallel()
	ctx := waitCtx(t)

	spec := shSpec(`printf '%s|%s' "$FAKENECT_PATH" "${LD_PRELOAD:-unset}"`)
	spec.Env = launch.ScopedEnv(
		[]string{"PATH=" + os.Getenv("PATH"), "LD_PRELOAD=/stale/libfreenect.so"},
		[]string{"LD_PRELOAD", "FAKENECT_PATH"},
		map[string]string{"FAKENECT_PATH": "/tmp/demo"},
	)

	h, err := New().Start(ctx, spec)
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if _, err := h.Wait(ctx); err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
	if got := h.Output(); got != "/tmp/demo|unset" {
		t.Errorf("unexpected child env view %q", got)
	}
}

func TestStart_MissingBinary(t *testing.T) {
	t.Parallel()

	_, err := New().Start(context.Background(), launch.Spec{Path: "/nonexistent/fakenect_regview"})
	if err == nil {
		t.Fatal("expected error for missing binary")
	}
}

func TestStart_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New().Start(ctx, shSpec("true")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestStop_Terminates(t *testing.T) {
	t.Parallel()
	ctx := waitCtx(t)

	h, err := New().Start(ctx, shSpec("sleep 30"))
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	start := time.Now()
	exit, err := launch.Stop(ctx, h, 2*time.Second)
	if err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if exit.Signal != "SIGTERM" {
		t.Errorf("expected SIGTERM, got %+v", exit)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("Stop should not need the full grace period")
	}
}

func TestStop_EscalatesToKill(t *testing.T) {
	t.Parallel()
	ctx := waitCtx(t)

	// An ignored signal disposition is inherited by the sleep as well.
	h, err := New().Start(ctx, shSpec(`trap "" TERM; echo ready; sleep 30`))
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	testutil.WaitForOutput(t, h, "ready")

	exit, err := launch.Stop(ctx, h, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if exit.Signal != "SIGKILL" {
		t.Errorf("expected SIGKILL after grace, got %+v", exit)
	}
}

func TestStop_KillsProcessGroup(t *testing.T) {
	t.Parallel()
	ctx := waitCtx(t)

	// The background sleep holds the output pipe open; Wait only returns
	// promptly if the whole group is signalled.
	h, err := New().Start(ctx, shSpec("sleep 30 & echo ready; wait"))
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	testutil.WaitForOutput(t, h, "ready")

	start := time.Now()
	if _, err := launch.Stop(ctx, h, 2*time.Second); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 1500*time.Millisecond {
		t.Errorf("group stop took %v", elapsed)
	}
}

func TestStop_AlreadyExited(t *testing.T) {
	t.Parallel()
	ctx := waitCtx(t)

	h, err := New().Start(ctx, shSpec("exit 0"))
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if _, err := h.Wait(ctx); err != nil {
		t.Fatalf("Wait() error: %v", err)
	}

	exit, err := launch.Stop(ctx, h, time.Second)
	if err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if !exit.Success() {
		t.Errorf("expected clean exit, got %+v", exit)
	}
}

func TestFinish_InterruptLetsProcessFlush(t *testing.T) {
	t.Parallel()
	ctx := waitCtx(t)

	h, err := New().Start(ctx, shSpec(`trap 'echo flushed; exit 0' INT; echo ready; while true; do sleep 0.05; done`))
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	testutil.WaitForOutput(t, h, "ready")

	exit, err := launch.Finish(ctx, h, 3*time.Second)
	if err != nil {
		t.Fatalf("Finish() error: %v", err)
	}
	if !exit.Success() {
		t.Errorf("expected clean exit after SIGINT, got %+v", exit)
	}
	if !strings.Contains(h.Output(), "flushed") {
		t.Errorf("expected trap output, got %q", h.Output())
	}
}

func TestStart_TTY(t *testing.T) {
	t.Parallel()
	ctx := waitCtx(t)

	spec := shSpec("if [ -t 1 ]; then echo tty; else echo pipe; fi")
	spec.TTY = true

	h, err := New().Start(ctx, spec)
	if err != nil {
		t.Skipf("pty not available: %v", err)
	}
	if _, err := h.Wait(ctx); err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
	if !strings.Contains(h.Output(), "tty") {
		t.Errorf("expected child to see a terminal, got %q", h.Output())
	}
}

func TestTailBytes(t *testing.T) {
	t.Parallel()
	ctx := waitCtx(t)

	h, err := New(WithTailBytes(4)).Start(ctx, shSpec("printf 0123456789"))
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if _, err := h.Wait(ctx); err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
	if got := h.Output(); got != "...6789" {
		t.Errorf("expected last 4 bytes marked as truncated, got %q", got)
	}

	h, err = New(WithTailBytes(16)).Start(ctx, shSpec("printf 0123"))
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if _, err := h.Wait(ctx); err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
	if got := h.Output(); got != "0123" {
		t.Errorf("short output should be returned as is, got %q", got)
	}
}
