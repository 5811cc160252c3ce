//go:build integration

package docker

import (
	"context"
	"strings"
	"testing"
	"time"

	"regshots/internal/launch"
)

func TestLauncher_RunAndStop(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	l, err := New(Config{Image: "alpine:latest", ForwardEnv: defaultForwardEnv, Network: "bridge", Pull: true})
	if err != nil {
		t.Fatalf("Failed to create launcher: %v", err)
	}
	defer l.Close()

	if err := l.Ready(ctx); err != nil {
		t.Skipf("docker not available: %v", err)
	}

	h, err := l.Start(ctx, launch.Spec{
		Name: "echo",
		Path: "/bin/sh",
		Args: []string{"-c", `echo "path=$FAKENECT_PATH"`},
		Env:  []string{"FAKENECT_PATH=/tmp/demo"},
		Dir:  "/",
	})
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	exit, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
	if !exit.Success() {
		t.Errorf("expected success, got %v", exit)
	}
	if !strings.Contains(h.Output(), "path=/tmp/demo") {
		t.Errorf("unexpected output %q", h.Output())
	}

	h, err = l.Start(ctx, launch.Spec{Name: "sleep", Path: "sleep", Args: []string{"60"}, Dir: "/"})
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	exit, err = launch.Stop(ctx, h, 5*time.Second)
	if err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if exit.Success() {
		t.Errorf("stopped container should not report success, got %v", exit)
	}
}
