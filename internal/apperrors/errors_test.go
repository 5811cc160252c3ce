package apperrors

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestUsage(t *testing.T) {
	t.Parallel()
	err := Usage("usage: make-tests recording_name")

	if !errors.Is(err, ErrUsage) {
		t.Error("expected error to match ErrUsage")
	}
	if err.Error() != "usage: make-tests recording_name" {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestValidation(t *testing.T) {
	t.Parallel()
	err := Validation("testName", "test name must not contain a path separator")

	if !errors.Is(err, ErrValidation) {
		t.Error("expected error to match ErrValidation")
	}

	var appErr *Error
	if !errors.As(err, &appErr) {
		t.Fatal("expected error to be *Error")
	}
	if appErr.Field != "testName" {
		t.Errorf("expected field 'testName', got %q", appErr.Field)
	}
}

func TestNotReady(t *testing.T) {
	t.Parallel()
	err := NotReady("live-overlay", "window", context.DeadlineExceeded)

	if !errors.Is(err, ErrNotReady) {
		t.Error("expected error to match ErrNotReady")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("expected cause to be visible through errors.Is")
	}
	if err.Error() != "live-overlay: window not ready: context deadline exceeded" {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestProcess(t *testing.T) {
	t.Parallel()
	cause := fmt.Errorf("exec: \"record\": executable file not found in $PATH")
	err := Process("record", "launch.start", cause)

	if !errors.Is(err, ErrProcess) {
		t.Error("expected error to match ErrProcess")
	}

	var appErr *Error
	if !errors.As(err, &appErr) {
		t.Fatal("expected error to be *Error")
	}
	if appErr.Step != "record" {
		t.Errorf("expected step 'record', got %q", appErr.Step)
	}
	if appErr.Op != "launch.start" {
		t.Errorf("expected op 'launch.start', got %q", appErr.Op)
	}
	if appErr.Cause != cause {
		t.Error("expected cause to be preserved")
	}
}

func TestConflict(t *testing.T) {
	t.Parallel()
	err := Conflict("registered_playback_tests/.demo.lock", "another run holds the lock")

	if !errors.Is(err, ErrConflict) {
		t.Error("expected error to match ErrConflict")
	}
	if err.Error() != "registered_playback_tests/.demo.lock: another run holds the lock" {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestInternal(t *testing.T) {
	t.Parallel()
	cause := fmt.Errorf("disk full")
	err := Internal("artifact.writeManifest", cause)

	if !errors.Is(err, ErrInternal) {
		t.Error("expected error to match ErrInternal")
	}
	if err.Error() != "artifact.writeManifest: disk full" {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestExitCode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"nil error", nil, ExitOK},
		{"usage", Usage("usage"), ExitUsage},
		{"validation", Validation("f", "m"), ExitUsage},
		{"conflict", Conflict("lock", "held"), ExitConflict},
		{"not ready", NotReady("s", "window", errors.New("timeout")), ExitFailure},
		{"process", Process("s", "op", errors.New("exit 1")), ExitFailure},
		{"internal", Internal("op", errors.New("fail")), ExitFailure},
		{"wrapped usage", fmt.Errorf("wrap: %w", Usage("m")), ExitUsage},
		{"unknown error", errors.New("unknown"), ExitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ExitCode(tt.err); got != tt.expected {
				t.Errorf("ExitCode() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestErrorsIsWithWrapping(t *testing.T) {
	t.Parallel()
	original := Validation("testName", "required")
	wrapped := fmt.Errorf("parse args: %w", original)
	doubleWrapped := fmt.Errorf("cli: %w", wrapped)

	if !errors.Is(doubleWrapped, ErrValidation) {
		t.Error("expected errors.Is to find ErrValidation through multiple wraps")
	}
}
