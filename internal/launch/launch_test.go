package launch

import (
	"slices"
	"testing"
	"time"
)

func TestScopedEnv(t *testing.T) {
	t.Parallel()

	base := []string{
		"PATH=/usr/bin",
		"LD_PRELOAD=/stale/libfreenect.so",
		"FAKENECT_PATH=/tmp/old",
		"DISPLAY=:0",
	}

	live := ScopedEnv(base, []string{"LD_PRELOAD", "FAKENECT_PATH"}, nil)
	if _, ok := LookupEnv(live, "LD_PRELOAD"); ok {
		t.Error("live env must not inherit LD_PRELOAD")
	}
	if _, ok := LookupEnv(live, "FAKENECT_PATH"); ok {
		t.Error("live env must not inherit FAKENECT_PATH")
	}
	if v, _ := LookupEnv(live, "DISPLAY"); v != ":0" {
		t.Errorf("unrelated vars must pass through, got DISPLAY=%q", v)
	}

	replay := ScopedEnv(base, []string{"LD_PRELOAD", "FAKENECT_PATH"}, map[string]string{
		"LD_PRELOAD":    "../build/lib/fakenect/libfreenect.so",
		"FAKENECT_PATH": "/tmp/demo",
	})
	want := []string{
		"PATH=/usr/bin",
		"DISPLAY=:0",
		"FAKENECT_PATH=/tmp/demo",
		"LD_PRELOAD=../build/lib/fakenect/libfreenect.so",
	}
	if !slices.Equal(replay, want) {
		t.Errorf("ScopedEnv() = %v, want %v", replay, want)
	}

	// base is not modified
	if base[1] != "LD_PRELOAD=/stale/libfreenect.so" {
		t.Error("ScopedEnv must not mutate base")
	}
}

func TestLookupEnv(t *testing.T) {
	t.Parallel()

	env := []string{"A=1", "B=2", "A=3", "EMPTY="}
	if v, ok := LookupEnv(env, "A"); !ok || v != "3" {
		t.Errorf("expected last A=3, got %q %v", v, ok)
	}
	if v, ok := LookupEnv(env, "EMPTY"); !ok || v != "" {
		t.Errorf("expected present empty value, got %q %v", v, ok)
	}
	if _, ok := LookupEnv(env, "MISSING"); ok {
		t.Error("expected MISSING to be absent")
	}
}

func TestExit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		exit    Exit
		success bool
		text    string
	}{
		{Exit{Code: 0, Duration: 1500 * time.Millisecond}, true, "exit 0 after 1.5s"},
		{Exit{Code: 1, Duration: time.Second}, false, "exit 1 after 1s"},
		{Exit{Code: -1, Signal: "SIGKILL", Duration: 2 * time.Second}, false, "killed by SIGKILL after 2s"},
	}
	for _, tt := range tests {
		if got := tt.exit.Success(); got != tt.success {
			t.Errorf("%+v.Success() = %v, want %v", tt.exit, got, tt.success)
		}
		if got := tt.exit.String(); got != tt.text {
			t.Errorf("%+v.String() = %q, want %q", tt.exit, got, tt.text)
		}
	}
}

func TestTailBuffer(t *testing.T) {
	t.Parallel()

	tb := NewTailBuffer(5)
	_, _ = tb.Write([]byte("abc"))
	if tb.String() != "abc" || tb.Truncated() {
		t.Errorf("unexpected state %q truncated=%v", tb.String(), tb.Truncated())
	}
	_, _ = tb.Write([]byte("defg"))
	if tb.String() != "cdefg" || !tb.Truncated() {
		t.Errorf("expected tail cdefg, got %q truncated=%v", tb.String(), tb.Truncated())
	}
	n, err := tb.Write([]byte("0123456789"))
	if n != 10 || err != nil {
		t.Errorf("Write must report full length, got %d %v", n, err)
	}
	if tb.String() != "56789" {
		t.Errorf("expected 56789, got %q", tb.String())
	}

	empty := NewTailBuffer(0)
	_, _ = empty.Write([]byte("x"))
	if empty.String() != "" || !empty.Truncated() {
		t.Error("zero-size buffer should drop everything")
	}
}

func TestSpecArgv(t *testing.T) {
	t.Parallel()

	s := Spec{Path: "../build/bin/fakenect_regview", Args: []string{"2"}}
	if got := s.Argv(); !slices.Equal(got, []string{"../build/bin/fakenect_regview", "2"}) {
		t.Errorf("Argv() = %v", got)
	}
}
