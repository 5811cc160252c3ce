package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// WriteScript writes an executable /bin/sh script named name into dir and
// returns its path. An empty dir means a fresh temporary directory.
func WriteScript(tb testing.TB, dir, name, body string) string {
	tb.Helper()
	if dir == "" {
		dir = tb.TempDir()
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		tb.Fatalf("write script %s: %v", name, err)
	}
	return path
}

func containsLine(out, line string) bool {
	for _, l := range strings.Split(out, "\n") {
		if strings.TrimRight(l, "\r") == line {
			return true
		}
	}
	return false
}
