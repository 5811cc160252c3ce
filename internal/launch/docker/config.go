package docker

import (
	"os"
	"path/filepath"
	"strings"

	"regshots/internal/config"
)

// Config holds configuration for the Docker launcher.
type Config struct {
	Image      string   // Image containing the recorder and viewer builds
	Binds      []string // Host paths mounted at the same path inside the container
	Devices    []string // Host devices passed through (USB bus for live capture)
	ForwardEnv []string // Child environment keys copied into the container
	Network    string   // Container network mode
	Pull       bool     // Pull the image when it is not present locally
}

// defaultForwardEnv lists the only child variables that make sense inside the
// container; host PATH and friends would break the image's own layout.
var defaultForwardEnv = []string{"DISPLAY", "XAUTHORITY", "LD_PRELOAD", "FAKENECT_PATH"}

// LoadConfig derives the launcher configuration from the run configuration.
// The working directory's parent is mounted so relative tool paths such as
// ../build/bin/fakenect_regview resolve identically inside the container.
func LoadConfig(cfg *config.Config) Config {
	binds := []string{"/tmp/.X11-unix", cfg.RecordingRoot}
	if wd, err := os.Getwd(); err == nil {
		binds = append(binds, filepath.Dir(wd))
	}
	if xauth := os.Getenv("XAUTHORITY"); xauth != "" {
		binds = append(binds, xauth)
	}
	if extra := config.GetEnv("DOCKER_BINDS", ""); extra != "" {
		binds = append(binds, strings.Split(extra, ",")...)
	}

	return Config{
		Image:      cfg.DockerImage,
		Binds:      dedupe(binds),
		Devices:    []string{"/dev/bus/usb"},
		ForwardEnv: defaultForwardEnv,
		Network:    config.GetEnv("DOCKER_NETWORK", "host"),
		Pull:       config.GetBoolEnv("DOCKER_PULL", true),
	}
}

func dedupe(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if p == "" {
			continue
		}
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
