// Package config loads run configuration from defaults, an optional YAML file,
// and environment variables, in that order of precedence (last wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env"
	"gopkg.in/yaml.v3"

	"regshots/internal/apperrors"
)

// DefaultConfigFile is read when no explicit config path is given and it exists.
const DefaultConfigFile = "regshots.yaml"

// Backends understood by the launcher factory.
const (
	BackendLocal  = "local"
	BackendDocker = "docker"
)

// Config holds everything a capture run needs.
type Config struct {
	OutputDir     string `yaml:"output_dir" env:"OUTPUT_DIR"`
	RecordingRoot string `yaml:"recording_root" env:"RECORDING_ROOT"`

	RecordBin     string `yaml:"record_bin" env:"RECORD_BIN"`
	RecordTTY     bool   `yaml:"record_tty" env:"RECORD_TTY"`
	ViewerBin     string `yaml:"viewer_bin" env:"VIEWER_BIN"`
	ShimPath      string `yaml:"shim_path" env:"SHIM_PATH"`
	ScreenshotBin string `yaml:"screenshot_bin" env:"SCREENSHOT_BIN"`
	ProbeBin      string `yaml:"probe_bin" env:"WINDOW_PROBE_BIN"`
	WindowTitle   string `yaml:"window_title" env:"WINDOW_TITLE"`

	RecordDuration     time.Duration `yaml:"record_duration" env:"RECORD_DURATION"`
	RecordStartTimeout time.Duration `yaml:"record_start_timeout" env:"RECORD_START_TIMEOUT"`
	FinalizeTimeout    time.Duration `yaml:"finalize_timeout" env:"FINALIZE_TIMEOUT"`
	WindowTimeout      time.Duration `yaml:"window_timeout" env:"WINDOW_TIMEOUT"`
	RenderDelay        time.Duration `yaml:"render_delay" env:"RENDER_DELAY"`
	PauseAfterLive     time.Duration `yaml:"pause_after_live" env:"PAUSE_AFTER_LIVE"`
	StopGrace          time.Duration `yaml:"stop_grace" env:"STOP_GRACE"`

	Backend     string `yaml:"backend" env:"RUNNER_BACKEND"`
	DockerImage string `yaml:"docker_image" env:"DOCKER_IMAGE"`

	CallbackURL     string        `yaml:"callback_url" env:"CALLBACK_URL"`
	CallbackKey     string        `yaml:"-" env:"CALLBACK_KEY"`
	CallbackTimeout time.Duration `yaml:"callback_timeout" env:"CALLBACK_TIMEOUT"`
	CallbackRetries int           `yaml:"callback_retries" env:"CALLBACK_RETRIES"`

	MetricsFile string `yaml:"metrics_file" env:"METRICS_FILE"`
	Archive     bool   `yaml:"archive" env:"ARCHIVE"`

	// Optional HTTP status server exposing progress and metrics during a run.
	StatusAddr string `yaml:"status_addr" env:"STATUS_ADDR"`
	StatusKey  string `yaml:"-" env:"STATUS_KEY"`
}

// Default returns the configuration matching the stock libfreenect build layout.
func Default() *Config {
	return &Config{
		OutputDir:     "registered_playback_tests",
		RecordingRoot: "/tmp",

		RecordBin:     "record",
		ViewerBin:     "../build/bin/fakenect_regview",
		ShimPath:      "../build/lib/fakenect/libfreenect.so",
		ScreenshotBin: "import",
		ProbeBin:      "xwininfo",
		WindowTitle:   "libfreenect Registration viewer",

		RecordDuration:     2 * time.Second,
		RecordStartTimeout: 5 * time.Second,
		FinalizeTimeout:    3 * time.Second,
		WindowTimeout:      10 * time.Second,
		RenderDelay:        2 * time.Second,
		PauseAfterLive:     3 * time.Second,
		StopGrace:          2 * time.Second,

		Backend:     BackendLocal,
		DockerImage: "libfreenect:latest",

		CallbackTimeout: 10 * time.Second,
		CallbackRetries: 3,
	}
}

// Load builds a Config from defaults, then the YAML file at path (or
// REGSHOTS_CONFIG, or DefaultConfigFile when present), then the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = GetEnv("REGSHOTS_CONFIG", "")
		explicit = path != ""
	}
	if !explicit {
		path = DefaultConfigFile
	}

	if err := cfg.loadFile(path, explicit); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, apperrors.Validation("env", fmt.Sprintf("invalid environment: %v", err))
	}
	if keyFile := GetEnv("CALLBACK_KEY_FILE", ""); keyFile != "" && cfg.CallbackKey == "" {
		cfg.CallbackKey = GetSecretFile(keyFile)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if !required && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return apperrors.Validation("config", fmt.Sprintf("failed to read config file %s: %v", path, err))
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return apperrors.Validation("config", fmt.Sprintf("failed to parse config file %s: %v", path, err))
	}
	return nil
}

// Validate rejects configurations that would make a run meaningless.
func (c *Config) Validate() error {
	required := []struct {
		field string
		value string
	}{
		{"output_dir", c.OutputDir},
		{"recording_root", c.RecordingRoot},
		{"record_bin", c.RecordBin},
		{"viewer_bin", c.ViewerBin},
		{"shim_path", c.ShimPath},
		{"screenshot_bin", c.ScreenshotBin},
		{"probe_bin", c.ProbeBin},
		{"window_title", c.WindowTitle},
	}
	for _, r := range required {
		if r.value == "" {
			return apperrors.Validation(r.field, r.field+" is required")
		}
	}

	positive := []struct {
		field string
		value time.Duration
	}{
		{"record_duration", c.RecordDuration},
		{"record_start_timeout", c.RecordStartTimeout},
		{"finalize_timeout", c.FinalizeTimeout},
		{"window_timeout", c.WindowTimeout},
		{"stop_grace", c.StopGrace},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return apperrors.Validation(p.field, p.field+" must be positive")
		}
	}
	if c.RenderDelay < 0 || c.PauseAfterLive < 0 {
		return apperrors.Validation("render_delay", "delays must not be negative")
	}

	switch c.Backend {
	case BackendLocal:
	case BackendDocker:
		if c.DockerImage == "" {
			return apperrors.Validation("docker_image", "docker_image is required for the docker backend")
		}
	default:
		return apperrors.Validation("backend", fmt.Sprintf("unknown backend %q (supported: local, docker)", c.Backend))
	}
	return nil
}
