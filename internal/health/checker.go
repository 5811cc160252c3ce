// Package health runs preflight checks before a capture run.
package health

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"regshots/internal/config"
)

// ReadinessChecker is the interface for backend readiness checks.
// Implemented by launchers to verify they can start processes.
type ReadinessChecker interface {
	Ready(ctx context.Context) error
}

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// CheckResult contains the result of a health check.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Response is the health check response.
type Response struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// CheckFunc returns nil when the checked dependency is usable.
type CheckFunc func(ctx context.Context) error

type check struct {
	name     string
	critical bool
	fn       CheckFunc
}

// Checker performs a list of named checks.
// A failing critical check makes the response unhealthy; a failing optional
// check only degrades it.
type Checker struct {
	checks  []check
	timeout time.Duration
}

// NewChecker creates an empty checker.
func NewChecker() *Checker {
	return &Checker{timeout: 5 * time.Second}
}

// Add registers a critical check.
func (c *Checker) Add(name string, fn CheckFunc) *Checker {
	c.checks = append(c.checks, check{name: name, critical: true, fn: fn})
	return c
}

// AddOptional registers a check whose failure only degrades the result.
func (c *Checker) AddOptional(name string, fn CheckFunc) *Checker {
	c.checks = append(c.checks, check{name: name, fn: fn})
	return c
}

// Run executes every check in registration order.
func (c *Checker) Run(ctx context.Context) *Response {
	resp := &Response{
		Status: StatusHealthy,
		Checks: make(map[string]CheckResult, len(c.checks)),
	}

	for _, ch := range c.checks {
		checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := ch.fn(checkCtx)
		cancel()

		if err == nil {
			resp.Checks[ch.name] = CheckResult{Status: StatusHealthy}
			continue
		}
		if ch.critical {
			resp.Checks[ch.name] = CheckResult{Status: StatusUnhealthy, Message: err.Error()}
			resp.Status = StatusUnhealthy
			continue
		}
		resp.Checks[ch.name] = CheckResult{Status: StatusDegraded, Message: err.Error()}
		if resp.Status == StatusHealthy {
			resp.Status = StatusDegraded
		}
	}

	return resp
}

// IsHealthy returns true if the overall status is healthy.
func (r *Response) IsHealthy() bool {
	return r.Status == StatusHealthy
}

// Usable returns true unless a critical check failed.
func (r *Response) Usable() bool {
	return r.Status != StatusUnhealthy
}

// Names returns the check names in sorted order.
func (r *Response) Names() []string {
	names := make([]string, 0, len(r.Checks))
	for name := range r.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Failures returns "name: message" for every check that did not pass.
func (r *Response) Failures() []string {
	var out []string
	for _, name := range r.Names() {
		if res := r.Checks[name]; res.Status != StatusHealthy {
			out = append(out, name+": "+res.Message)
		}
	}
	return out
}

// Backend checks that the launcher backend can start processes.
func Backend(rc ReadinessChecker) CheckFunc {
	return func(ctx context.Context) error {
		if rc == nil {
			return errors.New("launcher not configured")
		}
		return rc.Ready(ctx)
	}
}

// Tool checks that bin can be executed. Names without a slash are looked up
// in PATH; paths must point to an executable regular file.
func Tool(bin string) CheckFunc {
	return func(ctx context.Context) error {
		if !strings.ContainsRune(bin, filepath.Separator) {
			if _, err := exec.LookPath(bin); err != nil {
				return fmt.Errorf("%s not found in PATH", bin)
			}
			return nil
		}
		info, err := os.Stat(bin)
		if err != nil {
			return fmt.Errorf("%s not found (build the examples first?)", bin)
		}
		if info.IsDir() || info.Mode().Perm()&0o111 == 0 {
			return fmt.Errorf("%s is not executable", bin)
		}
		return nil
	}
}

// File checks that path exists and is a regular file.
func File(path string) CheckFunc {
	return func(ctx context.Context) error {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("%s not found", path)
		}
		if !info.Mode().IsRegular() {
			return fmt.Errorf("%s is not a regular file", path)
		}
		return nil
	}
}

// Env checks that an environment variable is set.
func Env(key string) CheckFunc {
	return func(ctx context.Context) error {
		if os.Getenv(key) == "" {
			return fmt.Errorf("%s is not set", key)
		}
		return nil
	}
}

// Writable checks that dir (or its nearest existing parent) accepts new files.
func Writable(dir string) CheckFunc {
	return func(ctx context.Context) error {
		for {
			if _, err := os.Stat(dir); err == nil {
				break
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				return fmt.Errorf("no existing parent for %s", dir)
			}
			dir = parent
		}
		f, err := os.CreateTemp(dir, ".preflight-*")
		if err != nil {
			return fmt.Errorf("%s is not writable: %w", dir, err)
		}
		name := f.Name()
		f.Close()
		return os.Remove(name)
	}
}

// URL checks that raw is an absolute http(s) URL.
func URL(raw string) CheckFunc {
	return func(ctx context.Context) error {
		u, err := url.Parse(raw)
		if err != nil {
			return err
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%q is not an http(s) URL", raw)
		}
		return nil
	}
}

// Preflight builds the standard checks for a run with cfg.
// With the docker backend the recorder, viewer and shim live in the image, so
// only the host-side display tools are checked here.
func Preflight(cfg *config.Config, backend ReadinessChecker) *Checker {
	c := NewChecker()
	c.Add("backend", Backend(backend))
	c.Add("display", Env("DISPLAY"))
	c.Add("probe", Tool(cfg.ProbeBin))
	c.Add("screenshot", Tool(cfg.ScreenshotBin))
	if cfg.Backend != config.BackendDocker {
		c.Add("recorder", Tool(cfg.RecordBin))
		c.Add("viewer", Tool(cfg.ViewerBin))
		c.Add("shim", File(cfg.ShimPath))
	}
	c.Add("output", Writable(cfg.OutputDir))
	c.Add("recording", Writable(cfg.RecordingRoot))
	if cfg.CallbackURL != "" {
		c.AddOptional("callback", URL(cfg.CallbackURL))
	}
	if cfg.MetricsFile != "" {
		c.AddOptional("metrics", Writable(filepath.Dir(cfg.MetricsFile)))
	}
	return c
}
