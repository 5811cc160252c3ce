// Package cli implements the make-tests command line.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"regshots/internal/api"
	"regshots/internal/apperrors"
	"regshots/internal/config"
	"regshots/internal/health"
	"regshots/internal/launch"
	"regshots/internal/launch/docker"
	"regshots/internal/launch/local"
	"regshots/internal/notify"
	"regshots/internal/observability"
	"regshots/internal/plan"
	"regshots/internal/recording"
	"regshots/internal/runner"
	"regshots/internal/window"
)

const usageLine = "usage: make-tests [-config FILE] [-preflight] [-check-recording DIR] TESTNAME"

// notifyDrainTimeout bounds how long pending callbacks may delay exit.
const notifyDrainTimeout = 10 * time.Second

type options struct {
	configPath     string
	preflight      bool
	checkRecording string
	testName       string
}

// Run executes the command and returns the process exit code.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseArgs(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return apperrors.ExitOK
	}
	if err != nil {
		fmt.Fprintln(stderr, err)
		fmt.Fprintln(stderr, usageLine)
		return apperrors.ExitCode(err)
	}

	out := newPrinter(stdout)

	if opts.checkRecording != "" {
		s, err := recording.Validate(opts.checkRecording)
		out.recording(s, err)
		if err != nil {
			return apperrors.ExitFailure
		}
		return apperrors.ExitOK
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return apperrors.ExitCode(err)
	}

	launcher, err := newLauncher(cfg)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return apperrors.ExitCode(err)
	}
	defer launcher.Close()

	resp := health.Preflight(cfg, launcher).Run(ctx)
	if opts.preflight {
		out.preflight(resp)
		if !resp.Usable() {
			return apperrors.ExitFailure
		}
		return apperrors.ExitOK
	}
	if !resp.Usable() {
		out.preflight(resp)
		fmt.Fprintln(stderr, "preflight failed: "+strings.Join(resp.Failures(), "; "))
		return apperrors.ExitFailure
	}
	for _, f := range resp.Failures() {
		slog.Warn("Preflight check degraded", "check", f)
	}

	return execute(ctx, cfg, launcher, resp, opts.testName, out, stderr)
}

func execute(ctx context.Context, cfg *config.Config, launcher launch.Launcher, preflight *health.Response, testName string, out *printer, stderr io.Writer) int {
	metrics, err := observability.NewMetrics(ctx)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return apperrors.ExitFailure
	}
	defer func() {
		if err := metrics.Shutdown(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("Metrics shutdown error", "error", err)
		}
	}()

	notifier := notify.New(notify.Config{
		URL:        cfg.CallbackURL,
		SigningKey: cfg.CallbackKey,
		Timeout:    cfg.CallbackTimeout,
		Retries:    cfg.CallbackRetries,
	}, metrics)

	var progress runner.Progress = out
	var tracker *api.Tracker
	if cfg.StatusAddr != "" {
		tracker = api.NewTracker(testName)
		srv, err := api.Start(cfg.StatusAddr, api.NewRouter(api.RouterConfig{
			Tracker:   tracker,
			Preflight: preflight,
			Metrics:   metrics,
			APIKey:    cfg.StatusKey,
		}))
		if err != nil {
			slog.Warn("Status server disabled", "addr", cfg.StatusAddr, "error", err)
			tracker = nil
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					slog.Warn("Status server shutdown error", "error", err)
				}
			}()
			progress = fanout{out, tracker}
		}
	}

	r, err := runner.New(cfg, runner.Deps{
		Launcher: launcher,
		Probe:    window.NewXProbe(cfg.ProbeBin),
		Shooter:  window.NewImportShooter(cfg.ScreenshotBin),
		Metrics:  metrics,
		Notifier: notifier,
		Progress: progress,
	})
	if err != nil {
		fmt.Fprintln(stderr, err)
		return apperrors.ExitCode(err)
	}

	report, runErr := r.Run(ctx, testName)
	if tracker != nil {
		tracker.Finish(report)
	}

	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyDrainTimeout)
	if err := notifier.Close(drainCtx); err != nil {
		slog.Warn("Callback delivery incomplete", "error", err)
	}
	cancel()
	if notifier.Enabled() {
		stats := notifier.Stats()
		slog.Info("Callback stats", "delivered", stats.Delivered, "failed", stats.Failed, "dropped", stats.Dropped)
	}

	if cfg.MetricsFile != "" {
		if err := metrics.WriteTextfile(cfg.MetricsFile); err != nil {
			slog.Warn("Failed to write metrics file", "path", cfg.MetricsFile, "error", err)
		}
	}

	if runErr != nil {
		fmt.Fprintln(stderr, runErr)
		return apperrors.ExitCode(runErr)
	}

	out.summary(report)
	if !report.Succeeded() {
		return apperrors.ExitFailure
	}
	return apperrors.ExitOK
}

func parseArgs(args []string, stderr io.Writer) (options, error) {
	var opts options

	fs := flag.NewFlagSet("make-tests", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Usage = func() {}
	fs.StringVar(&opts.configPath, "config", "", "YAML configuration file")
	fs.BoolVar(&opts.preflight, "preflight", false, "check tools and environment, then exit")
	fs.StringVar(&opts.checkRecording, "check-recording", "", "validate an existing recording directory, then exit")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(stderr, usageLine)
			fs.SetOutput(stderr)
			fs.PrintDefaults()
			return opts, err
		}
		return opts, apperrors.Usage(err.Error())
	}

	rest := fs.Args()
	if opts.preflight || opts.checkRecording != "" {
		if len(rest) > 0 {
			return opts, apperrors.Usage("no test name expected with -preflight or -check-recording")
		}
		return opts, nil
	}

	switch len(rest) {
	case 0:
		return opts, apperrors.Usage("missing test name")
	case 1:
	default:
		return opts, apperrors.Usage(fmt.Sprintf("expected one test name, got %d arguments", len(rest)))
	}

	opts.testName = rest[0]
	if err := plan.ValidateTestName(opts.testName); err != nil {
		return opts, err
	}
	return opts, nil
}

func newLauncher(cfg *config.Config) (launch.Launcher, error) {
	if cfg.Backend == config.BackendDocker {
		l, err := docker.New(docker.LoadConfig(cfg))
		if err != nil {
			return nil, apperrors.Internal("docker launcher", err)
		}
		return l, nil
	}
	return local.New(), nil
}

// fanout forwards progress to several receivers.
type fanout []runner.Progress

func (f fanout) StepStarted(step, description string) {
	for _, p := range f {
		p.StepStarted(step, description)
	}
}

func (f fanout) StepFinished(result runner.StepResult) {
	for _, p := range f {
		p.StepFinished(result)
	}
}
