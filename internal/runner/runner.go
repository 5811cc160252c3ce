// Package runner drives a full capture run: record a short session, then
// screenshot the registration viewer live and in replay.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"regshots/internal/apperrors"
	"regshots/internal/artifact"
	"regshots/internal/config"
	"regshots/internal/launch"
	"regshots/internal/notify"
	"regshots/internal/observability"
	"regshots/internal/plan"
	"regshots/internal/readiness"
	"regshots/internal/recording"
	"regshots/internal/window"
)

// Variables that redirect the viewer to a recording. They are removed from
// every child environment and set again only for replay steps.
const (
	EnvPreload      = "LD_PRELOAD"
	EnvFakenectPath = "FAKENECT_PATH"
)

var redirectVars = []string{EnvPreload, EnvFakenectPath}

// archiveExcludes keeps lock files out of archives.
var archiveExcludes = []string{".*.lock", ".tmp-*"}

// Progress receives human-readable step notifications.
type Progress interface {
	StepStarted(step, description string)
	StepFinished(result StepResult)
}

// Deps are the collaborators a Runner needs. Launcher, Probe and Shooter are
// required; the rest are optional.
type Deps struct {
	Launcher launch.Launcher
	Probe    window.Probe
	Shooter  window.Shooter
	Metrics  *observability.Metrics
	Notifier *notify.Notifier
	Progress Progress
	Environ  func() []string // Parent environment (default: os.Environ)
}

// Runner executes capture runs.
type Runner struct {
	cfg      *config.Config
	launcher launch.Launcher
	probe    window.Probe
	shooter  window.Shooter
	metrics  *observability.Metrics
	notifier *notify.Notifier
	progress Progress
	environ  func() []string
	modes    []plan.Mode
	pollOpts []readiness.Option
}

// New creates a Runner.
func New(cfg *config.Config, deps Deps) (*Runner, error) {
	if cfg == nil {
		return nil, apperrors.Internal("runner.new", errors.New("config is required"))
	}
	if deps.Launcher == nil || deps.Probe == nil || deps.Shooter == nil {
		return nil, apperrors.Internal("runner.new", errors.New("launcher, probe and shooter are required"))
	}
	environ := deps.Environ
	if environ == nil {
		environ = os.Environ
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.New(notify.Config{}, nil)
	}

	return &Runner{
		cfg:      cfg,
		launcher: deps.Launcher,
		probe:    deps.Probe,
		shooter:  deps.Shooter,
		metrics:  deps.Metrics,
		notifier: notifier,
		progress: deps.Progress,
		environ:  environ,
		modes:    plan.Modes(cfg.PauseAfterLive),
		pollOpts: []readiness.Option{readiness.WithInterval(50*time.Millisecond, 500*time.Millisecond)},
	}, nil
}

// run carries per-run state.
type run struct {
	testName      string
	recordingPath string
	logger        *slog.Logger
	events        *notify.EventBuilder
	report        *Report
}

// Run performs one capture run for testName.
//
// The returned error is non-nil only when the run could not start at all
// (invalid name, output directory or lock unavailable). Step failures are
// reported in the Report; use Report.Succeeded to check the outcome.
func (r *Runner) Run(ctx context.Context, testName string) (*Report, error) {
	if err := plan.ValidateTestName(testName); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(r.cfg.OutputDir, 0o755); err != nil {
		return nil, apperrors.Internal("create output directory", err)
	}

	lock, err := acquireLock(plan.LockPath(r.cfg.OutputDir, testName))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := releaseLock(lock); err != nil {
			slog.Warn("Failed to release run lock", "error", err)
		}
	}()

	runID := uuid.NewString()
	st := &run{
		testName:      testName,
		recordingPath: recording.Path(r.cfg.RecordingRoot, testName),
		logger:        slog.With("runId", runID, "testName", testName),
		events:        notify.NewEventBuilder(runID, testName),
		report: &Report{
			RunID:     runID,
			TestName:  testName,
			StartedAt: time.Now().UTC(),
		},
	}
	st.logger.Info("Run starting", "outputDir", r.cfg.OutputDir, "recording", st.recordingPath, "backend", r.cfg.Backend)

	recResult, summary := r.record(ctx, st)
	st.report.Recording = summary
	r.finishStep(ctx, st, recResult)

	for _, mode := range r.modes {
		var result StepResult
		switch {
		case ctx.Err() != nil:
			result = skipped(mode, fmt.Errorf("run cancelled: %w", ctx.Err()))
		case mode.Replay && recResult.Status != StatusSucceeded:
			result = skipped(mode, fmt.Errorf("recording %s is not usable", st.recordingPath))
		default:
			result = r.capture(ctx, st, mode)
		}
		r.finishStep(ctx, st, result)

		if result.Status != StatusSkipped && mode.PauseAfter > 0 {
			st.logger.Debug("Pausing for device release", "step", mode.Name, "pause", mode.PauseAfter)
			_ = readiness.Sleep(ctx, mode.PauseAfter)
		}
	}

	r.writeOutputs(st)

	st.report.Duration = time.Since(st.report.StartedAt)
	status := st.report.Status()
	if r.metrics != nil {
		r.metrics.RecordRun(ctx, r.cfg.Backend, status == StatusSucceeded, st.report.Duration.Seconds())
	}
	_ = r.notifier.Notify(st.events.BuildRunEvent(string(status), st.report.Duration, st.report.Counts(), st.report.Manifest, st.report.Err()))

	logger := st.logger.With("status", status, "duration", st.report.Duration.Round(time.Millisecond))
	if err := st.report.Err(); err != nil {
		logger.Warn("Run finished with errors", "error", err)
	} else {
		logger.Info("Run finished")
	}
	return st.report, nil
}

// record captures a short live session and validates it.
func (r *Runner) record(ctx context.Context, st *run) (result StepResult, summary *recording.Summary) {
	const step = plan.RecordStep
	result = StepResult{Step: step}
	logger := st.logger.With("step", step)
	r.stepStarted(step, plan.RecordDescription(st.recordingPath))

	start := time.Now()
	defer func() { result.Duration = time.Since(start) }()

	moved, err := recording.SetAside(st.recordingPath, start)
	if err != nil {
		return failed(result, apperrors.Process(step, "prepare recording directory", err)), nil
	}
	if moved != "" {
		logger.Info("Moved previous recording aside", "from", st.recordingPath, "to", moved)
	}

	spec := launch.Spec{
		Name: step,
		Path: r.cfg.RecordBin,
		Args: []string{st.recordingPath},
		Env:  r.childEnv(false, ""),
		TTY:  r.cfg.RecordTTY,
	}
	h, err := r.launcher.Start(ctx, spec)
	if err != nil {
		return failed(result, apperrors.Process(step, "start recorder", err)), nil
	}
	logger.Debug("Recorder started", "id", h.ID())
	defer r.stop(ctx, logger, h)

	started := recording.Started(st.recordingPath, start)
	err = readiness.Poll(ctx, untilExited(h, "recorder", started), r.pollOptions(r.cfg.RecordStartTimeout)...)
	if err != nil {
		return failed(result, r.readinessError(step, "recording", h, err)), nil
	}

	if err := readiness.Sleep(ctx, r.cfg.RecordDuration); err != nil {
		return failed(result, apperrors.Process(step, "record", err)), nil
	}

	exit, err := launch.Finish(context.WithoutCancel(ctx), h, r.cfg.FinalizeTimeout)
	if err != nil {
		return failed(result, apperrors.Process(step, "stop recorder", err)), nil
	}
	result.Exit = exit.String()
	if exit.Signal == "SIGKILL" {
		logger.Warn("Recorder did not finish after SIGINT and was killed", "exit", exit.String())
	} else {
		logger.Debug("Recorder finished", "exit", exit.String())
	}

	s, err := recording.Validate(st.recordingPath)
	if err != nil {
		return failed(result, apperrors.Process(step, "validate recording", err)), &s
	}
	logger.Info("Recording ready", "frames", s.Frames, "depth", s.Depth, "rgb", s.RGB, "accel", s.Accel)

	result.Status = StatusSucceeded
	result.Artifact = st.recordingPath
	return result, &s
}

// capture runs the viewer in one mode and screenshots its window.
func (r *Runner) capture(ctx context.Context, st *run, mode plan.Mode) (result StepResult) {
	result = StepResult{Step: mode.Name, Replay: mode.Replay}
	logger := st.logger.With("step", mode.Name, "mode", mode.ViewerMode, "replay", mode.Replay)
	r.stepStarted(mode.Name, mode.Description)

	start := time.Now()
	defer func() { result.Duration = time.Since(start) }()

	spec := launch.Spec{
		Name: mode.Name,
		Path: r.cfg.ViewerBin,
		Args: mode.Args(),
		Env:  r.childEnv(mode.Replay, st.recordingPath),
	}
	h, err := r.launcher.Start(ctx, spec)
	if err != nil {
		return failed(result, apperrors.Process(mode.Name, "start viewer", err))
	}
	logger.Debug("Viewer started", "id", h.ID())
	defer func() {
		if exit := r.stop(ctx, logger, h); exit != "" {
			result.Exit = exit
		}
	}()

	visible := window.Visible(r.probe, r.cfg.WindowTitle)
	err = readiness.Poll(ctx, untilExited(h, "viewer", visible), r.pollOptions(r.cfg.WindowTimeout)...)
	if err != nil {
		return failed(result, r.readinessError(mode.Name, "viewer window", h, err))
	}

	if err := readiness.Sleep(ctx, r.cfg.RenderDelay); err != nil {
		return failed(result, apperrors.Process(mode.Name, "render", err))
	}

	dest := plan.ScreenshotPath(r.cfg.OutputDir, st.testName, mode.Label)
	if err := r.shooter.Capture(ctx, r.cfg.WindowTitle, dest); err != nil {
		return failed(result, apperrors.Process(mode.Name, "screenshot", err))
	}
	if r.metrics != nil {
		r.metrics.RecordScreenshot(ctx, mode.Name)
	}
	logger.Info("Screenshot saved", "path", dest)

	result.Status = StatusSucceeded
	result.Artifact = dest
	return result
}

// stop ends h and returns how it exited. It runs on every exit path, including
// cancellation, so it must not inherit ctx's cancellation.
func (r *Runner) stop(ctx context.Context, logger *slog.Logger, h launch.Handle) string {
	exit, err := launch.Stop(context.WithoutCancel(ctx), h, r.cfg.StopGrace)
	if err != nil {
		logger.Error("Failed to stop process", "id", h.ID(), "error", err)
		return ""
	}
	logger.Debug("Process stopped", "id", h.ID(), "exit", exit.String())
	return exit.String()
}

// childEnv builds a child environment from the parent's with redirection
// variables cleared, and set again for replay.
func (r *Runner) childEnv(replay bool, recordingPath string) []string {
	var set map[string]string
	if replay {
		set = map[string]string{
			EnvPreload:      r.cfg.ShimPath,
			EnvFakenectPath: recordingPath,
		}
	}
	return launch.ScopedEnv(r.environ(), redirectVars, set)
}

func (r *Runner) pollOptions(timeout time.Duration) []readiness.Option {
	return append([]readiness.Option{readiness.WithTimeout(timeout)}, r.pollOpts...)
}

func (r *Runner) readinessError(step, what string, h launch.Handle, err error) error {
	var exited *exitedError
	switch {
	case errors.As(err, &exited):
		return apperrors.Process(step, "wait for "+what, err)
	case errors.Is(err, readiness.ErrTimeout):
		if out := h.Output(); out != "" {
			err = fmt.Errorf("%w (output: %s)", err, out)
		}
		return apperrors.NotReady(step, what, err)
	default:
		return apperrors.Process(step, "wait for "+what, err)
	}
}

func (r *Runner) writeOutputs(st *run) {
	manifest := &artifact.Manifest{
		RunID:     st.report.RunID,
		TestName:  st.testName,
		CreatedAt: time.Now().UTC(),
		Recording: st.report.Recording,
	}
	for _, s := range st.report.Steps {
		if s.Status != StatusSucceeded || s.Step == plan.RecordStep {
			continue
		}
		entry, err := artifact.Describe(s.Artifact)
		if err != nil {
			st.report.Problems = append(st.report.Problems, err)
			continue
		}
		entry.Step = s.Step
		manifest.Screenshots = append(manifest.Screenshots, entry)
	}

	manifestPath := plan.ManifestPath(r.cfg.OutputDir, st.testName)
	if prev, err := artifact.ReadManifest(manifestPath); err == nil {
		manifest.PreviousRun = prev.RunID
		st.logger.Debug("Replacing manifest of earlier run", "previousRun", prev.RunID)
	} else if !errors.Is(err, os.ErrNotExist) {
		st.logger.Warn("Ignoring unreadable manifest", "path", manifestPath, "error", err)
	}
	if err := artifact.WriteManifest(manifestPath, manifest); err != nil {
		st.logger.Error("Failed to write manifest", "error", err)
		st.report.Problems = append(st.report.Problems, err)
	} else {
		st.report.Manifest = manifestPath
	}

	if !r.cfg.Archive {
		return
	}
	archivePath := plan.ArchivePath(r.cfg.OutputDir, st.testName)
	n, err := artifact.Archive(r.cfg.OutputDir, archivePath, archiveExcludes)
	if err != nil {
		st.logger.Error("Failed to archive output", "error", err)
		st.report.Problems = append(st.report.Problems, fmt.Errorf("archive: %w", err))
		return
	}
	st.report.Archive = archivePath
	st.logger.Info("Output archived", "path", archivePath, "files", n)
}

func (r *Runner) stepStarted(step, description string) {
	if r.progress != nil {
		r.progress.StepStarted(step, description)
	}
}

func (r *Runner) finishStep(ctx context.Context, st *run, result StepResult) {
	st.report.Steps = append(st.report.Steps, result)

	logger := st.logger.With("step", result.Step, "status", result.Status, "duration", result.Duration.Round(time.Millisecond))
	switch result.Status {
	case StatusFailed:
		logger.Error("Step failed", "error", result.Err)
	case StatusSkipped:
		logger.Warn("Step skipped", "reason", result.Err)
	default:
		logger.Info("Step finished")
	}

	if r.metrics != nil {
		r.metrics.RecordStep(ctx, result.Step, result.Replay, string(result.Status), result.Duration.Seconds())
	}
	_ = r.notifier.Notify(st.events.BuildStepEvent(result.Step, string(result.Status), result.Duration, result.Artifact, result.Err))
	if r.progress != nil {
		r.progress.StepFinished(result)
	}
}

func failed(result StepResult, err error) StepResult {
	result.Status = StatusFailed
	result.Err = err
	return result
}

func skipped(mode plan.Mode, reason error) StepResult {
	return StepResult{Step: mode.Name, Replay: mode.Replay, Status: StatusSkipped, Err: reason}
}

// exitedError reports that the awaited process ended before becoming ready.
type exitedError struct {
	what string
	exit launch.Exit
	out  string
}

func (e *exitedError) Error() string {
	if e.out == "" {
		return fmt.Sprintf("%s exited before it was ready (%s)", e.what, e.exit)
	}
	return fmt.Sprintf("%s exited before it was ready (%s): %s", e.what, e.exit, e.out)
}

// untilExited wraps cond so polling stops as soon as h exits.
func untilExited(h launch.Handle, what string, cond readiness.Condition) readiness.Condition {
	return func(ctx context.Context) (bool, error) {
		ok, err := cond(ctx)
		if err != nil || ok {
			return ok, err
		}
		if h.Exited() {
			exit, _ := h.Wait(ctx)
			return false, &exitedError{what: what, exit: exit, out: h.Output()}
		}
		return false, nil
	}
}
