package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"charm.land/lipgloss/v2"

	"regshots/internal/health"
	"regshots/internal/recording"
	"regshots/internal/runner"
)

var (
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	stepStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	faintStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// printer writes human-readable progress lines. Colour is dropped when w is
// not a terminal.
type printer struct {
	mu sync.Mutex
	w  io.Writer
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: w}
}

func (p *printer) println(v ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = lipgloss.Fprintln(p.w, v...)
}

func (p *printer) StepStarted(step, description string) {
	p.println(stepStyle.Render("["+step+"]"), description)
}

func (p *printer) StepFinished(result runner.StepResult) {
	took := faintStyle.Render("(" + result.Duration.Round(time.Millisecond).String() + ")")
	switch result.Status {
	case runner.StatusSucceeded:
		p.println(stepStyle.Render("["+result.Step+"]"), okStyle.Render("done."), took)
	case runner.StatusSkipped:
		p.println(stepStyle.Render("["+result.Step+"]"), warnStyle.Render("skipped:"), errText(result.Err))
	default:
		p.println(stepStyle.Render("["+result.Step+"]"), failStyle.Render("failed:"), errText(result.Err), took)
	}
}

// summary prints one line per step followed by the overall outcome.
func (p *printer) summary(report *runner.Report) {
	p.println()
	for _, s := range report.Steps {
		status := string(s.Status)
		switch s.Status {
		case runner.StatusSucceeded:
			status = okStyle.Render(status)
		case runner.StatusSkipped:
			status = warnStyle.Render(status)
		default:
			status = failStyle.Render(status)
		}
		line := fmt.Sprintf("  %-16s %s", s.Step, status)
		if s.Artifact != "" {
			line += "  " + s.Artifact
		}
		p.println(line)
	}
	for _, err := range report.Problems {
		p.println(" ", failStyle.Render("error:"), err.Error())
	}
	if report.Manifest != "" {
		p.println("  manifest", faintStyle.Render(report.Manifest))
	}
	if report.Archive != "" {
		p.println("  archive ", faintStyle.Render(report.Archive))
	}

	counts := report.Counts()
	outcome := okStyle.Render("all steps succeeded")
	if !report.Succeeded() {
		outcome = failStyle.Render("run failed")
	}
	p.println(fmt.Sprintf("%s (%d succeeded, %d failed, %d skipped in %s)",
		outcome,
		counts[string(runner.StatusSucceeded)],
		counts[string(runner.StatusFailed)],
		counts[string(runner.StatusSkipped)],
		report.Duration.Round(time.Millisecond),
	))
}

func (p *printer) preflight(resp *health.Response) {
	for _, name := range resp.Names() {
		res := resp.Checks[name]
		var status string
		switch res.Status {
		case health.StatusHealthy:
			status = okStyle.Render("ok")
		case health.StatusDegraded:
			status = warnStyle.Render("degraded")
		default:
			status = failStyle.Render("FAIL")
		}
		line := fmt.Sprintf("  %-12s %s", name, status)
		if res.Message != "" {
			line += "  " + res.Message
		}
		p.println(line)
	}
	p.println("preflight:", string(resp.Status))
}

func (p *printer) recording(s recording.Summary, err error) {
	p.println(fmt.Sprintf("%s: %d frames (%d depth, %d rgb, %d accel) over %.2fs",
		s.Path, s.Frames, s.Depth, s.RGB, s.Accel, s.Duration.Seconds()))
	if err != nil {
		p.println(failStyle.Render("invalid:"), err.Error())
		return
	}
	p.println(okStyle.Render("valid."))
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return strings.TrimSpace(err.Error())
}
