package api

import (
	"sync"
	"time"

	"regshots/internal/runner"
)

// RunStatus is a point-in-time view of a run.
type RunStatus struct {
	TestName    string              `json:"testName"`
	StartedAt   time.Time           `json:"startedAt"`
	Current     string              `json:"current,omitempty"` // Step in progress
	Description string              `json:"description,omitempty"`
	Steps       []runner.StepResult `json:"steps"`
	Done        bool                `json:"done"`
	Succeeded   bool                `json:"succeeded"`
}

// Tracker follows a run's progress so it can be served while the run is in
// flight. It implements runner.Progress.
type Tracker struct {
	mu     sync.RWMutex
	status RunStatus
}

// NewTracker creates a tracker for testName.
func NewTracker(testName string) *Tracker {
	return &Tracker{status: RunStatus{
		TestName:  testName,
		StartedAt: time.Now().UTC(),
		Steps:     []runner.StepResult{},
	}}
}

func (t *Tracker) StepStarted(step, description string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Current = step
	t.status.Description = description
}

func (t *Tracker) StepFinished(result runner.StepResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Steps = append(t.status.Steps, result)
	if t.status.Current == result.Step {
		t.status.Current = ""
		t.status.Description = ""
	}
}

// Finish marks the run as complete.
func (t *Tracker) Finish(report *runner.Report) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Done = true
	t.status.Current = ""
	t.status.Description = ""
	if report != nil {
		t.status.Succeeded = report.Succeeded()
	}
}

// Snapshot returns a copy of the current status.
func (t *Tracker) Snapshot() RunStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := t.status
	s.Steps = append([]runner.StepResult(nil), t.status.Steps...)
	return s
}
