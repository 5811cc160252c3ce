package runner

import (
	"encoding/json"
	"errors"
	"time"

	"regshots/internal/recording"
)

// Status is the outcome of a step or a run.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// StepResult is the outcome of one step.
type StepResult struct {
	Step     string        `json:"step"`
	Replay   bool          `json:"replay"`
	Status   Status        `json:"status"`
	Duration time.Duration `json:"duration"`
	Artifact string        `json:"artifact,omitempty"`
	Exit     string        `json:"exit,omitempty"` // How the step's process ended
	Err      error         `json:"-"`
}

// MarshalJSON renders Err as a string.
func (s StepResult) MarshalJSON() ([]byte, error) {
	type alias StepResult
	out := struct {
		alias
		Error string `json:"error,omitempty"`
	}{alias: alias(s)}
	if s.Err != nil {
		out.Error = s.Err.Error()
	}
	return json.Marshal(out)
}

// Report is the outcome of a run.
type Report struct {
	RunID     string             `json:"runId"`
	TestName  string             `json:"testName"`
	StartedAt time.Time          `json:"startedAt"`
	Duration  time.Duration      `json:"duration"`
	Recording *recording.Summary `json:"recording,omitempty"`
	Steps     []StepResult       `json:"steps"`
	Manifest  string             `json:"manifest,omitempty"`
	Archive   string             `json:"archive,omitempty"`

	// Errors that are not tied to a step (manifest, archive).
	Problems []error `json:"-"`
}

// Status is succeeded only when every step succeeded and nothing else went wrong.
func (r *Report) Status() Status {
	if len(r.Problems) > 0 {
		return StatusFailed
	}
	for _, s := range r.Steps {
		if s.Status != StatusSucceeded {
			return StatusFailed
		}
	}
	return StatusSucceeded
}

// Succeeded reports whether the run produced everything it should have.
func (r *Report) Succeeded() bool {
	return r.Status() == StatusSucceeded
}

// Counts returns the number of steps per status.
func (r *Report) Counts() map[string]int {
	counts := make(map[string]int, 3)
	for _, s := range r.Steps {
		counts[string(s.Status)]++
	}
	return counts
}

// Step returns the result for a step name.
func (r *Report) Step(name string) (StepResult, bool) {
	for _, s := range r.Steps {
		if s.Step == name {
			return s, true
		}
	}
	return StepResult{}, false
}

// Err joins every step error and run problem, or returns nil.
func (r *Report) Err() error {
	var errs []error
	for _, s := range r.Steps {
		if s.Err != nil {
			errs = append(errs, s.Err)
		}
	}
	errs = append(errs, r.Problems...)
	return errors.Join(errs...)
}
