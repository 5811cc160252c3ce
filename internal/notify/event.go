package notify

import (
	"time"

	"regshots/pkg/cloudevent"
)

// Event types for run lifecycle callbacks
const (
	EventTypeStep = "regshots.step"
	EventTypeRun  = "regshots.run"
)

const eventSource = "regshots/make-tests"

// EventBuilder builds CloudEvents for one run.
type EventBuilder struct {
	runID    string
	testName string
}

// NewEventBuilder creates a new EventBuilder. The run ID becomes the subject.
func NewEventBuilder(runID, testName string) *EventBuilder {
	return &EventBuilder{runID: runID, testName: testName}
}

// Build creates a new CloudEvent with the given type and data.
func (b *EventBuilder) Build(eventType string, data map[string]any) *cloudevent.CloudEvent {
	data["runId"] = b.runID
	data["testName"] = b.testName
	return cloudevent.New(eventType, eventSource, b.runID, data)
}

// BuildStepEvent creates a step event.
func (b *EventBuilder) BuildStepEvent(step, status string, duration time.Duration, artifact string, err error) *cloudevent.CloudEvent {
	data := map[string]any{
		"step":       step,
		"status":     status,
		"durationMs": duration.Milliseconds(),
	}
	if artifact != "" {
		data["artifact"] = artifact
	}
	if err != nil {
		data["error"] = err.Error()
	}
	return b.Build(EventTypeStep, data)
}

// BuildRunEvent creates the final run event. counts maps step status to the
// number of steps that ended in it.
func (b *EventBuilder) BuildRunEvent(status string, duration time.Duration, counts map[string]int, manifest string, err error) *cloudevent.CloudEvent {
	data := map[string]any{
		"status":     status,
		"durationMs": duration.Milliseconds(),
		"steps":      counts,
	}
	if manifest != "" {
		data["manifest"] = manifest
	}
	if err != nil {
		data["error"] = err.Error()
	}
	return b.Build(EventTypeRun, data)
}
