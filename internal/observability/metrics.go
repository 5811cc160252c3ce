package observability

import (
	"context"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds the instruments for a capture run:
// - Latency: how long each step and the whole run take
// - Traffic: steps executed and screenshots written
// - Errors: failed steps
type Metrics struct {
	meter    metric.Meter
	provider *sdkmetric.MeterProvider
	registry *promclient.Registry

	StepDuration     metric.Float64Histogram
	StepsTotal       metric.Int64Counter
	StepErrorsTotal  metric.Int64Counter
	ScreenshotsTotal metric.Int64Counter
	RunDuration      metric.Float64Histogram
	EventsFailed     metric.Int64Counter
}

// NewMetrics creates the instruments on a private Prometheus registry, so
// several runs in one process never collide on registration.
func NewMetrics(ctx context.Context) (*Metrics, error) {
	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("regshots")
	m := &Metrics{meter: meter, provider: provider, registry: registry}

	m.StepDuration, err = meter.Float64Histogram(
		"step_duration_seconds",
		metric.WithDescription("Capture step duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.5, 1, 2, 3, 5, 8, 13, 20, 30, 60),
	)
	if err != nil {
		return nil, err
	}

	m.StepsTotal, err = meter.Int64Counter(
		"steps_total",
		metric.WithDescription("Total number of capture steps by outcome"),
	)
	if err != nil {
		return nil, err
	}

	m.StepErrorsTotal, err = meter.Int64Counter(
		"step_errors_total",
		metric.WithDescription("Total number of failed capture steps"),
	)
	if err != nil {
		return nil, err
	}

	m.ScreenshotsTotal, err = meter.Int64Counter(
		"screenshots_total",
		metric.WithDescription("Total number of screenshots written"),
	)
	if err != nil {
		return nil, err
	}

	m.RunDuration, err = meter.Float64Histogram(
		"run_duration_seconds",
		metric.WithDescription("Whole run duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(5, 10, 15, 20, 30, 45, 60, 120),
	)
	if err != nil {
		return nil, err
	}

	m.EventsFailed, err = meter.Int64Counter(
		"callback_failed_total",
		metric.WithDescription("Total callback events that could not be delivered"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordStep records a finished step. status is succeeded, failed or skipped.
func (m *Metrics) RecordStep(ctx context.Context, step string, replay bool, status string, durationSeconds float64) {
	attrs := metric.WithAttributes(stepAttr(step), replayAttr(replay), statusAttr(status))
	m.StepsTotal.Add(ctx, 1, attrs)
	if status == "skipped" {
		return
	}
	m.StepDuration.Record(ctx, durationSeconds, attrs)
	if status == "failed" {
		m.StepErrorsTotal.Add(ctx, 1, metric.WithAttributes(stepAttr(step)))
	}
}

// RecordScreenshot records a verified screenshot.
func (m *Metrics) RecordScreenshot(ctx context.Context, step string) {
	m.ScreenshotsTotal.Add(ctx, 1, WithStep(step))
}

// RecordRun records the whole run.
func (m *Metrics) RecordRun(ctx context.Context, backend string, success bool, durationSeconds float64) {
	m.RunDuration.Record(ctx, durationSeconds, metric.WithAttributes(backendAttr(backend), successAttr(success)))
}

// RecordEventFailed records a callback that was given up on.
func (m *Metrics) RecordEventFailed(ctx context.Context, eventType string) {
	m.EventsFailed.Add(ctx, 1, metric.WithAttributes(eventAttr(eventType)))
}

// WriteTextfile writes the current metrics to path in the text format read by
// the node_exporter textfile collector. The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	return promclient.WriteToTextfile(path, m.registry)
}

// Shutdown flushes and stops the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}
