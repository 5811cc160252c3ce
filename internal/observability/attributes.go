// Package observability provides run metrics.
package observability

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Attribute keys
const (
	attrStep    = "step"
	attrStatus  = "status"
	attrReplay  = "replay"
	attrBackend = "backend"
	attrSuccess = "success"
	attrEvent   = "event"
)

func stepAttr(step string) attribute.KeyValue {
	return attribute.String(attrStep, step)
}

func statusAttr(status string) attribute.KeyValue {
	return attribute.String(attrStatus, status)
}

func replayAttr(replay bool) attribute.KeyValue {
	return attribute.Bool(attrReplay, replay)
}

func backendAttr(backend string) attribute.KeyValue {
	return attribute.String(attrBackend, backend)
}

func eventAttr(eventType string) attribute.KeyValue {
	return attribute.String(attrEvent, eventType)
}

func successAttr(success bool) attribute.KeyValue {
	return attribute.Bool(attrSuccess, success)
}

// WithStep returns a metric option with the step attribute.
func WithStep(step string) metric.MeasurementOption {
	return metric.WithAttributes(stepAttr(step))
}
