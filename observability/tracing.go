package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/pulsekit/pulse"

// Tracer provides OpenTelemetry tracing for Pulse.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a new Pulse tracer.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(tracerName),
	}
}

// StartDeliverySpan starts a new span for a webhook delivery attempt.
func (t *Tracer) StartDeliverySpan(ctx context.Context, webhookEventID, webhookID, eventType string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "pulse.delivery",
		trace.WithAttributes(
			attribute.String("pulse.webhook_event_id", webhookEventID),
			attribute.String("pulse.webhook_id", webhookID),
			attribute.String("pulse.event_type", eventType),
		),
	)
}

// EndDeliverySpan ends a delivery span with result attributes.
func (t *Tracer) EndDeliverySpan(span trace.Span, statusCode, latencyMs int, err string) {
	span.SetAttributes(
		attribute.Int("http.status_code", statusCode),
		attribute.Int("pulse.latency_ms", latencyMs),
	)
	if err != "" {
		span.SetAttributes(attribute.String("pulse.error", err))
	}
	span.End()
}
