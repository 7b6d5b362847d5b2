// Package observability provides the metric and tracing instruments used
// by the routing and delivery paths.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus instruments for Pulse. Register against the
// default registry with NewMetrics(prometheus.DefaultRegisterer), or
// against a private one in tests.
type Metrics struct {
	EventsProcessed   prometheus.Counter
	EventsTriggered   prometheus.Counter
	ActionsDispatched *prometheus.CounterVec
	DeliveriesTotal   *prometheus.CounterVec
	DeliveryLatency   prometheus.Histogram
	PendingDeliveries prometheus.Gauge
}

// NewMetrics creates and registers Pulse metric instruments.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "pulse_events_processed_total",
			Help: "Events run through subscription matching.",
		}),
		EventsTriggered: factory.NewCounter(prometheus.CounterOpts{
			Name: "pulse_webhook_events_triggered_total",
			Help: "Webhook delivery records created.",
		}),
		ActionsDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_actions_dispatched_total",
			Help: "Rule actions handed to workers, by action type.",
		}, []string{"action"}),
		DeliveriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_deliveries_total",
			Help: "Delivery attempts by outcome.",
		}, []string{"status"}),
		DeliveryLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pulse_delivery_latency_seconds",
			Help:    "Webhook delivery attempt latency.",
			Buckets: prometheus.DefBuckets,
		}),
		PendingDeliveries: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pulse_pending_deliveries",
			Help: "Webhook events not yet in a terminal state.",
		}),
	}
}

// RecordDelivery records a delivery attempt with the given outcome and latency.
func (m *Metrics) RecordDelivery(status string, latencySeconds float64) {
	m.DeliveriesTotal.WithLabelValues(status).Inc()
	m.DeliveryLatency.Observe(latencySeconds)
}
