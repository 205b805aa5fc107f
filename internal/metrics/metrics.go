// Package metrics exposes Prometheus instruments for the sync engine.
//
// All methods are safe on a nil *Metrics so components can be built without
// instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "adminsync"

// Metrics groups the engine's instruments.
type Metrics struct {
	attempts       *prometheus.CounterVec
	decisions      *prometheus.CounterVec
	fetchDuration  *prometheus.HistogramVec
	pushState      prometheus.Gauge
	pushReconnects prometheus.Counter
	pushEvents     *prometheus.CounterVec
	healthState    prometheus.Gauge
	bulkItems      *prometheus.CounterVec
}

// New registers the instruments with reg. A nil reg creates unregistered
// instruments.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		attempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rest_attempts_total",
			Help:      "REST attempts by operation and outcome kind.",
		}, []string{"operation", "outcome"}),
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_decisions_total",
			Help:      "Reconciliation decisions by target and decision.",
		}, []string{"target", "decision"}),
		fetchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rest_request_duration_seconds",
			Help:      "Wall time of REST calls including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		pushState: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "push_connection_state",
			Help:      "Push channel state: 0 disconnected, 1 connecting, 2 connected.",
		}),
		pushReconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_reconnects_total",
			Help:      "Push channel reconnect attempts after a disconnect.",
		}),
		pushEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_events_total",
			Help:      "Inbound push frames by type (ignored and invalid included).",
		}, []string{"type"}),
		healthState: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "health_state",
			Help:      "Health gate state: 0 unknown, 1 healthy, 2 unhealthy.",
		}),
		bulkItems: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bulk_items_total",
			Help:      "Bulk operation item outcomes by action.",
		}, []string{"action", "outcome"}),
	}
}

// Attempt counts one REST attempt.
func (m *Metrics) Attempt(operation, outcome string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(operation, outcome).Inc()
}

// RequestDuration records the wall time of one REST call, retries included.
func (m *Metrics) RequestDuration(operation string, seconds float64) {
	if m == nil {
		return
	}
	m.fetchDuration.WithLabelValues(operation).Observe(seconds)
}

// Decision counts one reconciliation decision.
func (m *Metrics) Decision(target, decision string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(target, decision).Inc()
}

// PushState records the push channel state code.
func (m *Metrics) PushState(code int) {
	if m == nil {
		return
	}
	m.pushState.Set(float64(code))
}

// PushReconnect counts a reconnect attempt.
func (m *Metrics) PushReconnect() {
	if m == nil {
		return
	}
	m.pushReconnects.Inc()
}

// PushEvent counts an inbound frame.
func (m *Metrics) PushEvent(eventType string) {
	if m == nil {
		return
	}
	m.pushEvents.WithLabelValues(eventType).Inc()
}

// HealthState records the health gate state code.
func (m *Metrics) HealthState(code int) {
	if m == nil {
		return
	}
	m.healthState.Set(float64(code))
}

// BulkItems adds n item outcomes for action.
func (m *Metrics) BulkItems(action, outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.bulkItems.WithLabelValues(action, outcome).Add(float64(n))
}
