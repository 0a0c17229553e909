// Package metrics exposes Prometheus instrumentation for sessions, live
// subscriptions, the event bus, and capability rendering.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics methods are safe on a nil receiver so callers can run without
// instrumentation.
type Metrics struct {
	batches            *prometheus.CounterVec
	subscriptionErrors *prometheus.CounterVec
	handlerFailures    *prometheus.CounterVec
	renders            *prometheus.CounterVec
	activeSessions     prometheus.Gauge
	writeDuration      *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		batches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "xuanwu_sync_batches_total",
			Help: "Live batches dispatched into session state",
		}, []string{"collection"}),
		subscriptionErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "xuanwu_sync_subscription_errors_total",
			Help: "Live subscription failures reported through the error side channel",
		}, []string{"collection"}),
		handlerFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "xuanwu_eventbus_handler_failures_total",
			Help: "Event bus handlers that returned an error or panicked",
		}, []string{"event"}),
		renders: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "xuanwu_capability_renders_total",
			Help: "Capability panels rendered, by outcome kind",
		}, []string{"capability", "mode", "kind"}),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "xuanwu_sessions_active",
			Help: "Sessions currently mounted",
		}),
		writeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "xuanwu_write_action_duration_seconds",
			Help:    "Latency of user-initiated write actions",
			Buckets: prometheus.DefBuckets,
		}, []string{"action", "outcome"}),
	}
}

func (m *Metrics) Batch(collection string) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(collection).Inc()
}

func (m *Metrics) SubscriptionError(collection string) {
	if m == nil {
		return
	}
	m.subscriptionErrors.WithLabelValues(collection).Inc()
}

func (m *Metrics) HandlerFailure(event string) {
	if m == nil {
		return
	}
	m.handlerFailures.WithLabelValues(event).Inc()
}

func (m *Metrics) Render(capability, mode, kind string) {
	if m == nil {
		return
	}
	m.renders.WithLabelValues(capability, mode, kind).Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

// WriteAction records how long action took since start.
func (m *Metrics) WriteAction(action string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.writeDuration.WithLabelValues(action, outcome).Observe(time.Since(start).Seconds())
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
