// Package metrics exposes Prometheus collectors for task intake, strategy
// outcomes and result delivery.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xkilldash9x/quill/internal/ladder"
)

const namespace = "quill"

// Delivery kinds.
const (
	DeliveryResult = "result"
	DeliveryResume = "resume"
	DeliveryReady  = "ready"
)

// Metrics is safe to use through a nil pointer; every method is then a no-op.
type Metrics struct {
	tasks            *prometheus.CounterVec
	dropped          *prometheus.CounterVec
	handshakes       *prometheus.CounterVec
	deliveries       *prometheus.CounterVec
	strategyAttempts *prometheus.CounterVec
	strategyDuration *prometheus.HistogramVec
	tasksActive      prometheus.Gauge
}

var _ ladder.Observer = (*Metrics)(nil)

// MustNewMetrics registers the collectors with reg and panics on a
// registration conflict.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "settled_total",
			Help:      "Tasks that left the pipeline, by outcome.",
		}, []string{"outcome"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "dropped_total",
			Help:      "Inbound task envelopes that were not admitted, by reason.",
		}, []string{"reason"}),
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "handshakes_total",
			Help:      "Handshake requests, by whether the origin was accepted.",
		}, []string{"accepted"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "deliveries_total",
			Help:      "Outbound messages by kind and whether any post succeeded.",
		}, []string{"kind", "delivered"}),
		strategyAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fill",
			Name:      "strategy_attempts_total",
			Help:      "Fill strategy attempts by goal, strategy and outcome.",
		}, []string{"goal", "strategy", "outcome"}),
		strategyDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fill",
			Name:      "strategy_duration_seconds",
			Help:      "Time spent in a single fill strategy attempt.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"goal", "strategy"}),
		tasksActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "active",
			Help:      "Tasks currently in the pipeline across all tabs.",
		}),
	}
	reg.MustRegister(m.tasks, m.dropped, m.handshakes, m.deliveries, m.strategyAttempts, m.strategyDuration, m.tasksActive)
	return m
}

// Handler serves the collectors gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// StrategyAttempt implements ladder.Observer.
func (m *Metrics) StrategyAttempt(goal, strategy string, outcome ladder.Outcome, took time.Duration) {
	if m == nil {
		return
	}
	m.strategyAttempts.WithLabelValues(goal, strategy, string(outcome)).Inc()
	m.strategyDuration.WithLabelValues(goal, strategy).Observe(took.Seconds())
}

// TaskAdmitted marks a task as entering the pipeline.
func (m *Metrics) TaskAdmitted() {
	if m == nil {
		return
	}
	m.tasksActive.Inc()
}

// TaskSettled marks a task as leaving the pipeline with outcome.
func (m *Metrics) TaskSettled(outcome string) {
	if m == nil {
		return
	}
	m.tasksActive.Dec()
	m.tasks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) TaskDropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) Handshake(accepted bool) {
	if m == nil {
		return
	}
	m.handshakes.WithLabelValues(boolLabel(accepted)).Inc()
}

func (m *Metrics) Delivery(kind string, delivered bool) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(kind, boolLabel(delivered)).Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
