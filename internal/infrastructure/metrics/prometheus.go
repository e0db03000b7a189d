// Package metrics exposes engine and gateway counters on a private
// Prometheus registry.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/garyjia/expense-approval/internal/domain/event"
)

const namespace = "expense_approval"

// Collector implements workflow.Metrics and gateway.Metrics
type Collector struct {
	registry         *prometheus.Registry
	claimsSubmitted  *prometheus.CounterVec
	decisions        *prometheus.CounterVec
	decisionDuration *prometheus.HistogramVec
	inflight         prometheus.Gauge
	locksHeld        prometheus.Gauge
	events           *prometheus.CounterVec
}

// NewCollector registers every metric on a fresh registry, together with
// the Go runtime and process collectors
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		claimsSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claims_submitted_total",
			Help:      "Claim submissions by resulting status or error kind",
		}, []string{"outcome"}),
		decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Approver decisions by verdict and outcome",
		}, []string{"decision", "outcome"}),
		decisionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "decision_duration_seconds",
			Help:      "Time from gateway submission to result, lock wait included",
			Buckets:   prometheus.DefBuckets,
		}, []string{"decision"}),
		inflight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gateway_inflight",
			Help:      "Decisions currently inside the gateway",
		}),
		locksHeld: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "claim_locks_held",
			Help:      "Claims with a decision running or waiting",
		}),
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Lifecycle events dispatched by type",
		}, []string{"type"}),
	}
}

// ClaimSubmitted counts one submission
func (c *Collector) ClaimSubmitted(outcome string) {
	c.claimsSubmitted.WithLabelValues(outcome).Inc()
}

// DecisionObserved counts one decision and its latency
func (c *Collector) DecisionObserved(decision, outcome string, elapsed time.Duration) {
	c.decisions.WithLabelValues(decision, outcome).Inc()
	c.decisionDuration.WithLabelValues(decision).Observe(elapsed.Seconds())
}

// InflightAdd moves the in-flight gauge
func (c *Collector) InflightAdd(delta float64) {
	c.inflight.Add(delta)
}

// LocksHeld sets the held-locks gauge
func (c *Collector) LocksHeld(n int) {
	c.locksHeld.Set(float64(n))
}

// HandleEvent counts a dispatched event; it is subscribed to every type
func (c *Collector) HandleEvent(_ context.Context, evt *event.Event) error {
	c.events.WithLabelValues(string(evt.Type)).Inc()
	return nil
}

// Registry returns the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
