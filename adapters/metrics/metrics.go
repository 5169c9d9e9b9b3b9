// Package metrics provides Prometheus collection for the action
// protocol. Collector implements ports.Instrumentation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/artfold/designbridge/ports"
)

// Collector holds all Prometheus metrics for designbridge.
type Collector struct {
	ActionsSubmitted *prometheus.CounterVec
	ActionsSettled   *prometheus.CounterVec
	ActionWait       *prometheus.HistogramVec
	ActionDuration   *prometheus.HistogramVec
	QueuePending     prometheus.Gauge
	QueueRunning     prometheus.Gauge

	EventsDispatched *prometheus.CounterVec

	Resyncs           *prometheus.CounterVec
	ConsistencyErrors *prometheus.CounterVec
}

// New creates a collector registered with the default registry.
func New() *Collector {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith creates a collector registered with reg. Tests pass a fresh
// registry to avoid duplicate-registration panics.
func NewWith(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		ActionsSubmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "designbridge",
				Name:      "actions_submitted_total",
				Help:      "Total number of action invocations submitted",
			},
			[]string{"action"},
		),
		ActionsSettled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "designbridge",
				Name:      "actions_settled_total",
				Help:      "Total number of action invocations settled",
			},
			[]string{"action", "outcome"},
		),
		ActionWait: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "designbridge",
				Name:      "action_wait_seconds",
				Help:      "Time invocations spent queued behind locks",
				Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"action"},
		),
		ActionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "designbridge",
				Name:      "action_duration_seconds",
				Help:      "Action body execution time",
				Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"action"},
		),
		QueuePending: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "designbridge",
				Name:      "queue_pending",
				Help:      "Invocations waiting on locks or the modal gate",
			},
		),
		QueueRunning: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "designbridge",
				Name:      "queue_running",
				Help:      "Invocations currently executing",
			},
		),
		EventsDispatched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "designbridge",
				Name:      "events_dispatched_total",
				Help:      "Events applied through the dispatcher",
			},
			[]string{"type"},
		),
		Resyncs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "designbridge",
				Name:      "resyncs_total",
				Help:      "Resynchronization attempts by outcome",
			},
			[]string{"outcome"},
		),
		ConsistencyErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "designbridge",
				Name:      "consistency_errors_total",
				Help:      "Post-settlement checks that found divergence",
			},
			[]string{"action"},
		),
	}
}

// ActionSubmitted implements ports.Instrumentation.
func (c *Collector) ActionSubmitted(action string) {
	c.ActionsSubmitted.WithLabelValues(action).Inc()
}

// ActionStarted implements ports.Instrumentation.
func (c *Collector) ActionStarted(action string, wait time.Duration) {
	c.ActionWait.WithLabelValues(action).Observe(wait.Seconds())
}

// ActionSettled implements ports.Instrumentation.
func (c *Collector) ActionSettled(action string, failed bool, duration time.Duration) {
	outcome := "ok"
	if failed {
		outcome = "error"
	}
	c.ActionsSettled.WithLabelValues(action, outcome).Inc()
	c.ActionDuration.WithLabelValues(action).Observe(duration.Seconds())
}

// QueueDepth implements ports.Instrumentation.
func (c *Collector) QueueDepth(pending, running int) {
	c.QueuePending.Set(float64(pending))
	c.QueueRunning.Set(float64(running))
}

// EventDispatched implements ports.Instrumentation.
func (c *Collector) EventDispatched(eventType string) {
	c.EventsDispatched.WithLabelValues(eventType).Inc()
}

// ResyncStarted implements ports.Instrumentation.
func (c *Collector) ResyncStarted() {
	c.Resyncs.WithLabelValues("started").Inc()
}

// ResyncApplied implements ports.Instrumentation.
func (c *Collector) ResyncApplied() {
	c.Resyncs.WithLabelValues("applied").Inc()
}

// ResyncSuperseded implements ports.Instrumentation.
func (c *Collector) ResyncSuperseded() {
	c.Resyncs.WithLabelValues("superseded").Inc()
}

// ResyncFailed implements ports.Instrumentation.
func (c *Collector) ResyncFailed() {
	c.Resyncs.WithLabelValues("failed").Inc()
}

// ConsistencyErrorDetected implements ports.Instrumentation.
func (c *Collector) ConsistencyErrorDetected(action string) {
	c.ConsistencyErrors.WithLabelValues(action).Inc()
}

// Ensure interface compliance.
var _ ports.Instrumentation = (*Collector)(nil)
