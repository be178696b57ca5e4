// Package metrics exposes Prometheus counters for the session lifecycle and the HTTP endpoints that serve them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Recorder is the subset of Collector used by services. A nil *Collector is a valid no-op Recorder.
type Recorder interface {
	SessionCreated()
	RefreshOutcome(outcome string)
	SweepTransitions(kind string, n int)
	NotificationFailed(reason string)
}

// Collector holds the registered session metrics.
type Collector struct {
	sessionsCreated      prometheus.Counter
	refreshes            *prometheus.CounterVec
	sweepTransitions     *prometheus.CounterVec
	notificationFailures *prometheus.CounterVec
}

var _ Recorder = (*Collector)(nil)

// NewCollector creates the collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auth_sessions_created_total",
			Help: "Total number of sessions created",
		}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_session_refreshes_total",
			Help: "Total number of refresh attempts by outcome",
		}, []string{"outcome"}),
		sweepTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_sweep_transitions_total",
			Help: "Sessions changed by the scheduled sweeps by kind",
		}, []string{"kind"}),
		notificationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_notification_failures_total",
			Help: "Notifications that could not be delivered by triggering operation",
		}, []string{"reason"}),
	}
	reg.MustRegister(c.sessionsCreated, c.refreshes, c.sweepTransitions, c.notificationFailures)
	return c
}

func (c *Collector) SessionCreated() {
	if c == nil {
		return
	}
	c.sessionsCreated.Inc()
}

func (c *Collector) RefreshOutcome(outcome string) {
	if c == nil {
		return
	}
	c.refreshes.WithLabelValues(outcome).Inc()
}

func (c *Collector) SweepTransitions(kind string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.sweepTransitions.WithLabelValues(kind).Add(float64(n))
}

func (c *Collector) NotificationFailed(reason string) {
	if c == nil {
		return
	}
	c.notificationFailures.WithLabelValues(reason).Inc()
}
