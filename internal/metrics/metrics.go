// Package metrics holds the Prometheus collectors for the notification core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Delivery results recorded by the hub
const (
	ResultQueued  = "queued"
	ResultDropped = "dropped"
	ResultFailed  = "failed"
)

// Metrics groups every collector the core updates.
//
// A nil *Metrics is valid and records nothing, so packages can be used
// without a registry in tests.
type Metrics struct {
	// Connections is the number of live channel connections on this instance.
	Connections prometheus.Gauge

	// Groups is the number of non-empty groups on this instance.
	Groups prometheus.Gauge

	// Broadcasts counts Broadcast calls that found at least one member.
	Broadcasts prometheus.Counter

	// Deliveries counts per-member outcomes.
	// Labels: result (queued|dropped|failed)
	Deliveries *prometheus.CounterVec

	// Dispatches counts dispatch decisions.
	// Labels: channel (live|email)
	Dispatches *prometheus.CounterVec

	// LiveFailures counts live deliveries that could not be published, so the
	// event fell back to email.
	LiveFailures prometheus.Counter

	// EmailFailures counts fallback emails that could not be sent after retries.
	EmailFailures prometheus.Counter

	// PresenceUpdates counts presence transitions.
	// Labels: state (online|offline|touch|forget)
	PresenceUpdates *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		Connections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "notify_channel_connections",
			Help: "Live channel connections on this instance",
		}),
		Groups: factory.NewGauge(prometheus.GaugeOpts{
			Name: "notify_channel_groups",
			Help: "Groups with at least one live connection",
		}),
		Broadcasts: factory.NewCounter(prometheus.CounterOpts{
			Name: "notify_broadcasts_total",
			Help: "Broadcasts that reached a non-empty group",
		}),
		Deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "notify_deliveries_total",
			Help: "Per-connection delivery outcomes",
		}, []string{"result"}),
		Dispatches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "notify_dispatch_total",
			Help: "Dispatch decisions by delivery channel",
		}, []string{"channel"}),
		LiveFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "notify_live_failures_total",
			Help: "Live deliveries that failed to publish and fell back to email",
		}),
		EmailFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "notify_email_failures_total",
			Help: "Fallback emails that failed after all retries",
		}),
		PresenceUpdates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "notify_presence_updates_total",
			Help: "Presence record updates by resulting state",
		}, []string{"state"}),
		registry: reg,
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.Connections.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.Connections.Dec()
	}
}

func (m *Metrics) SetGroups(n int) {
	if m != nil {
		m.Groups.Set(float64(n))
	}
}

func (m *Metrics) Broadcast() {
	if m != nil {
		m.Broadcasts.Inc()
	}
}

func (m *Metrics) Delivery(result string) {
	if m != nil {
		m.Deliveries.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Dispatch(channel string) {
	if m != nil {
		m.Dispatches.WithLabelValues(channel).Inc()
	}
}

func (m *Metrics) LiveFailed() {
	if m != nil {
		m.LiveFailures.Inc()
	}
}

func (m *Metrics) EmailFailed() {
	if m != nil {
		m.EmailFailures.Inc()
	}
}

func (m *Metrics) Presence(state string) {
	if m != nil {
		m.PresenceUpdates.WithLabelValues(state).Inc()
	}
}
