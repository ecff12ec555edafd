// Package metrics exposes workline's Prometheus collectors.
//
// All methods are safe on a nil *Metrics so components can run unmetered in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "workline"

type Metrics struct {
	reg *prometheus.Registry

	channels      prometheus.Gauge
	identities    prometheus.Gauge
	pushes        *prometheus.CounterVec
	slowConsumers prometheus.Counter
	rejects       *prometheus.CounterVec
	verifications *prometheus.CounterVec
	notifications prometheus.Counter
	revocations   prometheus.Counter
	pruned        prometheus.Counter
}

// New registers every collector on a fresh registry (plus Go and process collectors).
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		channels: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "realtime", Name: "channels",
			Help: "Registered live push channels.",
		}),
		identities: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "realtime", Name: "identities",
			Help: "Identities with at least one live push channel.",
		}),
		pushes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "realtime", Name: "pushes_total",
			Help: "Envelopes queued to live channels, by kind.",
		}, []string{"kind"}),
		slowConsumers: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "realtime", Name: "slow_consumers_total",
			Help: "Channels closed because their send queue was full.",
		}),
		rejects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "realtime", Name: "connect_rejects_total",
			Help: "Rejected push-channel connects, by reason.",
		}, []string{"reason"}),
		verifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "verifications_total",
			Help: "Session verifications, by result.",
		}, []string{"result"}),
		notifications: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "notify", Name: "created_total",
			Help: "Notifications persisted.",
		}),
		revocations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "revocations_total",
			Help: "Credentials revoked.",
		}),
		pruned: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "revocations_pruned_total",
			Help: "Expired revocation records deleted.",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) ChannelRegistered() {
	if m != nil {
		m.channels.Inc()
	}
}

func (m *Metrics) ChannelUnregistered() {
	if m != nil {
		m.channels.Dec()
	}
}

func (m *Metrics) SetIdentities(n int) {
	if m != nil {
		m.identities.Set(float64(n))
	}
}

func (m *Metrics) Pushed(kind string) {
	if m != nil {
		m.pushes.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) SlowConsumer() {
	if m != nil {
		m.slowConsumers.Inc()
	}
}

func (m *Metrics) ConnectRejected(reason string) {
	if m != nil {
		m.rejects.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) Verified(result string) {
	if m != nil {
		m.verifications.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) NotificationCreated() {
	if m != nil {
		m.notifications.Inc()
	}
}

func (m *Metrics) Revoked() {
	if m != nil {
		m.revocations.Inc()
	}
}

func (m *Metrics) Pruned(n int64) {
	if m != nil && n > 0 {
		m.pruned.Add(float64(n))
	}
}
