// Package metrics exports session, renegotiation and autoplay counters to
// Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go2tv.app/handoff/internal/capability"
	"go2tv.app/handoff/internal/session"
)

// Metrics owns its registry so that several instances can coexist in tests.
type Metrics struct {
	Registry *prometheus.Registry

	transitions    *prometheus.CounterVec
	connected      prometheus.Gauge
	drops          prometheus.Counter
	renegotiations *prometheus.CounterVec
	advances       prometheus.Counter
	capability     *prometheus.CounterVec
}

var _ session.Observer = (*Metrics)(nil)

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "handoff_session_transitions_total",
			Help: "Session phase transitions, by phase entered.",
		}, []string{"phase"}),
		connected: f.NewGauge(prometheus.GaugeOpts{
			Name: "handoff_session_connected",
			Help: "1 while a remote session is connected.",
		}),
		drops: f.NewCounter(prometheus.CounterOpts{
			Name: "handoff_session_drops_total",
			Help: "Sessions lost without an explicit end.",
		}),
		renegotiations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "handoff_renegotiations_total",
			Help: "Remote track and quality reloads, by outcome.",
		}, []string{"outcome"}),
		advances: f.NewCounter(prometheus.CounterOpts{
			Name: "handoff_autoplay_advances_total",
			Help: "Items advanced to by the autoplay countdown.",
		}),
		capability: f.NewCounterVec(prometheus.CounterOpts{
			Name: "handoff_capability_resolutions_total",
			Help: "Casting capability resolutions, by result.",
		}, []string{"result"}),
	}
}

func (m *Metrics) PhaseEntered(p session.Phase) {
	m.transitions.WithLabelValues(p.String()).Inc()
	if p == session.Connected {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}

func (m *Metrics) SessionDropped() { m.drops.Inc() }

func (m *Metrics) Renegotiated(outcome string) {
	m.renegotiations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AutoplayAdvanced() { m.advances.Inc() }

// CapabilityResolved fits capability.WithObserver.
func (m *Metrics) CapabilityResolved(c capability.Capability) {
	m.capability.WithLabelValues(c.String()).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
