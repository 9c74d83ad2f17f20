// Package metrics exposes prometheus collectors for the sync core.
//
// Every method is safe on a nil *Metrics so components can take an optional
// collector without guarding each call.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/marksync/internal/entity"
)

const namespace = "marksync"

// Outcome labels.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
	OutcomeConflict = "conflict"
	OutcomeFenced   = "fenced"
	OutcomeInvalid  = "invalid"
)

// Metrics holds the collectors registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	mutations  *prometheus.CounterVec
	refreshes  *prometheus.CounterVec
	busEvents  *prometheus.CounterVec
	emissions  *prometheus.CounterVec
	liveModels *prometheus.GaugeVec
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_total",
			Help:      "Optimistic mutations by collection, operation and outcome.",
		}, []string{"kind", "op", "outcome"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refreshes_total",
			Help:      "Remote refreshes by collection and outcome.",
		}, []string{"kind", "outcome"}),
		busEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_events_total",
			Help:      "Mutation events dispatched on the bus.",
		}, []string{"kind", "op"}),
		emissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emissions_total",
			Help:      "Snapshots emitted to subscribers.",
		}, []string{"kind"}),
		liveModels: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_models",
			Help:      "Entity models currently held by a registry.",
		}, []string{"kind"}),
	}
	m.registry.MustRegister(m.mutations, m.refreshes, m.busEvents, m.emissions, m.liveModels)
	m.registry.MustRegister(collectors.NewGoCollector())
	return m
}

// Mutation counts one finished mutation.
func (m *Metrics) Mutation(kind entity.Kind, op entity.Op, outcome string) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(string(kind), string(op), outcome).Inc()
}

// Refresh counts one finished refresh.
func (m *Metrics) Refresh(kind entity.Kind, outcome string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(string(kind), outcome).Inc()
}

// BusEvent counts one dispatched event.
func (m *Metrics) BusEvent(kind entity.Kind, op entity.Op) {
	if m == nil {
		return
	}
	m.busEvents.WithLabelValues(string(kind), string(op)).Inc()
}

// Emission counts one snapshot emission.
func (m *Metrics) Emission(kind entity.Kind) {
	if m == nil {
		return
	}
	m.emissions.WithLabelValues(string(kind)).Inc()
}

// ModelOpened increments the live model gauge.
func (m *Metrics) ModelOpened(kind entity.Kind) {
	if m == nil {
		return
	}
	m.liveModels.WithLabelValues(string(kind)).Inc()
}

// ModelClosed decrements the live model gauge.
func (m *Metrics) ModelClosed(kind entity.Kind) {
	if m == nil {
		return
	}
	m.liveModels.WithLabelValues(string(kind)).Dec()
}

// Registry returns the underlying prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the collectors in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
