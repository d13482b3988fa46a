// Package metrics exposes a node's protocol activity as Prometheus collectors.
//
// Each Metrics owns its own registry so several nodes can live in one
// process (tests do this) without colliding on collector names.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vee"

// Pairing outcomes.
const (
	OutcomeData          = "data"
	OutcomeProtocolError = "protocol_error"
)

// Metrics holds the collectors updated by the node.
type Metrics struct {
	Received         *prometheus.CounterVec
	Sent             *prometheus.CounterVec
	Pairings         *prometheus.CounterVec
	FailsReported    prometheus.Counter
	DirectoryEntries prometheus.Gauge
	Broker           prometheus.Gauge

	registry *prometheus.Registry
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Formation messages received, by kind.",
		}, []string{"kind"}),
		Sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Messages sent, by kind.",
		}, []string{"kind"}),
		Pairings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pairings_total",
			Help:      "Completed direct exchanges, by outcome.",
		}, []string{"outcome"}),
		FailsReported: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fails_reported_total",
			Help:      "Fail messages addressed to this node.",
		}),
		DirectoryEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "directory_entries",
			Help:      "Names in the peer directory (broker only).",
		}),
		Broker: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "broker",
			Help:      "1 if this node won the formation bind, 0 otherwise.",
		}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.Received,
		m.Sent,
		m.Pairings,
		m.FailsReported,
		m.DirectoryEntries,
		m.Broker,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
