// Package server records relay activity as Prometheus metrics exposed on
// the HTTP surface.
package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the relay's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	connectionsActive prometheus.Gauge
	connectionsTotal  prometheus.Counter
	handshakeFailures prometheus.Counter
	roomSwitches      prometheus.Counter
	messages          prometheus.Counter
	deliveries        prometheus.Counter
	deliveryFailures  prometheus.Counter
}

// NewMetrics creates the relay collectors on a dedicated registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_connections_active",
			Help: "Connections currently registered in a room.",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_connections_total",
			Help: "Connections admitted by the acceptor.",
		}),
		handshakeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_handshake_failures_total",
			Help: "Connections rejected before joining a room.",
		}),
		roomSwitches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_room_switches_total",
			Help: "Accepted room switch commands.",
		}),
		messages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_messages_total",
			Help: "Chat lines broadcast to a room.",
		}),
		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_deliveries_total",
			Help: "Successful per-recipient writes.",
		}),
		deliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_delivery_failures_total",
			Help: "Per-recipient writes that failed and were skipped.",
		}),
	}

	m.registry.MustRegister(
		m.connectionsActive,
		m.connectionsTotal,
		m.handshakeFailures,
		m.roomSwitches,
		m.messages,
		m.deliveries,
		m.deliveryFailures,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler exposes the collectors in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) connectionAdmitted() {
	if m != nil {
		m.connectionsTotal.Inc()
	}
}

func (m *Metrics) handshakeFailed() {
	if m != nil {
		m.handshakeFailures.Inc()
	}
}

func (m *Metrics) joined() {
	if m != nil {
		m.connectionsActive.Inc()
	}
}

func (m *Metrics) left() {
	if m != nil {
		m.connectionsActive.Dec()
	}
}

func (m *Metrics) roomSwitched() {
	if m != nil {
		m.roomSwitches.Inc()
	}
}

func (m *Metrics) broadcast(delivered, failed int) {
	if m == nil {
		return
	}
	m.messages.Inc()
	m.deliveries.Add(float64(delivered))
	m.deliveryFailures.Add(float64(failed))
}
