// Package metrics exposes monitor counters to Prometheus.
package metrics

import (
	"TCPScope/internal/engine/lifecycle"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors of one monitor on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	packets     *prometheus.CounterVec
	events      *prometheus.CounterVec
	open        prometheus.Gauge
	tracked     prometheus.Gauge
	writeErrors *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		packets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tcpscope_packets_total",
			Help: "Packets handed to the lifecycle tracker, by outcome",
		}, []string{"result"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tcpscope_connection_events_total",
			Help: "Connection lifecycle transitions",
		}, []string{"event"}),
		open: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tcpscope_open_connections",
			Help: "Connections opened and not yet closed",
		}),
		tracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tcpscope_tracked_connections",
			Help: "Connections in the lifecycle table",
		}),
		writeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tcpscope_snapshot_write_errors_total",
			Help: "Failed snapshot writes",
		}, []string{"writer"}),
	}

	reg.MustRegister(m.packets, m.events, m.open, m.tracked, m.writeErrors)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler for /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObservePacket records the outcome of one tracker step. tracked is the
// table size after the step.
func (m *Metrics) ObservePacket(ev lifecycle.Event, tracked int) {
	switch ev {
	case lifecycle.EventOpened:
		m.packets.WithLabelValues("tracked").Inc()
		m.events.WithLabelValues("opened").Inc()
		m.open.Inc()
	case lifecycle.EventClosed:
		m.packets.WithLabelValues("tracked").Inc()
		m.events.WithLabelValues("closed").Inc()
		m.open.Dec()
	default:
		m.packets.WithLabelValues("ignored").Inc()
	}
	m.tracked.Set(float64(tracked))
}

// WriteFailed counts a failed snapshot write.
func (m *Metrics) WriteFailed(writer string) {
	m.writeErrors.WithLabelValues(writer).Inc()
}
