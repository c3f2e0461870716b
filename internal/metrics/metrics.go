// Package metrics holds the client's Prometheus collectors. Each Metrics
// value owns its registry so several engines (and tests) never collide.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	reg *prometheus.Registry

	refetches     *prometheus.CounterVec
	refetchErrors *prometheus.CounterVec
	events        *prometheus.CounterVec
	reconnects    prometheus.Counter
	state         prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		refetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatclient_refetch_total",
			Help: "Server fetches issued by the cache, by resource kind.",
		}, []string{"kind"}),
		refetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatclient_refetch_errors_total",
			Help: "Failed cache fetches, by resource kind.",
		}, []string{"kind"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatclient_realtime_events_total",
			Help: "Inbound realtime events, by event name.",
		}, []string{"event"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatclient_reconnects_total",
			Help: "Realtime connections established after the first one.",
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chatclient_realtime_state",
			Help: "Realtime channel state: 0 disconnected, 1 connecting, 2 connected, 3 subscribed.",
		}),
	}
	m.reg.MustRegister(
		m.refetches, m.refetchErrors, m.events, m.reconnects, m.state,
		collectors.NewGoCollector(),
	)
	return m
}

// Fetch records one cache fetch.
func (m *Metrics) Fetch(kind string, err error) {
	m.refetches.WithLabelValues(kind).Inc()
	if err != nil {
		m.refetchErrors.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) Event(name string) { m.events.WithLabelValues(name).Inc() }

func (m *Metrics) Reconnect() { m.reconnects.Inc() }

func (m *Metrics) State(v int) { m.state.Set(float64(v)) }

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
