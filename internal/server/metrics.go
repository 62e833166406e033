package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics carries the server's counters on a private registry, so multiple
// servers in one process (tests included) never collide on registration.
type metrics struct {
	registry *prometheus.Registry

	connectionsTotal  prometheus.Counter
	connectionsActive prometheus.Gauge
	tasksTotal        prometheus.Counter
	errorsTotal       prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &metrics{
		registry: registry,
		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "hermes",
			Name:      "connections_total",
			Help:      "Executor connections accepted since start.",
		}),
		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "hermes",
			Name:      "connections_active",
			Help:      "Executor connections currently bound.",
		}),
		tasksTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "hermes",
			Name:      "tasks_total",
			Help:      "Task messages accepted for execution.",
		}),
		errorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "hermes",
			Name:      "errors_total",
			Help:      "Error envelopes sent back to clients.",
		}),
	}
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
