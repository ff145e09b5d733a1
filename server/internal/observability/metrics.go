package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exports Prometheus metrics for retrieval and memory operations.
type Metrics struct {
	registry *prometheus.Registry

	searchLatency  *prometheus.HistogramVec
	searchTotal    *prometheus.CounterVec
	operationTotal *prometheus.CounterVec
	errorTotal     *prometheus.CounterVec
	vectorEntries  prometheus.Gauge
}

// NewMetrics creates a metrics exporter with its own registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		searchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cortex",
			Subsystem: "retrieval",
			Name:      "search_duration_seconds",
			Help:      "Search latency by search type.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"search_type"}),
		searchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cortex",
			Subsystem: "retrieval",
			Name:      "search_total",
			Help:      "Total searches by search type and status.",
		}, []string{"search_type", "status"}),
		operationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cortex",
			Subsystem: "memory",
			Name:      "operation_total",
			Help:      "Total memory operations by operation and status.",
		}, []string{"operation", "status"}),
		errorTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cortex",
			Subsystem: "server",
			Name:      "error_total",
			Help:      "Total errors by code.",
		}, []string{"code"}),
		vectorEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cortex",
			Subsystem: "vector",
			Name:      "entries",
			Help:      "Number of entries in the vector index.",
		}),
	}

	registry.MustRegister(
		m.searchLatency,
		m.searchTotal,
		m.operationTotal,
		m.errorTotal,
		m.vectorEntries,
	)
	return m
}

// ObserveSearch records one search.
func (m *Metrics) ObserveSearch(searchType string, duration time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.searchLatency.WithLabelValues(searchType).Observe(duration.Seconds())
	m.searchTotal.WithLabelValues(searchType, status).Inc()
}

// ObserveOperation records one memory operation.
func (m *Metrics) ObserveOperation(operation string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.operationTotal.WithLabelValues(operation, status).Inc()
}

// CountError records an error by code.
func (m *Metrics) CountError(code string) {
	m.errorTotal.WithLabelValues(code).Inc()
}

// SetVectorEntries updates the vector entry gauge.
func (m *Metrics) SetVectorEntries(n int) {
	m.vectorEntries.Set(float64(n))
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
