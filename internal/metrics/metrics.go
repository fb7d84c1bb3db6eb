// Package metrics exposes Prometheus instruments for settlement operations,
// ledger flows and the HTTP surface.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/polybet/internal/domain"
)

// Metrics owns a private registry so tests can build as many as they like.
type Metrics struct {
	reg *prometheus.Registry

	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	moved      *prometheus.CounterVec
	httpReqs   *prometheus.CounterVec
	httpTime   *prometheus.HistogramVec
}

// New registers every instrument plus the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "polybet",
			Name:      "settlement_operations_total",
			Help:      "Settlement operations by name and outcome kind (ok or error kind).",
		}, []string{"op", "result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "polybet",
			Name:      "settlement_operation_seconds",
			Help:      "Settlement operation latency including the unit of work.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"op"}),
		moved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "polybet",
			Name:      "ledger_moved_base_units_total",
			Help:      "Base units moved by the engine, by movement kind.",
		}, []string{"kind"}),
		httpReqs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "polybet",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status.",
		}, []string{"method", "status"}),
		httpTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "polybet",
			Name:      "http_request_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
	m.reg.MustRegister(
		m.operations, m.latency, m.moved, m.httpReqs, m.httpTime,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Operation records one settlement operation.
func (m *Metrics) Operation(op string, err error, elapsed time.Duration) {
	result := "ok"
	if err != nil {
		result = string(domain.KindOf(err))
		if result == "" {
			result = "internal"
		}
	}
	m.operations.WithLabelValues(op, result).Inc()
	m.latency.WithLabelValues(op).Observe(elapsed.Seconds())
}

// Moved records a ledger movement of amount base units.
func (m *Metrics) Moved(kind string, amount uint64) {
	m.moved.WithLabelValues(kind).Add(float64(amount))
}

// HTTP records one served request.
func (m *Metrics) HTTP(method string, status int, elapsed time.Duration) {
	m.httpReqs.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.httpTime.WithLabelValues(method).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }
