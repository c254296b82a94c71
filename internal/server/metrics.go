package server

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds the HTTP-level Prometheus metrics served at /metrics.
// Engine internals report through OpenTelemetry; this registry covers the
// daemon surface itself.
type Metrics struct {
	registry      *prometheus.Registry
	requestsTotal *prometheus.CounterVec
	requestDur    *prometheus.HistogramVec
}

// NewMetrics creates a registry with Go runtime and HTTP collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchestd",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, endpoint, and status code.",
		}, []string{"method", "endpoint", "status"}),
		requestDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "orchestd",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds by method and endpoint.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		}, []string{"method", "endpoint"}),
	}
	registry.MustRegister(m.requestsTotal, m.requestDur)
	return m
}

// Registry exposes the registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Middleware records request counts and latencies. The echo route pattern
// keeps label cardinality bounded: plan ids collapse into ":id".
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			endpoint := c.Path()
			if endpoint == "" {
				endpoint = "/"
			}
			m.requestsTotal.WithLabelValues(
				c.Request().Method, endpoint, strconv.Itoa(c.Response().Status)).Inc()
			m.requestDur.WithLabelValues(
				c.Request().Method, endpoint).Observe(time.Since(start).Seconds())
			return err
		}
	}
}
