// Package metrics defines the Prometheus collectors for the gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the gateway's collectors on a private registry.
type Metrics struct {
	RequestsTotal          *prometheus.CounterVec
	RequestDurationSeconds *prometheus.HistogramVec
	ErrorsTotal            *prometheus.CounterVec
	BackendHealthy         *prometheus.GaugeVec
	RateLimitHitsTotal     *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentineld_requests_total",
			Help: "Total MCP requests by tool and outcome.",
		}, []string{"tool", "status"}),
		RequestDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sentineld_request_duration_seconds",
			Help:    "Request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentineld_errors_total",
			Help: "Total errors by tool and type.",
		}, []string{"tool", "error_type"}),
		BackendHealthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sentineld_backend_healthy",
			Help: "Backend health status (1 healthy, 0 unhealthy).",
		}, []string{"backend"}),
		RateLimitHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentineld_rate_limit_hits_total",
			Help: "Total rate limit rejections by tool.",
		}, []string{"tool"}),
		registry: registry,
	}

	registry.MustRegister(
		m.RequestsTotal,
		m.RequestDurationSeconds,
		m.ErrorsTotal,
		m.BackendHealthy,
		m.RateLimitHitsTotal,
	)
	return m
}

// Registry exposes the gatherer for the /metrics endpoint.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// RecordRequest records one dispatched request outcome.
func (m *Metrics) RecordRequest(tool, status string, durationSecs float64) {
	m.RequestsTotal.WithLabelValues(tool, status).Inc()
	m.RequestDurationSeconds.WithLabelValues(tool).Observe(durationSecs)
	if status != "success" {
		m.ErrorsTotal.WithLabelValues(tool, status).Inc()
	}
}

// RecordRateLimitHit counts one rate-limit rejection.
func (m *Metrics) RecordRateLimitHit(tool string) {
	m.RateLimitHitsTotal.WithLabelValues(tool).Inc()
}

// SetBackendHealth publishes a backend's health state.
func (m *Metrics) SetBackendHealth(backend string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	m.BackendHealthy.WithLabelValues(backend).Set(v)
}
