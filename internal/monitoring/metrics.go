package monitoring

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total number of requests dispatched through the gateway",
		},
		[]string{"service", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
		[]string{"service"},
	)

	UpstreamHealthy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_upstream_healthy",
			Help: "Health status of each backend service (1 = healthy, 0 = unhealthy)",
		},
		[]string{"service"},
	)

	ProbeFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_health_probe_failures_total",
			Help: "Total number of failed health probes per backend service",
		},
		[]string{"service"},
	)

	RateLimitRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_ratelimit_rejected_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
		[]string{"tier"},
	)

	RateLimitDegraded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_ratelimit_degraded",
			Help: "Whether the rate limiter is running on the local fallback (1) instead of the distributed store (0)",
		},
	)

	ProxyErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_proxy_errors_total",
			Help: "Total number of transport failures while forwarding to backends",
		},
		[]string{"service"},
	)
)

type Metrics struct {
	enabled bool
}

func New(enabled bool) *Metrics {
	return &Metrics{
		enabled: enabled,
	}
}

func (m *Metrics) isEnabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) RecordRequest(service string, statusCode int, duration time.Duration) {
	if !m.isEnabled() {
		return
	}

	RequestsTotal.WithLabelValues(service, strconv.Itoa(statusCode)).Inc()
	RequestDuration.WithLabelValues(service).Observe(duration.Seconds())
}

func (m *Metrics) UpdateUpstreamHealth(service string, healthy bool) {
	if !m.isEnabled() {
		return
	}
	value := 0.0
	if healthy {
		value = 1.0
	}
	UpstreamHealthy.WithLabelValues(service).Set(value)
}

func (m *Metrics) RecordProbeFailure(service string) {
	if !m.isEnabled() {
		return
	}
	ProbeFailuresTotal.WithLabelValues(service).Inc()
}

func (m *Metrics) RecordRateLimitRejection(tier string) {
	if !m.isEnabled() {
		return
	}
	RateLimitRejectedTotal.WithLabelValues(tier).Inc()
}

func (m *Metrics) SetRateLimitDegraded(degraded bool) {
	if !m.isEnabled() {
		return
	}
	value := 0.0
	if degraded {
		value = 1.0
	}
	RateLimitDegraded.Set(value)
}

func (m *Metrics) RecordProxyError(service string) {
	if !m.isEnabled() {
		return
	}
	ProxyErrorsTotal.WithLabelValues(service).Inc()
}
