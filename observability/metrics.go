package observability

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type hostMetrics struct {
	invocations *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	events      *prometheus.CounterVec
	height      prometheus.Gauge
}

type rpcMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	hostMetricsOnce sync.Once
	hostRegistry    *hostMetrics

	rpcMetricsOnce sync.Once
	rpcRegistry    *rpcMetrics
)

// Host returns the lazily-initialised metrics registry for contract
// invocations executed by the ledger host.
func Host() *hostMetrics {
	hostMetricsOnce.Do(func() {
		hostRegistry = &hostMetrics{
			invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "microescrow",
				Subsystem: "host",
				Name:      "invocations_total",
				Help:      "Contract invocations segmented by program, method and outcome.",
			}, []string{"program", "method", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "microescrow",
				Subsystem: "host",
				Name:      "invocation_duration_seconds",
				Help:      "Latency distribution of root contract invocations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"program", "method"}),
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "microescrow",
				Subsystem: "host",
				Name:      "events_published_total",
				Help:      "Events published after a committed invocation, by type.",
			}, []string{"type"}),
			height: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "microescrow",
				Subsystem: "host",
				Name:      "ledger_height",
				Help:      "Height of the last committed ledger state.",
			}),
		}
		prometheus.MustRegister(
			hostRegistry.invocations,
			hostRegistry.latency,
			hostRegistry.events,
			hostRegistry.height,
		)
	})
	return hostRegistry
}

// ObserveInvocation records the outcome of a root invocation.
func (m *hostMetrics) ObserveInvocation(program, method string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	program = labelOr(program, "unknown")
	method = labelOr(method, "unknown")
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.invocations.WithLabelValues(program, method, outcome).Inc()
	m.latency.WithLabelValues(program, method).Observe(duration.Seconds())
}

// RecordEvent increments the published event counter for eventType.
func (m *hostMetrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(labelOr(eventType, "unknown")).Inc()
}

// SetHeight exports the committed ledger height.
func (m *hostMetrics) SetHeight(height uint64) {
	if m == nil {
		return
	}
	m.height.Set(float64(height))
}

// RPC returns the lazily-initialised registry used to record JSON-RPC activity.
func RPC() *rpcMetrics {
	rpcMetricsOnce.Do(func() {
		rpcRegistry = &rpcMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "microescrow",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "microescrow",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by method and error code.",
			}, []string{"method", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "microescrow",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "microescrow",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of requests rejected due to throttling policies.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			rpcRegistry.requests,
			rpcRegistry.errors,
			rpcRegistry.latency,
			rpcRegistry.throttles,
		)
	})
	return rpcRegistry
}

// Observe records the outcome of a JSON-RPC request. code is the JSON-RPC
// error code or zero on success.
func (m *rpcMetrics) Observe(method string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	method = labelOr(method, "unknown")
	outcome := "success"
	if code != 0 {
		outcome = "error"
		m.errors.WithLabelValues(method, fmt.Sprintf("%d", code)).Inc()
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit" so dashboards remain consistent.
func (m *rpcMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(labelOr(reason, "unspecified")).Inc()
}

func labelOr(v, fallback string) string {
	if trimmed := strings.TrimSpace(v); trimmed != "" {
		return trimmed
	}
	return fallback
}
