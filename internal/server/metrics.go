package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics tracks request counters for one module server. The same
// numbers back both the JSON endpoint and the Prometheus exposition.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   prometheus.Counter
	errorsTotal     prometheus.Counter
	requestDuration prometheus.Histogram
	endpointTotal   *prometheus.CounterVec

	mu         sync.Mutex
	total      int64
	errors     int64
	latencySum time.Duration
	byEndpoint map[string]int64
}

func newMetrics(module string, started time.Time, ready func() bool) *Metrics {
	registry := prometheus.NewRegistry()
	labels := prometheus.Labels{"module": module}

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "talkie_module_requests_total",
			Help:        "Total requests handled by the module server.",
			ConstLabels: labels,
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "talkie_module_errors_total",
			Help:        "Total requests that returned an error status.",
			ConstLabels: labels,
		}),
		requestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "talkie_module_request_duration_seconds",
			Help:        "Request handling latency.",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		endpointTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "talkie_module_endpoint_requests_total",
			Help:        "Requests per endpoint and status class.",
			ConstLabels: labels,
		}, []string{"endpoint", "method", "status"}),
		byEndpoint: make(map[string]int64),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.requestDuration,
		m.endpointTotal,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "talkie_module_uptime_seconds",
			Help:        "Seconds since the module server started.",
			ConstLabels: labels,
		}, func() float64 {
			return time.Since(started).Seconds()
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "talkie_module_ready",
			Help:        "Whether the module reports ready (1) or not (0).",
			ConstLabels: labels,
		}, func() float64 {
			if ready() {
				return 1
			}
			return 0
		}),
	)
	return m
}

// Record accounts one handled request.
func (m *Metrics) Record(path, method string, status int, elapsed time.Duration) {
	m.requestsTotal.Inc()
	m.requestDuration.Observe(elapsed.Seconds())
	m.endpointTotal.WithLabelValues(path, method, statusClass(status)).Inc()
	isError := status >= 400
	if isError {
		m.errorsTotal.Inc()
	}

	m.mu.Lock()
	m.total++
	if isError {
		m.errors++
	}
	m.latencySum += elapsed
	m.byEndpoint[path]++
	m.mu.Unlock()
}

// Snapshot returns the JSON view served on /metrics.
func (m *Metrics) Snapshot(uptime time.Duration) map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	avgMs := 0.0
	if m.total > 0 {
		avgMs = float64(m.latencySum.Milliseconds()) / float64(m.total)
	}
	byEndpoint := make(map[string]int64, len(m.byEndpoint))
	for k, v := range m.byEndpoint {
		byEndpoint[k] = v
	}
	return map[string]interface{}{
		"requests_total":    m.total,
		"errors_total":      m.errors,
		"avg_latency_ms":    avgMs,
		"uptime_seconds":    uptime.Seconds(),
		"requests_by_route": byEndpoint,
	}
}

// Handler serves the Prometheus exposition for this server's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
