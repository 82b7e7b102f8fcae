package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsSnapshot is a lightweight summary of client activity.
type MetricsSnapshot struct {
	APICallsTotal       uint64    `json:"api_calls_total"`
	APIFailuresTotal    uint64    `json:"api_failures_total"`
	AverageAPICallMs    float64   `json:"average_api_call_ms"`
	ToggleRollbacks     uint64    `json:"toggle_rollbacks"`
	SupersededRefreshes uint64    `json:"superseded_refreshes"`
	RequestsTotal       uint64    `json:"requests_total"`
	AverageRequestMs    float64   `json:"average_request_ms"`
	Goroutines          int       `json:"goroutines"`
	GeneratedAt         time.Time `json:"generated_at"`
}

// MetricsService encapsulates Prometheus instrumentation for the client.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	apiDuration     *prometheus.HistogramVec
	apiTotal        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	storeDuration   *prometheus.HistogramVec
	rollbacks       prometheus.Counter
	superseded      prometheus.Counter

	apiCount             uint64
	apiFailureCount      uint64
	apiDurationTotal     uint64
	rollbackCount        uint64
	supersededCount      uint64
	requestCount         uint64
	requestDurationTotal uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	apiDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "robotask_api_call_duration_seconds",
		Help:    "Duration of calls to the task API in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "outcome"})

	apiTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "robotask_api_calls_total",
		Help: "Total number of calls to the task API",
	}, []string{"method", "path", "outcome"})

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	storeDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "robotask_session_store_seconds",
		Help:    "Latency of session store operations",
		Buckets: prometheus.DefBuckets,
	}, []string{"op", "result"})

	rollbacks := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "robotask_toggle_rollbacks_total",
		Help: "Optimistic completion toggles reverted after a failed call",
	})

	superseded := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "robotask_refresh_superseded_total",
		Help: "Task list refreshes discarded because a newer one started",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(apiDuration, apiTotal, requestDuration, requestTotal, storeDuration, rollbacks, superseded, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		apiDuration:     apiDuration,
		apiTotal:        apiTotal,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		storeDuration:   storeDuration,
		rollbacks:       rollbacks,
		superseded:      superseded,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry exposes the underlying registry for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveAPICall records one outbound call. outcome is "ok" or an error code.
func (m *MetricsService) ObserveAPICall(method, path, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.apiDuration.WithLabelValues(method, path, outcome).Observe(duration.Seconds())
	m.apiTotal.WithLabelValues(method, path, outcome).Inc()
	atomic.AddUint64(&m.apiCount, 1)
	atomic.AddUint64(&m.apiDurationTotal, uint64(duration.Nanoseconds()))
	if outcome != "ok" {
		atomic.AddUint64(&m.apiFailureCount, 1)
	}
}

// ObserveHTTPRequest records inbound request metrics for the companion server.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// ObserveStoreOperation records the latency of a session store call.
func (m *MetricsService) ObserveStoreOperation(op string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.storeDuration.WithLabelValues(op, result).Observe(duration.Seconds())
}

// RecordRollback counts a reverted optimistic toggle.
func (m *MetricsService) RecordRollback() {
	if m == nil {
		return
	}
	m.rollbacks.Inc()
	atomic.AddUint64(&m.rollbackCount, 1)
}

// RecordSuperseded counts a discarded refresh.
func (m *MetricsService) RecordSuperseded() {
	if m == nil {
		return
	}
	m.superseded.Inc()
	atomic.AddUint64(&m.supersededCount, 1)
}

// Snapshot returns aggregated counters.
func (m *MetricsService) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	calls := atomic.LoadUint64(&m.apiCount)
	callDuration := atomic.LoadUint64(&m.apiDurationTotal)
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)

	var avgCallMs float64
	if calls > 0 {
		avgCallMs = float64(callDuration) / float64(calls) / float64(time.Millisecond)
	}
	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	return MetricsSnapshot{
		APICallsTotal:       calls,
		APIFailuresTotal:    atomic.LoadUint64(&m.apiFailureCount),
		AverageAPICallMs:    avgCallMs,
		ToggleRollbacks:     atomic.LoadUint64(&m.rollbackCount),
		SupersededRefreshes: atomic.LoadUint64(&m.supersededCount),
		RequestsTotal:       requests,
		AverageRequestMs:    avgRequestMs,
		Goroutines:          runtime.NumGoroutine(),
		GeneratedAt:         time.Now().UTC(),
	}
}
