package service

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/student-tracker-sync/internal/diagnostics"
	"github.com/noah-isme/student-tracker-sync/internal/reconcile"
)

// MetricsSnapshot is a point-in-time summary for the health endpoint and run logs.
type MetricsSnapshot struct {
	Writes                   uint64    `json:"writes"`
	Diagnostics              uint64    `json:"diagnostics"`
	StoreRetries             uint64    `json:"store_retries"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	RequestsTotal            uint64    `json:"requests_total"`
	DBQueryCount             uint64    `json:"db_query_count"`
	AverageDBQueryDurationMs float64   `json:"average_db_query_duration_ms"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}

// MetricsService encapsulates Prometheus instrumentation for sync runs and the webhook receiver.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	mergeDecisions  *prometheus.CounterVec
	storeRetries    *prometheus.CounterVec
	diagnostics     *prometheus.CounterVec
	phaseDuration   *prometheus.GaugeVec
	phaseFailures   *prometheus.CounterVec
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	dbQueryDuration *prometheus.HistogramVec

	writeCount           uint64
	diagnosticCount      uint64
	retryCount           uint64
	cacheHitCount        uint64
	cacheMissCount       uint64
	requestCount         uint64
	dbQueryCount         uint64
	dbQueryDurationTotal uint64
}

// NewMetricsService registers the collectors on a private registry.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	mergeDecisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_merge_decisions_total",
		Help: "Merge decisions by entity and outcome",
	}, []string{"entity", "decision"})

	storeRetries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_store_retries_total",
		Help: "Store operations retried after a connectivity failure",
	}, []string{"operation", "outcome"})

	diags := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_diagnostics_total",
		Help: "Data-quality diagnostics raised by code",
	}, []string{"code"})

	phaseDuration := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tracker_phase_duration_seconds",
		Help: "Duration of the last run of each sync phase",
	}, []string{"phase"})

	phaseFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_phase_failures_total",
		Help: "Sync phases that failed or aborted",
	}, []string{"phase", "reason"})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "db_query_duration_seconds",
		Help:    "Duration of database queries",
		Buckets: prometheus.DefBuckets,
	}, []string{"query"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, mergeDecisions, storeRetries, diags, phaseDuration,
		phaseFailures, cacheHits, cacheMisses, dbQueryDuration, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		mergeDecisions:  mergeDecisions,
		storeRetries:    storeRetries,
		diagnostics:     diags,
		phaseDuration:   phaseDuration,
		phaseFailures:   phaseFailures,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		dbQueryDuration: dbQueryDuration,
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

// WriteToTextfile writes every collector to path in the node-exporter textfile format.
func (m *MetricsService) WriteToTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
}

// RecordMerge adds the decisions of one merge pass.
func (m *MetricsService) RecordMerge(entity string, stats reconcile.Stats) {
	if m == nil {
		return
	}
	for decision, n := range map[string]int{
		"inserted":  stats.Inserted,
		"updated":   stats.Updated,
		"unchanged": stats.Unchanged,
		"extra":     stats.Extra,
		"failed":    stats.Failed,
	} {
		if n > 0 {
			m.mergeDecisions.WithLabelValues(entity, decision).Add(float64(n))
		}
	}
	atomic.AddUint64(&m.writeCount, uint64(stats.Writes()))
}

// RecordStoreRetry counts a reconnect-and-retry and whether it recovered.
func (m *MetricsService) RecordStoreRetry(label string, recovered bool) {
	if m == nil {
		return
	}
	outcome := "abandoned"
	if recovered {
		outcome = "recovered"
	}
	m.storeRetries.WithLabelValues(label, outcome).Inc()
	atomic.AddUint64(&m.retryCount, 1)
}

// RecordDiagnostic counts a diagnostic. It satisfies diagnostics.Recorder through DiagnosticRecorder.
func (m *MetricsService) RecordDiagnostic(code diagnostics.Code) {
	if m == nil {
		return
	}
	m.diagnostics.WithLabelValues(string(code)).Inc()
	atomic.AddUint64(&m.diagnosticCount, 1)
}

// DiagnosticRecorder adapts the service to diagnostics.Recorder.
func (m *MetricsService) DiagnosticRecorder() diagnostics.Recorder {
	return diagnostics.RecorderFunc(func(_ context.Context, d diagnostics.Diagnostic) {
		m.RecordDiagnostic(d.Code)
	})
}

// ObservePhase records a phase duration and, when reason is non-empty, a failure.
func (m *MetricsService) ObservePhase(phase string, duration time.Duration, reason string) {
	if m == nil {
		return
	}
	m.phaseDuration.WithLabelValues(phase).Set(duration.Seconds())
	if reason != "" {
		m.phaseFailures.WithLabelValues(phase, reason).Inc()
	}
}

// RecordCacheOperation records a cache hit or miss.
func (m *MetricsService) RecordCacheOperation(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
		return
	}
	m.cacheMisses.Inc()
	atomic.AddUint64(&m.cacheMissCount, 1)
}

// ObserveDBQuery records database query timing.
func (m *MetricsService) ObserveDBQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(label).Observe(duration.Seconds())
	atomic.AddUint64(&m.dbQueryCount, 1)
	atomic.AddUint64(&m.dbQueryDurationTotal, uint64(duration.Nanoseconds()))
}

// Snapshot returns aggregated counters.
func (m *MetricsService) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	dbCount := atomic.LoadUint64(&m.dbQueryCount)
	dbDuration := atomic.LoadUint64(&m.dbQueryDurationTotal)

	var avgDBMs float64
	if dbCount > 0 {
		avgDBMs = float64(dbDuration) / float64(dbCount) / float64(time.Millisecond)
	}

	return MetricsSnapshot{
		Writes:                   atomic.LoadUint64(&m.writeCount),
		Diagnostics:              atomic.LoadUint64(&m.diagnosticCount),
		StoreRetries:             atomic.LoadUint64(&m.retryCount),
		CacheHits:                atomic.LoadUint64(&m.cacheHitCount),
		CacheMisses:              atomic.LoadUint64(&m.cacheMissCount),
		RequestsTotal:            atomic.LoadUint64(&m.requestCount),
		DBQueryCount:             dbCount,
		AverageDBQueryDurationMs: avgDBMs,
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
