package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type engineMetrics struct {
	activeSessions  prometheus.Gauge
	sessionsOpened  prometheus.Counter
	sessionsEvicted prometheus.Counter

	turnsTotal   *prometheus.CounterVec
	turnDuration *prometheus.HistogramVec

	streamEventsTotal *prometheus.CounterVec

	backendInflight prometheus.Gauge
	backendDuration *prometheus.HistogramVec
	backendRejects  prometheus.Counter

	fusionDuration prometheus.Histogram
	contextTokens  prometheus.Histogram
	providerErrors *prometheus.CounterVec

	historyAppendDuration prometheus.Histogram
	historyLoadDuration   prometheus.Histogram

	memoryRecallDuration prometheus.Histogram
	memoryIndexedChunks  prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *engineMetrics
)

func getMetrics() *engineMetrics {
	metricsOnce.Do(func() {
		m := &engineMetrics{
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_sessions",
					Help: "Current live session count.",
				},
			),
			sessionsOpened: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "sessions_opened_total",
					Help: "Total sessions opened.",
				},
			),
			sessionsEvicted: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "sessions_evicted_total",
					Help: "Total sessions closed by the idle sweep.",
				},
			),
			turnsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "turns_total",
					Help: "Total turns by terminal status.",
				},
				[]string{"status"},
			),
			turnDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "turn_duration_seconds",
					Help:    "Turn duration in seconds by terminal status.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"status"},
			),
			streamEventsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "stream_events_total",
					Help: "Total stream events relayed to clients by kind.",
				},
				[]string{"kind"},
			),
			backendInflight: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "backend_calls_inflight",
					Help: "Backend generations currently in flight.",
				},
			),
			backendDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "backend_call_duration_seconds",
					Help:    "Backend generation duration in seconds by adapter.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"adapter"},
			),
			backendRejects: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "backend_saturation_rejects_total",
					Help: "Turn submissions rejected because the backend concurrency limit was reached.",
				},
			),
			fusionDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "context_fusion_duration_seconds",
					Help:    "Context assembly duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			contextTokens: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "context_token_estimate",
					Help:    "Estimated token count of assembled context blocks.",
					Buckets: prometheus.ExponentialBuckets(64, 2, 10),
				},
			),
			providerErrors: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "memory_provider_errors_total",
					Help: "Non-fatal memory provider failures by source.",
				},
				[]string{"source"},
			),
			historyAppendDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "history_append_duration_seconds",
					Help:    "History append duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			historyLoadDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "history_load_duration_seconds",
					Help:    "History load duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			memoryRecallDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "memory_recall_duration_seconds",
					Help:    "Memory recall duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			memoryIndexedChunks: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "memory_indexed_chunks",
					Help: "Note chunks currently indexed for recall.",
				},
			),
		}

		prometheus.MustRegister(
			m.activeSessions,
			m.sessionsOpened,
			m.sessionsEvicted,
			m.turnsTotal,
			m.turnDuration,
			m.streamEventsTotal,
			m.backendInflight,
			m.backendDuration,
			m.backendRejects,
			m.fusionDuration,
			m.contextTokens,
			m.providerErrors,
			m.historyAppendDuration,
			m.historyLoadDuration,
			m.memoryRecallDuration,
			m.memoryIndexedChunks,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func SetActiveSessions(count int) {
	getMetrics().activeSessions.Set(float64(count))
}

func RecordSessionOpened() {
	getMetrics().sessionsOpened.Inc()
}

func RecordSessionEvicted() {
	getMetrics().sessionsEvicted.Inc()
}

func RecordTurn(status string, duration time.Duration) {
	m := getMetrics()
	m.turnsTotal.WithLabelValues(status).Inc()
	m.turnDuration.WithLabelValues(status).Observe(duration.Seconds())
}

func RecordStreamEvent(kind string) {
	getMetrics().streamEventsTotal.WithLabelValues(kind).Inc()
}

func SetBackendInflight(count int) {
	getMetrics().backendInflight.Set(float64(count))
}

func RecordBackendCall(adapter string, duration time.Duration) {
	getMetrics().backendDuration.WithLabelValues(adapter).Observe(duration.Seconds())
}

func RecordBackendReject() {
	getMetrics().backendRejects.Inc()
}

func RecordFusion(duration time.Duration, tokenEstimate int) {
	m := getMetrics()
	m.fusionDuration.Observe(duration.Seconds())
	m.contextTokens.Observe(float64(tokenEstimate))
}

func RecordProviderError(source string) {
	getMetrics().providerErrors.WithLabelValues(source).Inc()
}

func RecordHistoryAppend(duration time.Duration) {
	getMetrics().historyAppendDuration.Observe(duration.Seconds())
}

func RecordHistoryLoad(duration time.Duration) {
	getMetrics().historyLoadDuration.Observe(duration.Seconds())
}

func RecordMemoryRecall(duration time.Duration) {
	getMetrics().memoryRecallDuration.Observe(duration.Seconds())
}

func SetMemoryIndexedChunks(count int) {
	getMetrics().memoryIndexedChunks.Set(float64(count))
}
