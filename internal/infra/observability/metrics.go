package observability

import (
	"time"

	"github.com/boddenberg/pj-ledger-sync-go/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	providerErrors  *prometheus.CounterVec
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec

	syncRuns     *prometheus.CounterVec
	syncPages    prometheus.Counter
	syncRecords  *prometheus.CounterVec
	syncDuration prometheus.Histogram

	reconciliationRuns     *prometheus.CounterVec
	reconciliationLines    *prometheus.CounterVec
	reconciliationDuration prometheus.Histogram

	jobsTotal   *prometheus.CounterVec
	jobsDropped prometheus.Counter
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_request_duration_seconds",
				Help:    "Duration of requests by operation.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		providerErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_provider_errors_total",
				Help: "Total errors from the aggregation provider.",
			},
			[]string{"endpoint"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),

		syncRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_sync_runs_total",
				Help: "Total sync runs by terminal status.",
			},
			[]string{"status"},
		),
		syncPages: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_sync_pages_total",
				Help: "Total change-feed pages fully applied.",
			},
		),
		syncRecords: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_sync_records_total",
				Help: "Total change-feed records by op and outcome.",
			},
			[]string{"op", "outcome"},
		),
		syncDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ledger_sync_duration_seconds",
				Help:    "Duration of full sync runs.",
				Buckets: prometheus.DefBuckets,
			},
		),

		reconciliationRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_reconciliation_runs_total",
				Help: "Total reconciliation report runs.",
			},
			[]string{"status"},
		),
		reconciliationLines: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_reconciliation_lines_total",
				Help: "Total statement lines classified, by match status.",
			},
			[]string{"status"},
		),
		reconciliationDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ledger_reconciliation_duration_seconds",
				Help:    "Duration of reconciliation report runs.",
				Buckets: prometheus.DefBuckets,
			},
		),

		jobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_sync_jobs_total",
				Help: "Background sync jobs executed by status.",
			},
			[]string{"status"},
		),
		jobsDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_sync_jobs_dropped_total",
				Help: "Background sync jobs dropped due to a full queue.",
			},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrProviderError increments the provider error counter for an endpoint.
func (m *Metrics) IncrProviderError(endpoint string) {
	m.providerErrors.WithLabelValues(endpoint).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// IncrSyncRun increments the sync run counter with a terminal status.
func (m *Metrics) IncrSyncRun(status string) {
	m.syncRuns.WithLabelValues(status).Inc()
}

// IncrSyncPage counts one fully applied change-feed page.
func (m *Metrics) IncrSyncPage() {
	m.syncPages.Inc()
}

// IncrSyncRecord counts one applied/skipped/failed change-feed record.
func (m *Metrics) IncrSyncRecord(op domain.ChangeOp, outcome domain.RecordOutcome) {
	m.syncRecords.WithLabelValues(string(op), string(outcome)).Inc()
}

// ObserveSyncDuration records the duration of one sync run.
func (m *Metrics) ObserveSyncDuration(d time.Duration) {
	m.syncDuration.Observe(d.Seconds())
}

// IncrReconciliationRun increments the reconciliation run counter.
func (m *Metrics) IncrReconciliationRun(status string) {
	m.reconciliationRuns.WithLabelValues(status).Inc()
}

// IncrReconciliationLine counts one classified statement line.
func (m *Metrics) IncrReconciliationLine(status string) {
	m.reconciliationLines.WithLabelValues(status).Inc()
}

// ObserveReconciliationDuration records the duration of one report run.
func (m *Metrics) ObserveReconciliationDuration(d time.Duration) {
	m.reconciliationDuration.Observe(d.Seconds())
}

// IncrJob increments the background job counter by status.
func (m *Metrics) IncrJob(status string) {
	m.jobsTotal.WithLabelValues(status).Inc()
}

// IncrJobDropped counts a job dropped because the queue was full.
func (m *Metrics) IncrJobDropped() {
	m.jobsDropped.Inc()
}

// GetSyncSnapshot returns a snapshot of sync-related counters suitable for
// the GET /v1/metrics/sync endpoint.
func (m *Metrics) GetSyncSnapshot() *domain.SyncMetrics {
	completed := getCounterValue(m.syncRuns, "completed")
	providerErr := getCounterValue(m.syncRuns, "provider_error")
	validationErr := getCounterValue(m.syncRuns, "validation_error")
	failed := providerErr + validationErr + getCounterValue(m.syncRuns, "error")

	applied := getRecordCount(m.syncRecords, domain.OutcomeApplied)
	skipped := getRecordCount(m.syncRecords, domain.OutcomeSkipped)
	recFailed := getRecordCount(m.syncRecords, domain.OutcomeFailed)

	hits := getCounterValue(m.cacheHits, "accounts") + getCounterValue(m.cacheHits, "report")
	misses := getCounterValue(m.cacheMisses, "accounts") + getCounterValue(m.cacheMisses, "report")
	hitRate := float64(0)
	if hits+misses > 0 {
		hitRate = hits / (hits + misses)
	}

	return &domain.SyncMetrics{
		TotalRuns:      int64(completed + failed),
		CompletedRuns:  int64(completed),
		FailedRuns:     int64(failed),
		RecordsApplied: int64(applied),
		RecordsSkipped: int64(skipped),
		RecordsFailed:  int64(recFailed),
		CacheHitRate:   hitRate,
		Period:         "all_time",
	}
}

func getRecordCount(cv *prometheus.CounterVec, outcome domain.RecordOutcome) float64 {
	total := float64(0)
	for _, op := range []domain.ChangeOp{domain.OpAdd, domain.OpModify, domain.OpRemove} {
		total += getCounterValue(cv, string(op), string(outcome))
	}
	return total
}

// getCounterValue extracts the current float64 value from a CounterVec for the
// given label values.
func getCounterValue(cv *prometheus.CounterVec, labels ...string) float64 {
	counter := cv.WithLabelValues(labels...)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
