// Package metrics exposes Prometheus collectors for the scraping engine.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scraperJobsTotal               *prometheus.CounterVec
	scraperArticlesExtractedTotal  *prometheus.CounterVec
	scraperArticlesPersistedTotal  *prometheus.CounterVec
	scraperCandidatesFailedTotal   *prometheus.CounterVec
	scraperFetchDurationSeconds    *prometheus.HistogramVec
	scraperReconciliationMismatch  *prometheus.CounterVec
	scraperActiveSourceTasks       prometheus.Gauge
	scraperDuplicatesSkippedTotal  *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		scraperJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_jobs_total",
				Help: "Total number of scrape jobs completed, labeled by terminal status.",
			},
			[]string{"status"},
		)

		scraperArticlesExtractedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_articles_extracted_total",
				Help: "Total articles extracted, labeled by source and winning strategy.",
			},
			[]string{"source", "strategy"},
		)

		scraperArticlesPersistedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_articles_persisted_total",
				Help: "Total articles durably persisted, labeled by source.",
			},
			[]string{"source"},
		)

		scraperDuplicatesSkippedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_duplicates_skipped_total",
				Help: "Total duplicate articles skipped at persistence, labeled by source.",
			},
			[]string{"source"},
		)

		scraperCandidatesFailedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_candidates_failed_total",
				Help: "Total candidates that failed, labeled by source and reason.",
			},
			[]string{"source", "reason"},
		)

		scraperFetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraper_fetch_duration_seconds",
				Help:    "Histogram of article fetch latencies, labeled by source and status code.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"source", "status"},
		)

		scraperReconciliationMismatch = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_reconciliation_mismatch_total",
				Help: "Total reconciliation mismatches between claimed and actual counts.",
			},
			[]string{"source"},
		)

		scraperActiveSourceTasks = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scraper_active_source_tasks",
				Help: "Number of source crawl tasks currently running.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveJob increments the job counter for the given terminal status.
func ObserveJob(status string) {
	Init()
	scraperJobsTotal.WithLabelValues(status).Inc()
}

// ObserveArticleExtracted increments the extraction counter.
func ObserveArticleExtracted(source, strategy string) {
	Init()
	scraperArticlesExtractedTotal.WithLabelValues(source, strategy).Inc()
}

// ObserveArticlesPersisted adds to the persisted counter for a source.
func ObserveArticlesPersisted(source string, count int) {
	Init()
	if count > 0 {
		scraperArticlesPersistedTotal.WithLabelValues(source).Add(float64(count))
	}
}

// ObserveDuplicatesSkipped adds to the duplicate-skip counter for a source.
func ObserveDuplicatesSkipped(source string, count int) {
	Init()
	if count > 0 {
		scraperDuplicatesSkippedTotal.WithLabelValues(source).Add(float64(count))
	}
}

// ObserveCandidateFailed increments the failure counter for a source/reason.
func ObserveCandidateFailed(source, reason string) {
	Init()
	scraperCandidatesFailedTotal.WithLabelValues(source, reason).Inc()
}

// ObserveFetch records the latency of one article fetch.
func ObserveFetch(source string, statusCode int, duration time.Duration) {
	Init()
	scraperFetchDurationSeconds.WithLabelValues(source, strconv.Itoa(statusCode)).Observe(duration.Seconds())
}

// ObserveReconciliationMismatch increments the mismatch alarm counter.
func ObserveReconciliationMismatch(source string) {
	Init()
	scraperReconciliationMismatch.WithLabelValues(source).Inc()
}

// IncActiveSourceTasks increments the running source-task gauge.
func IncActiveSourceTasks() {
	Init()
	scraperActiveSourceTasks.Inc()
}

// DecActiveSourceTasks decrements the running source-task gauge.
func DecActiveSourceTasks() {
	Init()
	scraperActiveSourceTasks.Dec()
}
