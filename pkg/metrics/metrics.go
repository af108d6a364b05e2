package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	FetchAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_fetch_attempts_total",
			Help: "Total number of fetch attempts by mode and outcome.",
		},
		[]string{"mode", "outcome"},
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scraper_fetch_duration_seconds",
			Help:    "Duration of single fetch attempts.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"mode"},
	)

	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_retries_total",
			Help: "Total number of retries by the outcome that triggered them.",
		},
		[]string{"outcome"},
	)

	HealthyIdentities = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scraper_identities_healthy",
			Help: "Current number of identities in rotation.",
		},
	)

	SearchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_search_requests_total",
			Help: "Total number of search requests by provider and result.",
		},
		[]string{"provider", "result"}, // result: ok, no_results, quota_exceeded, error
	)

	RecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_records_total",
			Help: "Business records by final status.",
		},
		[]string{"status"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scraper_stage_duration_seconds",
			Help:    "Duration of pipeline stages.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 900},
		},
		[]string{"stage"},
	)
)

// ObserveFetch records one fetch attempt.
func ObserveFetch(mode, outcome string, elapsed time.Duration) {
	FetchAttemptsTotal.WithLabelValues(mode, outcome).Inc()
	FetchDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}
