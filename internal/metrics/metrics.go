// Package metrics exposes Prometheus collectors for the ingestion service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/grantwell/scholarship-ingest/internal/scholar"
)

var (
	ingestCandidatesTotal      *prometheus.CounterVec
	validationDurationSeconds  *prometheus.HistogramVec
	qualityScores              prometheus.Histogram
	breakerState               *prometheus.GaugeVec
	scrapeRunsTotal            *prometheus.CounterVec
	sweepRecordsTotal          *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	activeIngestWorkers        prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		ingestCandidatesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_candidates_total",
				Help: "Total candidates processed, labeled by source and outcome.",
			},
			[]string{"source", "outcome"},
		)

		validationDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "link_validation_duration_seconds",
				Help:    "Histogram of link validation latencies, labeled by outcome.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 15},
			},
			[]string{"outcome"},
		)

		qualityScores = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ingest_quality_score",
				Help:    "Distribution of computed quality scores.",
				Buckets: []float64{0, 20, 40, 60, 70, 80, 90, 100},
			},
		)

		breakerState = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "source_breaker_state",
				Help: "Circuit breaker state per source (0 closed, 1 half-open, 2 open).",
			},
			[]string{"source"},
		)

		scrapeRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrape_runs_total",
				Help: "Total orchestrator runs, labeled by status.",
			},
			[]string{"status"},
		)

		sweepRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "health_sweep_records_total",
				Help: "Records touched by health sweeps, labeled by result.",
			},
			[]string{"result"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scrape_rate_limit_delays_seconds",
				Help:    "Histogram of per-domain rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		activeIngestWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ingest_active_workers",
				Help: "Number of ingest workers currently processing a candidate.",
			},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCandidate counts one pipeline outcome for a source.
func ObserveCandidate(source, outcome string) {
	if source == "" {
		source = "unknown"
	}
	ingestCandidatesTotal.WithLabelValues(source, outcome).Inc()
}

// ObserveValidation records a validation pass.
func ObserveValidation(valid bool, duration time.Duration) {
	outcome := "invalid"
	if valid {
		outcome = "valid"
	}
	validationDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveQualityScore records a computed score.
func ObserveQualityScore(score int) {
	qualityScores.Observe(float64(score))
}

// SetBreakerState publishes the numeric breaker gauge for a source.
func SetBreakerState(source string, state scholar.BreakerState) {
	var v float64
	switch state {
	case scholar.BreakerHalfOpen:
		v = 1
	case scholar.BreakerOpen:
		v = 2
	}
	breakerState.WithLabelValues(source).Set(v)
}

// ObserveRun counts a completed orchestrator run.
func ObserveRun(status string) {
	scrapeRunsTotal.WithLabelValues(status).Inc()
}

// ObserveSweepRecord counts one record touched by a health sweep.
func ObserveSweepRecord(result string) {
	sweepRecordsTotal.WithLabelValues(result).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active ingest workers gauge.
func IncActiveWorkers() {
	activeIngestWorkers.Inc()
}

// DecActiveWorkers decrements the active ingest workers gauge.
func DecActiveWorkers() {
	activeIngestWorkers.Dec()
}
