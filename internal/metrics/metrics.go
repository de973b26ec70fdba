// Package metrics exposes Prometheus collectors for the listing crawler.
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

// Page status label values.
const (
	PageConfirmed = "confirmed"
	PageDegraded  = "degraded"
	PageFailed    = "failed"
	PageEmpty     = "empty"
)

var (
	crawlerPagesTotal             *prometheus.CounterVec
	crawlerRecordsTotal           prometheus.Counter
	crawlerChallengesTotal        prometheus.Counter
	crawlerFetchDurationSeconds   prometheus.Histogram
	crawlerManualWaitSeconds      prometheus.Histogram
	crawlerPolitenessDelaySeconds prometheus.Histogram
	crawlerRunsTotal              *prometheus.CounterVec
	operatorRequestsTotal         *prometheus.CounterVec
	operatorRequestSeconds        *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ershoufang_pages_total",
				Help: "Listing pages processed, labeled by outcome.",
			},
			[]string{"status"},
		)

		crawlerRecordsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ershoufang_records_total",
				Help: "Listing records extracted across all pages.",
			},
		)

		crawlerChallengesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ershoufang_challenges_total",
				Help: "Anti-bot challenges detected and handed to the operator.",
			},
		)

		crawlerFetchDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ershoufang_fetch_duration_seconds",
				Help:    "Time spent acquiring one page, excluding manual resolution.",
				Buckets: []float64{0.5, 1, 2.5, 5, 7.5, 10, 20},
			},
		)

		crawlerManualWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ershoufang_manual_resolution_seconds",
				Help:    "Time spent waiting for an operator to clear a challenge.",
				Buckets: []float64{5, 15, 30, 60, 120, 300, 900},
			},
		)

		crawlerPolitenessDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ershoufang_politeness_delay_seconds",
				Help:    "Randomized pauses taken between consecutive pages.",
				Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10},
			},
		)

		crawlerRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ershoufang_runs_total",
				Help: "Crawl runs finished, labeled by termination reason.",
			},
			[]string{"reason"},
		)

		operatorRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ershoufang_operator_requests_total",
				Help: "Requests served by the operator HTTP server.",
			},
			[]string{"method", "route", "status"},
		)

		operatorRequestSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ershoufang_operator_request_duration_seconds",
				Help:    "Latency of operator HTTP requests.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage counts one processed page.
func ObservePage(status string) {
	Init()
	crawlerPagesTotal.WithLabelValues(status).Inc()
}

// ObserveRecords adds n extracted records.
func ObserveRecords(n int) {
	Init()
	if n > 0 {
		crawlerRecordsTotal.Add(float64(n))
	}
}

// ObserveChallenge counts a detected challenge.
func ObserveChallenge() {
	Init()
	crawlerChallengesTotal.Inc()
}

// ObserveFetchDuration records the bounded part of a page acquisition.
func ObserveFetchDuration(d time.Duration) {
	Init()
	crawlerFetchDurationSeconds.Observe(d.Seconds())
}

// ObserveManualWait records how long the operator took to confirm.
func ObserveManualWait(d time.Duration) {
	Init()
	crawlerManualWaitSeconds.Observe(d.Seconds())
}

// ObservePolitenessDelay records an inter-page pause.
func ObservePolitenessDelay(d time.Duration) {
	Init()
	crawlerPolitenessDelaySeconds.Observe(d.Seconds())
}

// ObserveRun counts a finished run.
func ObserveRun(reason string) {
	Init()
	crawlerRunsTotal.WithLabelValues(reason).Inc()
}

// ObserveHTTPRequest records one operator HTTP request.
func ObserveHTTPRequest(method, route string, status int, d time.Duration) {
	Init()
	operatorRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	operatorRequestSeconds.WithLabelValues(method, route).Observe(d.Seconds())
}
