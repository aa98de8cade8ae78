// Package metrics exposes Prometheus collectors for the price pipeline.
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
)

var (
	acquisitionsTotal          *prometheus.CounterVec
	stageDurationSeconds       *prometheus.HistogramVec
	workerTasksTotal           *prometheus.CounterVec
	workerIdlePollsTotal       prometheus.Counter
	activeSessions             prometheus.Gauge
	pacingDelaySeconds         *prometheus.HistogramVec
	snapshotFailuresTotal      prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		acquisitionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricespy_acquisitions_total",
				Help: "Price acquisitions, labeled by outcome (success or error kind).",
			},
			[]string{"outcome"},
		)

		stageDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pricespy_acquisition_stage_duration_seconds",
				Help:    "Duration of each acquisition stage.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"stage"},
		)

		workerTasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricespy_worker_tasks_total",
				Help: "Tasks handled by the worker, labeled by result.",
			},
			[]string{"result"},
		)

		workerIdlePollsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pricespy_worker_idle_polls_total",
				Help: "Polls that found the task queue empty.",
			},
		)

		activeSessions = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pricespy_browser_sessions_active",
				Help: "Number of open browser sessions.",
			},
		)

		pacingDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pricespy_pacing_delay_seconds",
				Help:    "Time spent waiting on per-host request pacing.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		snapshotFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pricespy_snapshot_failures_total",
				Help: "Listing snapshots that could not be archived.",
			},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30, 120},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeHost extracts a lowercase hostname from a URL.
// It returns "unknown" if the URL is invalid.
func SanitizeHost(rawURL string) string {
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
	Init()
	return promhttp.Handler()
}

// ObserveAcquisition counts one acquisition. outcome is "success" or an error kind.
func ObserveAcquisition(outcome string) {
	Init()
	acquisitionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveStage records how long an acquisition stage took.
func ObserveStage(stage string, duration time.Duration) {
	Init()
	stageDurationSeconds.WithLabelValues(stage).Observe(duration.Seconds())
}

// ObserveWorkerTask counts a task handled by the worker.
func ObserveWorkerTask(result string) {
	Init()
	workerTasksTotal.WithLabelValues(result).Inc()
}

// ObserveIdlePoll counts a poll that found no work.
func ObserveIdlePoll() {
	Init()
	workerIdlePollsTotal.Inc()
}

// IncActiveSessions increments the open browser sessions gauge.
func IncActiveSessions() {
	Init()
	activeSessions.Inc()
}

// DecActiveSessions decrements the open browser sessions gauge.
func DecActiveSessions() {
	Init()
	activeSessions.Dec()
}

// ObservePacingDelay records the duration of a pacing wait.
func ObservePacingDelay(host string, duration time.Duration) {
	Init()
	pacingDelaySeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveSnapshotFailure counts a failed snapshot upload.
func ObserveSnapshotFailure() {
	Init()
	snapshotFailuresTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
