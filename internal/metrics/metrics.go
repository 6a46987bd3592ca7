// Package metrics exposes Prometheus collectors for the news pipeline.
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
	sourceRunsTotal            *prometheus.CounterVec
	articlesTotal              *prometheus.CounterVec
	imagesTotal                *prometheus.CounterVec
	imagesSweptTotal           prometheus.Counter
	rewriteTokensTotal         *prometheus.CounterVec
	rewriteDurationSeconds     *prometheus.HistogramVec
	runDurationSeconds         prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	activeWorkers              prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		sourceRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newspipe_source_runs_total",
				Help: "Total number of source runs, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		articlesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newspipe_articles_total",
				Help: "Total number of articles reaching a pipeline stage.",
			},
			[]string{"stage"},
		)

		imagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newspipe_images_total",
				Help: "Total number of image captures, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		imagesSweptTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "newspipe_images_swept_total",
				Help: "Total number of stored images removed by the retention sweep.",
			},
		)

		rewriteTokensTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newspipe_rewrite_tokens_total",
				Help: "Total number of tokens consumed by the rewrite model.",
			},
			[]string{"model"},
		)

		rewriteDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "newspipe_rewrite_duration_seconds",
				Help:    "Histogram of rewrite call latencies, labeled by outcome.",
				Buckets: []float64{1, 2, 5, 10, 20, 40, 60, 120},
			},
			[]string{"outcome"},
		)

		runDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "newspipe_run_duration_seconds",
				Help:    "Histogram of full pipeline run durations.",
				Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200},
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

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "newspipe_active_workers",
				Help: "Number of workers currently processing a source.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "newspipe_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
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

// ObserveSourceRun counts a processed source. Outcome is ok, error or skipped.
func ObserveSourceRun(sourceURL, outcome string) {
	sourceRunsTotal.WithLabelValues(SanitizeSite(sourceURL), outcome).Inc()
}

// ObserveArticle counts an article reaching stage.
func ObserveArticle(stage string) {
	articlesTotal.WithLabelValues(stage).Inc()
}

// ObserveImage counts an image capture outcome: stored, cached or default.
func ObserveImage(outcome string) {
	imagesTotal.WithLabelValues(outcome).Inc()
}

// ObserveImagesSwept adds n deleted images.
func ObserveImagesSwept(n int) {
	if n > 0 {
		imagesSweptTotal.Add(float64(n))
	}
}

// ObserveRewrite records a rewrite call and the tokens it used.
func ObserveRewrite(model, outcome string, tokens int, duration time.Duration) {
	rewriteDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
	if tokens > 0 {
		rewriteTokensTotal.WithLabelValues(model).Add(float64(tokens))
	}
}

// ObserveRun records the duration of a full run.
func ObserveRun(duration time.Duration) {
	runDurationSeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
