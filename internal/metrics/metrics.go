// Package metrics exposes Prometheus collectors for the crawl and search service.
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
	crawlerPagesTotal             *prometheus.CounterVec
	crawlerBytesTotal             *prometheus.CounterVec
	crawlerFetchDurationSeconds   *prometheus.HistogramVec
	crawlerRobotsFetchesTotal     *prometheus.CounterVec
	crawlerSessionsTotal          *prometheus.CounterVec
	crawlerActiveWorkers          prometheus.Gauge
	crawlerRateLimitDelaysSeconds *prometheus.HistogramVec
	indexEmbeddingsTotal          *prometheus.CounterVec
	indexEmbedDurationSeconds     prometheus.Histogram
	searchQueriesTotal            *prometheus.CounterVec
	searchDurationSeconds         prometheus.Histogram
	searchSummariesTotal          *prometheus.CounterVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "konduit_pages_total",
				Help: "Total number of page visits, labeled by site and fetch status.",
			},
			[]string{"site", "status"},
		)

		crawlerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "konduit_bytes_total",
				Help: "Total number of body bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		crawlerFetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "konduit_fetch_duration_seconds",
				Help:    "Histogram of page fetch latencies, labeled by fetch status.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"status"},
		)

		crawlerRobotsFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "konduit_robots_fetches_total",
				Help: "Total robots.txt retrievals, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		crawlerSessionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "konduit_sessions_total",
				Help: "Total number of crawl sessions finished, labeled by status.",
			},
			[]string{"status"},
		)

		crawlerActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "konduit_active_workers",
				Help: "Number of crawl workers currently processing a URL.",
			},
		)

		crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "konduit_rate_limit_delays_seconds",
				Help:    "Histogram of politeness wait durations.",
				Buckets: []float64{0.1, 0.2, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		indexEmbeddingsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "konduit_embeddings_total",
				Help: "Total chunk embeddings requested, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		indexEmbedDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "konduit_embed_batch_duration_seconds",
				Help:    "Histogram of embedding batch latencies.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
		)

		searchQueriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "konduit_search_queries_total",
				Help: "Total search queries, labeled by ranking mode.",
			},
			[]string{"mode"},
		)

		searchDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "konduit_search_duration_seconds",
				Help:    "Histogram of end-to-end search latencies.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
		)

		searchSummariesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "konduit_summaries_total",
				Help: "Total summarization attempts, labeled by outcome.",
			},
			[]string{"outcome"},
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

// ObserveFetch records one page visit.
func ObserveFetch(site, status string, bytesFetched int, duration time.Duration) {
	Init()
	sanitizedSite := SanitizeSite(site)
	crawlerPagesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		crawlerBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
	crawlerFetchDurationSeconds.WithLabelValues(status).Observe(duration.Seconds())
}

// ObserveRobotsFetch counts a robots.txt retrieval by outcome.
func ObserveRobotsFetch(outcome string) {
	Init()
	crawlerRobotsFetchesTotal.WithLabelValues(outcome).Inc()
}

// ObserveSession counts a finished crawl session.
func ObserveSession(status string) {
	Init()
	crawlerSessionsTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	crawlerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	crawlerActiveWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a politeness wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	crawlerRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveEmbedBatch records one embedding batch call.
func ObserveEmbedBatch(size int, duration time.Duration, err error) {
	Init()
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	indexEmbeddingsTotal.WithLabelValues(outcome).Add(float64(size))
	indexEmbedDurationSeconds.Observe(duration.Seconds())
}

// ObserveSearch records one ranked search.
func ObserveSearch(degraded bool, duration time.Duration) {
	Init()
	mode := "hybrid"
	if degraded {
		mode = "keyword_only"
	}
	searchQueriesTotal.WithLabelValues(mode).Inc()
	searchDurationSeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveSummary counts one summarization attempt.
func ObserveSummary(err error) {
	Init()
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	searchSummariesTotal.WithLabelValues(outcome).Inc()
}
