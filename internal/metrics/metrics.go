// Package metrics exposes Prometheus collectors for the scraper service.
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
	scraperPagesTotal              *prometheus.CounterVec
	scraperBytesTotal              *prometheus.CounterVec
	scraperFetchDurationSeconds    *prometheus.HistogramVec
	scraperRobotsDecisionsTotal    *prometheus.CounterVec
	scraperPolitenessWaitSeconds   *prometheus.HistogramVec
	scraperExtractorFailuresTotal  *prometheus.CounterVec
	scraperHeadlessPromotionsTotal prometheus.Counter
	httpRequestsTotal              *prometheus.CounterVec
	httpRequestDurationSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		scraperPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_pages_total",
				Help: "Total number of scraped pages, labeled by site and outcome.",
			},
			[]string{"site", "status"},
		)

		scraperBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_bytes_total",
				Help: "Total number of document bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		scraperFetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraper_fetch_duration_seconds",
				Help:    "Histogram of fetch latencies, labeled by fetcher.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"fetcher"},
		)

		scraperRobotsDecisionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_robots_decisions_total",
				Help: "Total robots.txt decisions, labeled by decision (allowed, denied, fail_open).",
			},
			[]string{"decision"},
		)

		scraperPolitenessWaitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraper_politeness_wait_seconds",
				Help:    "Histogram of per-origin politeness waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
		)

		scraperExtractorFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_extractor_failures_total",
				Help: "Total recovered extractor failures, labeled by extractor.",
			},
			[]string{"extractor"},
		)

		scraperHeadlessPromotionsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scraper_headless_promotions_total",
				Help: "Total static fetches re-rendered with the headless browser.",
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

// ObservePage counts one scraped page and the bytes it carried.
func ObservePage(site string, success bool, bytesFetched int) {
	Init()
	status := "success"
	if !success {
		status = "failure"
	}
	sanitizedSite := SanitizeSite(site)
	scraperPagesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		scraperBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveFetch records how long a fetcher took.
func ObserveFetch(fetcher string, duration time.Duration) {
	Init()
	scraperFetchDurationSeconds.WithLabelValues(fetcher).Observe(duration.Seconds())
}

// ObserveRobotsDecision counts a robots.txt decision.
func ObserveRobotsDecision(decision string) {
	Init()
	scraperRobotsDecisionsTotal.WithLabelValues(decision).Inc()
}

// ObservePolitenessWait records a per-origin wait.
func ObservePolitenessWait(site string, duration time.Duration) {
	Init()
	scraperPolitenessWaitSeconds.WithLabelValues(SanitizeSite(site)).Observe(duration.Seconds())
}

// ObserveExtractorFailure counts a recovered extractor failure.
func ObserveExtractorFailure(extractor string) {
	Init()
	scraperExtractorFailuresTotal.WithLabelValues(extractor).Inc()
}

// ObserveHeadlessPromotion counts a static fetch re-rendered headlessly.
func ObserveHeadlessPromotion() {
	Init()
	scraperHeadlessPromotionsTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
