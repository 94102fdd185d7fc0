// Package metrics exposes Prometheus collectors for the crawl engine.
package metrics

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlPagesTotal           *prometheus.CounterVec
	crawlFetchDurationSeconds *prometheus.HistogramVec
	crawlActiveWorkers        prometheus.Gauge
	crawlFrontierPending      prometheus.Gauge
	broadcastDroppedTotal     prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		crawlPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawl_pages_total",
				Help: "Total pages processed, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		crawlFetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawl_fetch_duration_seconds",
				Help:    "Histogram of page fetch latencies, labeled by render mode.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"mode"},
		)

		crawlActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawl_active_workers",
				Help: "Number of workers currently processing a page.",
			},
		)

		crawlFrontierPending = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawl_frontier_pending",
				Help: "Number of entries waiting in the frontier.",
			},
		)

		broadcastDroppedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "broadcast_dropped_records_total",
				Help: "Total records dropped because a subscriber fell behind.",
			},
		)
	})
}

// SanitizeSite reduces a URL to a lowercase hostname label, or "unknown".
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

// Handler returns the http.Handler that serves the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage records one processed page with its render mode and latency.
func ObservePage(site, outcome, mode string, duration time.Duration) {
	if crawlPagesTotal == nil {
		return
	}
	crawlPagesTotal.WithLabelValues(SanitizeSite(site), outcome).Inc()
	crawlFetchDurationSeconds.WithLabelValues(mode).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	if crawlActiveWorkers != nil {
		crawlActiveWorkers.Inc()
	}
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	if crawlActiveWorkers != nil {
		crawlActiveWorkers.Dec()
	}
}

// SetFrontierPending records the current frontier length.
func SetFrontierPending(n int) {
	if crawlFrontierPending != nil {
		crawlFrontierPending.Set(float64(n))
	}
}

// ObserveBroadcastDrop counts a record lost to a lagging subscriber.
func ObserveBroadcastDrop() {
	if broadcastDroppedTotal != nil {
		broadcastDroppedTotal.Inc()
	}
}
