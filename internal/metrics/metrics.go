// Package metrics exposes Prometheus collectors for the pipeline service.
package metrics

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_pages_total",
			Help: "Total pages processed, labeled by site and outcome.",
		},
		[]string{"site", "outcome"},
	)

	chunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_chunks_total",
			Help: "Total content chunks produced, labeled by disposition.",
		},
		[]string{"disposition"},
	)

	embeddingBatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_embedding_batches_total",
			Help: "Total embedding batches submitted, labeled by result.",
		},
		[]string{"result"},
	)

	embeddingBatchSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipeline_embedding_batch_seconds",
			Help:    "Histogram of embedding batch call latencies.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
	)

	cacheOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_cache_ops_total",
			Help: "Total cache operations, labeled by op and result.",
		},
		[]string{"op", "result"},
	)

	cacheEntriesEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_cache_evictions_total",
			Help: "Total cache entries evicted under LRU pressure.",
		},
	)

	jobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_jobs_total",
			Help: "Total crawl jobs processed, labeled by status.",
		},
		[]string{"status"},
	)

	fetchWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipeline_fetch_workers",
			Help: "Current fetch worker pool target set by the concurrency controller.",
		},
	)

	fetchDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_fetch_duration_seconds",
			Help:    "Histogram of page fetch latencies, labeled by renderer.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 15, 30},
		},
		[]string{"renderer"},
	)
)

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

// ObservePage increments the page counter for a site and outcome.
func ObservePage(site string, outcome string) {
	pagesTotal.WithLabelValues(SanitizeSite(site), outcome).Inc()
}

// ObserveChunk increments the chunk counter for a disposition
// (admitted, duplicate, boilerplate).
func ObserveChunk(disposition string) {
	chunksTotal.WithLabelValues(disposition).Inc()
}

// ObserveEmbeddingBatch records one batch call.
func ObserveEmbeddingBatch(result string, duration time.Duration) {
	embeddingBatchesTotal.WithLabelValues(result).Inc()
	embeddingBatchSeconds.Observe(duration.Seconds())
}

// ObserveCacheOp increments the cache op counter.
func ObserveCacheOp(op string, result string) {
	cacheOpsTotal.WithLabelValues(op, result).Inc()
}

// ObserveCacheEviction increments the eviction counter.
func ObserveCacheEviction() {
	cacheEntriesEvicted.Inc()
}

// ObserveJob increments the job counter for the given status.
func ObserveJob(status string) {
	jobsTotal.WithLabelValues(status).Inc()
}

// SetFetchWorkers records the current worker pool target.
func SetFetchWorkers(n int) {
	fetchWorkers.Set(float64(n))
}

// ObserveFetch records a fetch latency for the given renderer ("static" or
// "headless").
func ObserveFetch(renderer string, duration time.Duration) {
	fetchDurationSeconds.WithLabelValues(renderer).Observe(duration.Seconds())
}
