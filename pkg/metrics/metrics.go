// Package metrics holds the service's Prometheus collectors on a private
// registry and exposes them via an HTTP /metrics endpoint.
package metrics

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry owns every collector the engines report into.
type Registry struct {
	reg *prometheus.Registry

	// CacheLookups counts semantic cache lookups by result (hit, miss).
	CacheLookups *prometheus.CounterVec
	// CacheWriteFailures counts swallowed cache write errors.
	CacheWriteFailures prometheus.Counter
	// CacheDistance observes the best KNN distance per lookup.
	CacheDistance prometheus.Histogram
	// EmbedDuration observes embedding latency by caller.
	EmbedDuration *prometheus.HistogramVec
	// RecommendResults counts returned recommendations by kind.
	RecommendResults *prometheus.CounterVec
	// DegradedSearches counts per-kind searches that failed and returned nothing.
	DegradedSearches *prometheus.CounterVec
	// HealthContexts counts aggregator runs by outcome (ok, memo, error).
	HealthContexts *prometheus.CounterVec
	// InsightJobs counts insight processing jobs by outcome.
	InsightJobs *prometheus.CounterVec
	// HTTPRequests counts served requests by route and status.
	HTTPRequests *prometheus.CounterVec
	// HTTPDuration observes request latency by route.
	HTTPDuration *prometheus.HistogramVec
}

// New creates a Registry with process and Go runtime collectors registered.
func New() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Registry{
		reg: reg,
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wellness_cache_lookups_total", Help: "Semantic cache lookups by result",
		}, []string{"result"}),
		CacheWriteFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "wellness_cache_write_failures_total", Help: "Cache writes that failed after generation",
		}),
		CacheDistance: f.NewHistogram(prometheus.HistogramOpts{
			Name: "wellness_cache_best_distance", Help: "Best cosine distance returned per cache lookup",
			Buckets: []float64{0.02, 0.05, 0.08, 0.1, 0.15, 0.2, 0.3, 0.5, 1},
		}),
		EmbedDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name: "wellness_embed_duration_seconds", Help: "Embedding call latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"caller"}),
		RecommendResults: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wellness_recommend_results_total", Help: "Recommendations returned by kind",
		}, []string{"kind"}),
		DegradedSearches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wellness_recommend_degraded_total", Help: "Per-kind searches that failed",
		}, []string{"kind"}),
		HealthContexts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wellness_health_context_total", Help: "Health context aggregations by outcome",
		}, []string{"outcome"}),
		InsightJobs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wellness_insight_jobs_total", Help: "Insight processing jobs by outcome",
		}, []string{"outcome"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wellness_http_requests_total", Help: "HTTP requests by route and status",
		}, []string{"route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name: "wellness_http_request_duration_seconds", Help: "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// ObserveSince records the time elapsed since start on h.
func ObserveSince(h prometheus.Observer, start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// Gatherer exposes the underlying registry (tests, custom exporters).
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// Handler returns an http.Handler that serves the metrics endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Serve starts an HTTP server on the given port serving /metrics.
func (r *Registry) Serve(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv.ListenAndServe()
}

// ServeAsync starts the metrics server in a background goroutine.
func (r *Registry) ServeAsync(port int) {
	go func() {
		if err := r.Serve(port); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server", "port", port, "err", err)
		}
	}()
}
