package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Global collectors, registered on the default registry through promauto.

var (
	// HttpRequestsTotal counts requests to the ops HTTP server.
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tot_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "path", "status"},
	)

	// HttpRequestDuration measures ops server response time.
	HttpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tot_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)

	// CacheLookupsTotal counts semantic cache searches by outcome (hit, miss).
	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tot_cache_lookups_total",
			Help: "Semantic cache lookups by result",
		},
		[]string{"result"},
	)

	// CacheEntries tracks the number of entries held by the semantic cache.
	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tot_cache_entries",
			Help: "Number of entries in the semantic cache",
		},
	)

	// CacheEvictionsTotal counts entries evicted at capacity.
	CacheEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tot_cache_evictions_total",
			Help: "Semantic cache evictions",
		},
	)

	// CacheSavesTotal counts persistence attempts by outcome (ok, error).
	CacheSavesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tot_cache_saves_total",
			Help: "Semantic cache save attempts by result",
		},
		[]string{"result"},
	)

	// EmbeddingRequestsTotal counts embedding provider calls by outcome (ok, retry, error).
	EmbeddingRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tot_embedding_requests_total",
			Help: "Embedding provider calls by result",
		},
		[]string{"result"},
	)

	// RunsTotal counts finished runs by terminal status and strategy.
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tot_runs_total",
			Help: "Finished runs by terminal status",
		},
		[]string{"status", "strategy"},
	)

	// RunsActive tracks runs currently in the running state.
	RunsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tot_runs_active",
			Help: "Runs currently executing",
		},
	)

	// RunDuration measures wall-clock time of finished runs.
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tot_run_duration_seconds",
			Help:    "Wall-clock duration of finished runs",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"strategy"},
	)

	// NodesExpanded records how many nodes each run expanded.
	NodesExpanded = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tot_run_nodes_expanded",
			Help:    "Nodes expanded per finished run",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)
)
