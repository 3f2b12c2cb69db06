package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solver_node_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "solver_node_request_duration_seconds",
			Help: "HTTP request duration in seconds",
		},
		[]string{"method", "endpoint"},
	)

	GenerationLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "solver_node_generation_latency_seconds",
			Help: "Text generation latency in seconds",
		},
	)

	SolutionCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "solver_node_solution_cache_hits_total",
			Help: "Solutions reused from the shared store",
		},
	)

	SolutionCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "solver_node_solution_cache_misses_total",
			Help: "Waits on the shared store that timed out or found nothing",
		},
	)

	SolutionPublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "solver_node_solution_publish_failures_total",
			Help: "Failed publishes of computed solutions to the shared store",
		},
	)

	ExtractionFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "solver_node_extraction_fallbacks_total",
			Help: "Responses that required brace-matching fallback or raw passthrough",
		},
	)
)
