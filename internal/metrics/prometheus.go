package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/adaptive-search/backend/pkg/circuitbreaker"
)

var (
	SearchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "adaptive_search_duration_seconds",
			Help:    "End-to-end search pipeline duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"intent"},
	)

	SearchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adaptive_search_total",
			Help: "Total number of searches by outcome",
		},
		[]string{"status"},
	)

	SearchResultsCount = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "adaptive_search_results_count",
			Help:    "Number of results returned per search",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 10},
		},
	)

	AgentExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adaptive_search_agent_executions_total",
			Help: "Retrieval agent executions by outcome",
		},
		[]string{"agent", "status"},
	)

	AgentDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "adaptive_search_agent_duration_seconds",
			Help:    "Retrieval agent execution time in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"agent"},
	)

	RewriteConfidence = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "adaptive_search_rewrite_confidence",
			Help:    "Query rewrite confidence",
			Buckets: []float64{0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	OptimizationsApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adaptive_search_optimizations_applied_total",
			Help: "Query optimizations applied by type",
		},
		[]string{"type"},
	)

	FeedbackEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adaptive_search_feedback_events_total",
			Help: "Feedback events by learned outcome",
		},
		[]string{"outcome"},
	)

	PatternWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adaptive_search_pattern_writes_total",
			Help: "Background store writes by status",
		},
		[]string{"job", "status"},
	)

	QueueDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "adaptive_search_queue_dropped_total",
			Help: "Background jobs dropped because the queue was full",
		},
	)

	CachedPatterns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "adaptive_search_cached_patterns",
			Help: "Patterns held in the optimizer cache",
		},
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "adaptive_search_active_sessions",
			Help: "Sessions tracked in memory",
		},
	)

	TopicEnhanced = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "adaptive_search_topic_enhanced_total",
			Help: "Searches re-ranked by the topic model",
		},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adaptive_search_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adaptive_search_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	CircuitState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "adaptive_search_circuit_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	Retries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adaptive_search_retries_total",
			Help: "Retried calls to external services and background jobs",
		},
		[]string{"operation"},
	)

	DocumentsIndexed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "adaptive_search_documents_indexed_total",
			Help: "Total documents indexed",
		},
	)
)

var initOnce sync.Once

func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			SearchDuration,
			SearchTotal,
			SearchResultsCount,
			AgentExecutions,
			AgentDuration,
			RewriteConfidence,
			OptimizationsApplied,
			FeedbackEvents,
			PatternWrites,
			QueueDropped,
			CachedPatterns,
			ActiveSessions,
			TopicEnhanced,
			CacheHits,
			CacheMisses,
			CircuitState,
			Retries,
			DocumentsIndexed,
		)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}

// ObserveCircuit is an OnStateChange hook for circuit breakers.
func ObserveCircuit(name string, _ circuitbreaker.State, to circuitbreaker.State) {
	CircuitState.WithLabelValues(name).Set(float64(to))
}

// CountRetry returns a retry hook that counts attempts for operation.
func CountRetry(operation string) func(attempt int, err error) {
	counter := Retries.WithLabelValues(operation)
	return func(int, error) { counter.Inc() }
}
