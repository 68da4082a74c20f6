package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ProviderRequests counts upstream adapter calls by provider, operation and result
var ProviderRequests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "dexroute_provider_requests_total",
		Help: "Total upstream aggregator calls by provider, operation and result",
	},
	[]string{"provider", "operation", "result"},
)

// ProviderLatency records upstream call latency per provider and operation
var ProviderLatency = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "dexroute_provider_latency_seconds",
		Help:    "Latency of upstream aggregator calls",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"provider", "operation"},
)

// Cache metrics, labeled by cache type (first key segment)
var (
	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dexroute_cache_hits_total",
			Help: "Cache hits by cache type",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dexroute_cache_misses_total",
			Help: "Cache misses by cache type",
		},
		[]string{"cache_type"},
	)

	CacheSets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dexroute_cache_sets_total",
			Help: "Cache writes by cache type",
		},
		[]string{"cache_type"},
	)

	CacheErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dexroute_cache_errors_total",
			Help: "Cache backend errors by cache type",
		},
		[]string{"cache_type"},
	)
)

// Coalescer metrics
var (
	CoalescerOriginals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dexroute_coalescer_originals_total",
			Help: "Single-flight factory invocations by cache type",
		},
		[]string{"cache_type"},
	)

	CoalescerDuplicates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dexroute_coalescer_duplicates_total",
			Help: "Requests that joined an in-flight factory by cache type",
		},
		[]string{"cache_type"},
	)

	CoalescerSaved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dexroute_coalescer_requests_saved_total",
			Help: "Upstream calls avoided through coalescing by cache type",
		},
		[]string{"cache_type"},
	)

	CoalescerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dexroute_coalescer_duration_seconds",
			Help:    "Wall time of coalesced factory invocations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"cache_type"},
	)
)

// Circuit breaker metrics
var (
	CircuitTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dexroute_circuit_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"circuit", "to"},
	)

	CircuitState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dexroute_circuit_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"circuit"},
	)

	CircuitOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dexroute_circuit_outcomes_total",
			Help: "Operation outcomes observed through circuit breakers",
		},
		[]string{"circuit", "outcome"},
	)
)

// Route engine metrics
var (
	RoutesServed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dexroute_routes_served_total",
			Help: "Best routes served by winning provider",
		},
		[]string{"provider"},
	)

	RouteLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dexroute_route_latency_seconds",
			Help:    "End-to-end latency of route calculations",
			Buckets: []float64{.01, .025, .05, .1, .2, .35, .5, 1, 2.5, 5},
		},
	)

	SwapsExecuted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dexroute_swaps_executed_total",
			Help: "Swap transactions built by provider and result",
		},
		[]string{"provider", "result"},
	)
)

func init() {
	prometheus.MustRegister(ProviderRequests, ProviderLatency)
	prometheus.MustRegister(CacheHits, CacheMisses, CacheSets, CacheErrors)
	prometheus.MustRegister(CoalescerOriginals, CoalescerDuplicates, CoalescerSaved, CoalescerDuration)
	prometheus.MustRegister(CircuitTransitions, CircuitState, CircuitOutcomes)
	prometheus.MustRegister(RoutesServed, RouteLatency, SwapsExecuted)
}
