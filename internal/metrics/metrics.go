package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CacheOperation identifies the result cache method being instrumented.
type CacheOperation string

const (
	// CacheOperationLookup records result cache lookups.
	CacheOperationLookup CacheOperation = "lookup"
	// CacheOperationStore records result cache writes.
	CacheOperationStore CacheOperation = "store"
	// CacheOperationEvict records expired-entry sweeps.
	CacheOperationEvict CacheOperation = "evict"
)

// CacheLookupOutcome captures the result of a cache lookup.
type CacheLookupOutcome string

const (
	CacheLookupHit   CacheLookupOutcome = "hit"
	CacheLookupMiss  CacheLookupOutcome = "miss"
	CacheLookupError CacheLookupOutcome = "error"
)

// CacheStoreOutcome captures the result of a cache write.
type CacheStoreOutcome string

const (
	CacheStoreStored CacheStoreOutcome = "stored"
	// CacheStoreQuota indicates the write was refused for capacity even
	// after expired entries were evicted.
	CacheStoreQuota CacheStoreOutcome = "quota"
	CacheStoreError CacheStoreOutcome = "error"
)

// LimiterDecision captures a limiter admission result.
type LimiterDecision string

const (
	LimiterAdmitted LimiterDecision = "admitted"
	LimiterDenied   LimiterDecision = "denied"
)

// Recorder publishes Prometheus metrics for governor activity.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	searchRequests *prometheus.CounterVec
	searchLatency  *prometheus.HistogramVec

	cacheOperations *prometheus.CounterVec
	cacheLatency    *prometheus.HistogramVec
	cacheEvicted    prometheus.Counter

	limiterDecisions *prometheus.CounterVec
	limiterRemaining prometheus.Gauge

	favoriteToggles *prometheus.CounterVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a dedicated
// registry is created so multiple recorders can coexist without conflicting with
// the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	searchRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recipectl",
		Subsystem: "search",
		Name:      "requests_total",
		Help:      "Total searches handled by the governor.",
	}, []string{"outcome", "from_cache"})

	searchLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "recipectl",
		Subsystem: "search",
		Name:      "duration_seconds",
		Help:      "Latency distribution for completed searches.",
		Buckets:   []float64{0.001, 0.005, 0.025, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"outcome"})

	cacheOperations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recipectl",
		Subsystem: "cache",
		Name:      "operations_total",
		Help:      "Result cache operations executed by the governor.",
	}, []string{"operation", "result"})

	cacheLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "recipectl",
		Subsystem: "cache",
		Name:      "operation_duration_seconds",
		Help:      "Latency distribution for result cache operations.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
	}, []string{"operation", "result"})

	cacheEvicted := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "recipectl",
		Subsystem: "cache",
		Name:      "evicted_entries_total",
		Help:      "Expired result cache entries removed by sweeps.",
	})

	limiterDecisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recipectl",
		Subsystem: "limiter",
		Name:      "decisions_total",
		Help:      "Client-side rate limiter admission decisions.",
	}, []string{"decision"})

	limiterRemaining := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "recipectl",
		Subsystem: "limiter",
		Name:      "remaining_requests",
		Help:      "Requests still available in the current window after the last decision.",
	})

	favoriteToggles := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recipectl",
		Subsystem: "favorites",
		Name:      "toggles_total",
		Help:      "Favorite toggles by resulting action.",
	}, []string{"action"})

	reg.MustRegister(searchRequests, searchLatency, cacheOperations, cacheLatency, cacheEvicted,
		limiterDecisions, limiterRemaining, favoriteToggles)

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return &Recorder{
		gatherer:         reg,
		handler:          handler,
		searchRequests:   searchRequests,
		searchLatency:    searchLatency,
		cacheOperations:  cacheOperations,
		cacheLatency:     cacheLatency,
		cacheEvicted:     cacheEvicted,
		limiterDecisions: limiterDecisions,
		limiterRemaining: limiterRemaining,
		favoriteToggles:  favoriteToggles,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests and advanced
// integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveSearch records the outcome and latency of a completed search.
func (r *Recorder) ObserveSearch(outcome string, fromCache bool, duration time.Duration) {
	if r == nil {
		return
	}
	outcomeLabel := normalizeLabel(outcome)
	cacheLabel := "false"
	if fromCache {
		cacheLabel = "true"
	}
	r.searchRequests.WithLabelValues(outcomeLabel, cacheLabel).Inc()
	r.searchLatency.WithLabelValues(outcomeLabel).Observe(duration.Seconds())
}

// ObserveCacheLookup records the result of a cache lookup.
func (r *Recorder) ObserveCacheLookup(result CacheLookupOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	resultLabel := string(result)
	if resultLabel == "" {
		resultLabel = string(CacheLookupMiss)
	}
	r.observeCache(CacheOperationLookup, resultLabel, duration)
}

// ObserveCacheStore records the result of a cache write.
func (r *Recorder) ObserveCacheStore(result CacheStoreOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	resultLabel := string(result)
	if resultLabel == "" {
		resultLabel = string(CacheStoreError)
	}
	r.observeCache(CacheOperationStore, resultLabel, duration)
}

// ObserveCacheEviction records a sweep and how many entries it removed.
func (r *Recorder) ObserveCacheEviction(removed int, duration time.Duration) {
	if r == nil {
		return
	}
	r.observeCache(CacheOperationEvict, "swept", duration)
	if removed > 0 {
		r.cacheEvicted.Add(float64(removed))
	}
}

// ObserveLimiter records an admission decision and the capacity left after it.
func (r *Recorder) ObserveLimiter(decision LimiterDecision, remaining int) {
	if r == nil {
		return
	}
	r.limiterDecisions.WithLabelValues(normalizeLabel(string(decision))).Inc()
	r.limiterRemaining.Set(float64(remaining))
}

// ObserveFavoriteToggle records whether a toggle added or removed a recipe.
func (r *Recorder) ObserveFavoriteToggle(action string) {
	if r == nil {
		return
	}
	r.favoriteToggles.WithLabelValues(normalizeLabel(action)).Inc()
}

func (r *Recorder) observeCache(operation CacheOperation, result string, duration time.Duration) {
	opLabel := string(operation)
	if opLabel == "" {
		opLabel = string(CacheOperationLookup)
	}
	resLabel := normalizeLabel(result)
	r.cacheOperations.WithLabelValues(opLabel, resLabel).Inc()
	r.cacheLatency.WithLabelValues(opLabel, resLabel).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
