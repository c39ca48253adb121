package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CacheOperation identifies the cache method being instrumented.
type CacheOperation string

const (
	// CacheOperationLookup records store lookups.
	CacheOperationLookup CacheOperation = "lookup"
	// CacheOperationStore records store writes.
	CacheOperationStore CacheOperation = "store"
	// CacheOperationFetch records remote fetches made on a miss.
	CacheOperationFetch CacheOperation = "fetch"
)

// CacheLookupOutcome captures the result of a cache lookup.
type CacheLookupOutcome string

const (
	// CacheLookupHit indicates a fresh entry was reused.
	CacheLookupHit CacheLookupOutcome = "hit"
	// CacheLookupMiss indicates no entry was present.
	CacheLookupMiss CacheLookupOutcome = "miss"
	// CacheLookupStale indicates an entry was present but older than the caller's TTL.
	CacheLookupStale CacheLookupOutcome = "stale"
	// CacheLookupError indicates the lookup failed and was treated as a miss.
	CacheLookupError CacheLookupOutcome = "error"
)

// CacheStoreOutcome captures the result of a cache store attempt.
type CacheStoreOutcome string

const (
	// CacheStoreStored indicates the entry was persisted.
	CacheStoreStored CacheStoreOutcome = "stored"
	// CacheStoreError indicates the store operation failed.
	CacheStoreError CacheStoreOutcome = "error"
	// CacheStoreSkipped indicates the cache was invalidated while the fetch ran.
	CacheStoreSkipped CacheStoreOutcome = "skipped"
)

// FetchOutcome captures the result of a remote fetch.
type FetchOutcome string

const (
	FetchOK    FetchOutcome = "ok"
	FetchError FetchOutcome = "error"
)

// Recorder publishes Prometheus metrics for cache and card activity.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	cardRenders *prometheus.CounterVec

	cacheOperations *prometheus.CounterVec
	cacheLatency    *prometheus.HistogramVec
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

	cardRenders := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pulse",
		Subsystem: "card",
		Name:      "renders_total",
		Help:      "Card view-models produced, partitioned by data availability.",
	}, []string{"card", "state"})

	cacheOperations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pulse",
		Subsystem: "cache",
		Name:      "operations_total",
		Help:      "API call cache operations.",
	}, []string{"namespace", "operation", "result"})

	cacheLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pulse",
		Subsystem: "cache",
		Name:      "operation_duration_seconds",
		Help:      "Latency distribution for API call cache operations.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"namespace", "operation", "result"})

	reg.MustRegister(cardRenders, cacheOperations, cacheLatency)

	return &Recorder{
		gatherer:        reg,
		handler:         promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		cardRenders:     cardRenders,
		cacheOperations: cacheOperations,
		cacheLatency:    cacheLatency,
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

// Gatherer returns the underlying Prometheus gatherer for tests.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveCardRender counts a produced card view-model.
func (r *Recorder) ObserveCardRender(card, state string) {
	if r == nil {
		return
	}
	r.cardRenders.WithLabelValues(normalizeLabel(card), normalizeLabel(state)).Inc()
}

// ObserveCacheLookup records the result of a cache lookup.
func (r *Recorder) ObserveCacheLookup(namespace string, result CacheLookupOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	resultLabel := string(result)
	if resultLabel == "" {
		resultLabel = string(CacheLookupMiss)
	}
	r.observeCache(normalizeLabel(namespace), CacheOperationLookup, resultLabel, duration)
}

// ObserveCacheStore records the result of a cache store attempt.
func (r *Recorder) ObserveCacheStore(namespace string, result CacheStoreOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	resultLabel := string(result)
	if resultLabel == "" {
		resultLabel = string(CacheStoreError)
	}
	r.observeCache(normalizeLabel(namespace), CacheOperationStore, resultLabel, duration)
}

// ObserveFetch records a remote fetch performed on a cache miss.
func (r *Recorder) ObserveFetch(namespace string, result FetchOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	resultLabel := string(result)
	if resultLabel == "" {
		resultLabel = string(FetchOK)
	}
	r.observeCache(normalizeLabel(namespace), CacheOperationFetch, resultLabel, duration)
}

func (r *Recorder) observeCache(namespace string, operation CacheOperation, result string, duration time.Duration) {
	resLabel := normalizeLabel(result)
	r.cacheOperations.WithLabelValues(namespace, string(operation), resLabel).Inc()
	r.cacheLatency.WithLabelValues(namespace, string(operation), resLabel).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
