package observability

import (
	"errors"
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mapLabel atomic.Value
	disabled atomic.Bool
)

func init() {
	mapLabel.Store("default")
}

// SetMap sets the map name attached to query metrics.
func SetMap(name string) {
	if name == "" {
		name = "default"
	}
	mapLabel.Store(name)
}

func getMap() string {
	if v := mapLabel.Load(); v != nil {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return "default"
}

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)

	queriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spatial_queries_total",
			Help: "Spatial queries executed, by query type and outcome.",
		},
		[]string{"type", "outcome", "map"},
	)

	queryDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "spatial_query_duration_seconds",
			Help:    "Duration of spatial query execution in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"type", "map"},
	)

	layerResults = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "spatial_query_layer_results",
			Help:    "Number of results left in a layer's result cache after a query.",
			Buckets: []float64{0, 1, 2, 5, 10, 50, 100, 500, 1000, 10000},
		},
		[]string{"type"},
	)

	shapesScanned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spatial_shapes_scanned_total",
			Help: "Candidate shapes read from layer sources.",
		},
		[]string{"strategy"},
	)

	cacheBudgetHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spatial_shape_cache_budget_hits_total",
			Help: "Times a query stopped materializing shapes because a budget was exhausted.",
		},
		[]string{"budget"},
	)

	persistOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spatial_query_persist_total",
			Help: "Saved query file operations by kind, direction and outcome.",
		},
		[]string{"kind", "op", "outcome"},
	)

	persistDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "spatial_query_persist_duration_seconds",
			Help:    "Duration of saved query file operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"kind", "op"},
	)

	redisOpDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Duration of Redis operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0002, 2, 14),
		},
		[]string{"op", "outcome"},
	)

	eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spatial_query_events_total",
			Help: "Query events handed to the publisher, by outcome.",
		},
		[]string{"outcome"},
	)
)

func collectorsList() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal, httpRequestDurationSeconds, buildInfo,
		queriesTotal, queryDurationSeconds, layerResults, shapesScanned,
		cacheBudgetHits, persistOps, persistDurationSeconds, redisOpDurationSeconds, eventsTotal,
	}
}

// Init also registers every metric with reg, so a custom registry serves
// them next to the default one. enabled=false turns every helper into a
// no-op.
func Init(reg prometheus.Registerer, enabled bool) {
	disabled.Store(!enabled)
	if reg == nil || !enabled {
		return
	}
	for _, c := range collectorsList() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	if disabled.Load() {
		return
	}
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveQuery(queryType, outcome string, durationSeconds float64) {
	if disabled.Load() {
		return
	}
	m := getMap()
	queriesTotal.WithLabelValues(queryType, outcome, m).Inc()
	queryDurationSeconds.WithLabelValues(queryType, m).Observe(durationSeconds)
}

func ObserveLayerResults(queryType string, n int) {
	if disabled.Load() {
		return
	}
	layerResults.WithLabelValues(queryType).Observe(float64(n))
}

func IncShapesScanned(strategy string) {
	if disabled.Load() {
		return
	}
	shapesScanned.WithLabelValues(strategy).Inc()
}

// IncCacheBudgetHit records a shape cache budget being reached. budget is
// "count" or "ram".
func IncCacheBudgetHit(budget string) {
	if disabled.Load() {
		return
	}
	cacheBudgetHits.WithLabelValues(budget).Inc()
}

// ObservePersist records a save or load of a params or results file.
func ObservePersist(kind, op string, err error, durationSeconds float64) {
	if disabled.Load() {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	persistOps.WithLabelValues(kind, op, outcome).Inc()
	persistDurationSeconds.WithLabelValues(kind, op).Observe(durationSeconds)
}

func ObserveRedisOp(op string, err error, durationSeconds float64) {
	if disabled.Load() {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	redisOpDurationSeconds.WithLabelValues(op, outcome).Observe(durationSeconds)
}

// IncEvent records a query event as "sent", "dropped" or "failed".
func IncEvent(outcome string) {
	if disabled.Load() {
		return
	}
	eventsTotal.WithLabelValues(outcome).Inc()
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
