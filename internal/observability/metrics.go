// Package observability holds the Prometheus instrumentation shared by the
// tile engine and the HTTP surface.
package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

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

	tilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tiles_total",
			Help: "Tiles produced by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	tileDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tile_duration_seconds",
			Help:    "End-to-end duration of tile production in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"kind"},
	)

	mosaicSources = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mosaic_sources",
			Help:    "Number of source tiles feeding one cross-profile mosaic.",
			Buckets: []float64{1, 2, 3, 4, 6, 8, 12, 16, 24, 32},
		},
	)

	driverLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "driver_latency_seconds",
			Help:    "Latency of data driver calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"op"},
	)

	cacheOpSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cache_op_seconds",
			Help:    "Latency of remote tile cache operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op", "ok"},
	)

	cacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_results_total",
			Help: "Tile cache results by tier and outcome.",
		},
		[]string{"tier", "outcome"},
	)

	invalidationMsgs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invalidation_messages_total",
			Help: "Invalidation messages consumed, by outcome.",
		},
		[]string{"outcome"},
	)

	invalidationKeys = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "invalidation_keys_deleted_total",
			Help: "Cached tile keys deleted by invalidation events.",
		},
	)

	invalidationLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "invalidation_lag_seconds",
			Help: "Age of the most recently consumed invalidation message.",
		},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)
)

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

// ObserveTile records one tile production attempt. Kind is "elevation" or
// "imagery"; outcome is the layer status string or "empty"/"ok".
func ObserveTile(kind, outcome string, durationSeconds float64) {
	tilesTotal.WithLabelValues(kind, outcome).Inc()
	tileDurationSeconds.WithLabelValues(kind).Observe(durationSeconds)
}

func ObserveMosaicSources(n int) {
	mosaicSources.Observe(float64(n))
}

func ObserveDriver(op string, durationSeconds float64) {
	driverLatencySeconds.WithLabelValues(op).Observe(durationSeconds)
}

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	ok := "true"
	if err != nil {
		ok = "false"
	}
	cacheOpSeconds.WithLabelValues(op, ok).Observe(durationSeconds)
}

func IncCacheHit(tier string) {
	cacheResults.WithLabelValues(tier, "hit").Inc()
}

func IncCacheMiss(tier string) {
	cacheResults.WithLabelValues(tier, "miss").Inc()
}

func ObserveInvalidation(err error, keysDeleted int) {
	if err != nil {
		invalidationMsgs.WithLabelValues("error").Inc()
		return
	}
	invalidationMsgs.WithLabelValues("ok").Inc()
	invalidationKeys.Add(float64(keysDeleted))
}

func IncInvalidationSkipped() {
	invalidationMsgs.WithLabelValues("skip_version").Inc()
}

func SetInvalidationLagSeconds(lag float64) {
	invalidationLag.Set(lag)
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
