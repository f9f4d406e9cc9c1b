// Package observability holds the service's Prometheus collectors and the
// helpers that update them.
package observability

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "insight_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)

	insightResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insight_cache_results_total",
			Help: "Executive insight lookups by outcome.",
		},
		[]string{"outcome"},
	)

	generationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "insight_generation_seconds",
			Help:    "Latency of one generator attempt.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
		[]string{"result"},
	)

	validationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insight_validation_failures_total",
			Help: "Generated payloads rejected by the schema validator, by rule.",
		},
		[]string{"rule"},
	)

	sharedFlights = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "insight_singleflight_shared_total",
			Help: "Callers that received the result of another caller's in-flight generation.",
		},
	)

	cacheOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_op_total",
			Help: "Cache store operations by result.",
		},
		[]string{"op", "result"},
	)

	storeOpSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_operation_duration_seconds",
			Help:    "Latency of cache store operations.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"driver", "op"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal,
		httpRequestDurationSeconds,
		buildInfo,
		insightResults,
		generationSeconds,
		validationFailures,
		sharedFlights,
		cacheOps,
		storeOpSeconds,
	}
}

// Init registers the collectors on reg. Registering twice on the same
// registry is a no-op.
func Init(reg prometheus.Registerer) {
	if reg == nil {
		return
	}
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			panic(err)
		}
	}
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

// outcome is one of hit, miss, refresh, failed, store_error
func IncInsightResult(outcome string) {
	insightResults.WithLabelValues(outcome).Inc()
}

// result is one of ok, invalid, error
func ObserveGeneration(result string, durationSeconds float64) {
	generationSeconds.WithLabelValues(result).Observe(durationSeconds)
}

func IncValidationFailure(rule string) {
	if rule == "" {
		rule = "unknown"
	}
	validationFailures.WithLabelValues(rule).Inc()
}

func IncSharedFlight() {
	sharedFlights.Inc()
}

func ObserveStoreOp(driver, op string, err error, durationSeconds float64) {
	res := "ok"
	if err != nil {
		res = "error"
	}
	cacheOps.WithLabelValues(op, res).Inc()
	storeOpSeconds.WithLabelValues(driver, op).Observe(durationSeconds)
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
