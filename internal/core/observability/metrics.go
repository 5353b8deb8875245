// Package observability holds the process-wide HTTP, upstream and tile store metrics.
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

	upstreamLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream render calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"upstream", "outcome"},
	)

	storeOpTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tile_store_op_total",
			Help: "Tile store operations by backend, op and result.",
		},
		[]string{"backend", "op", "result"},
	)

	storeOpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tile_store_operation_duration_seconds",
			Help:    "Tile store operation latency in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"backend", "op"},
	)

	storeLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tile_store_lookups_total",
			Help: "Tile existence lookups by outcome.",
		},
		[]string{"backend", "outcome"},
	)
)

// Init registers the collectors on reg. Registering on the same registry twice is a no-op.
func Init(reg prometheus.Registerer) error {
	if reg == nil {
		return nil
	}
	for _, c := range []prometheus.Collector{
		httpRequestsTotal,
		httpRequestDurationSeconds,
		upstreamLatencySeconds,
		storeOpTotal,
		storeOpDurationSeconds,
		storeLookups,
	} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream string, err error, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream, result(err)).Observe(durationSeconds)
}

func ObserveStoreOp(backend, op string, err error, durationSeconds float64) {
	storeOpTotal.WithLabelValues(backend, op, result(err)).Inc()
	storeOpDurationSeconds.WithLabelValues(backend, op).Observe(durationSeconds)
}

// AddStoreLookups records existence checks; hits are tiles already present.
func AddStoreLookups(backend string, hits, misses int) {
	if hits > 0 {
		storeLookups.WithLabelValues(backend, "hit").Add(float64(hits))
	}
	if misses > 0 {
		storeLookups.WithLabelValues(backend, "miss").Add(float64(misses))
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
