// Package metrics exposes Prometheus collectors for gateway outcomes.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stalegate"

var (
	requestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of requests handled by the gateway",
		},
		[]string{"method", "code"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of requests handled by the gateway",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	cacheOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_outcomes_total",
			Help:      "Cache outcome per GET request",
		},
		[]string{"outcome"},
	)

	cacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_errors_total",
			Help:      "Total number of cache operation errors",
		},
		[]string{"operation"}, // "probe", "read", "write"
	)

	upstreamErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "Transport failures talking to the backend",
		},
		[]string{"reason"}, // "timeout", "transport"
	)

	rejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_requests_total",
			Help:      "Requests rejected by admission control",
		},
	)
)

// Handler returns the Prometheus exposition handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func ObserveRequest(method, code string, d time.Duration) {
	requestTotal.WithLabelValues(method, code).Inc()
	requestDuration.WithLabelValues(method).Observe(d.Seconds())
}

func IncCacheOutcome(outcome string) {
	cacheOutcomes.WithLabelValues(outcome).Inc()
}

func IncCacheError(operation string) {
	cacheErrors.WithLabelValues(operation).Inc()
}

func IncUpstreamError(reason string) {
	upstreamErrors.WithLabelValues(reason).Inc()
}

func IncRejected() {
	rejected.Inc()
}
