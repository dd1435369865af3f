// Package monitor exposes Prometheus metrics for the proxy.
package monitor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cheaprelay_requests_total",
		Help: "Inbound chat-completion requests by terminal status.",
	}, []string{"status"})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cheaprelay_request_duration_seconds",
		Help:    "End-to-end latency of chat-completion requests.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	dispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cheaprelay_dispatch_total",
		Help: "Provider dispatches by provider and model.",
	}, []string{"provider", "model"})

	costUSD = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cheaprelay_cost_usd_total",
		Help: "Accumulated provider spend in USD.",
	}, []string{"provider", "model"})

	tokensSaved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cheaprelay_tokens_saved_total",
		Help: "Tokens removed by prompt compression.",
	})

	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cheaprelay_cache_hits_total",
		Help: "Responses served from the short-lived cache.",
	})
)

// RecordRequest counts a finished request.
func RecordRequest(status string, elapsed time.Duration) {
	requestsTotal.WithLabelValues(status).Inc()
	requestDuration.Observe(elapsed.Seconds())
}

// RecordDispatch counts one provider call and its spend.
func RecordDispatch(provider, model string, cost float64, saved int) {
	dispatchTotal.WithLabelValues(provider, model).Inc()
	if cost > 0 {
		costUSD.WithLabelValues(provider, model).Add(cost)
	}
	if saved > 0 {
		tokensSaved.Add(float64(saved))
	}
}

// RecordCacheHit counts a cache-served response.
func RecordCacheHit() {
	cacheHits.Inc()
}
