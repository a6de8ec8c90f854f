package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhooksReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_webhooks_received_total",
		Help: "Inbound webhook calls by endpoint",
	}, []string{"endpoint"})
	EntriesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_entries_processed_total",
		Help: "Tracking entries reconciled and committed",
	})
	EntriesRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_entries_rejected_total",
		Help: "Decoded entries rejected during reconciliation",
	})
	AuthFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_auth_failures_total",
		Help: "Webhook calls rejected by authentication",
	})
	RateLimitHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_rate_limit_hits_total",
		Help: "Webhook calls rejected by the per-address rate limit",
	})
	ParseErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_parse_errors_total",
		Help: "Payloads that failed to decode, by encoding",
	}, []string{"encoding"})
	CommitErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_commit_errors_total",
		Help: "Batch persistence failures",
	})
	ProcessingLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bridge_processing_latency_seconds",
		Help:    "Webhook processing latency per call",
		Buckets: prometheus.DefBuckets,
	})
)

func ObserveProcessingLatency(start time.Time) {
	ProcessingLatency.Observe(time.Since(start).Seconds())
}
