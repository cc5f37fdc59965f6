// Package metrics declares the Prometheus collectors shared by the batch
// jobs and the query server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ModelCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "model_calls_total",
			Help: "Model service calls by provider, operation and outcome",
		},
		[]string{"provider", "operation", "outcome"},
	)

	ModelCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "model_call_duration_seconds",
			Help:    "Latency of model service calls",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"provider", "operation"},
	)

	ModelTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "model_tokens_total",
			Help: "Tokens consumed by source and direction",
		},
		[]string{"source", "direction"},
	)

	Retries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "model_retries_total",
			Help: "Retried model calls by service and reason",
		},
		[]string{"service", "reason"},
	)

	RowsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batch_rows_total",
			Help: "Rows handled by the offline jobs",
		},
		[]string{"job", "outcome"},
	)

	TierHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retrieval_tier_hits_total",
			Help: "Queries resolved per retrieval tier",
		},
		[]string{"tier"},
	)

	StreamsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_streams_active",
			Help: "Answer streams currently open",
		},
	)

	StreamOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_streams_total",
			Help: "Finished answer streams by outcome",
		},
		[]string{"outcome"},
	)
)

// ObserveCall records one model call and its latency.
func ObserveCall(provider, operation string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	ModelCalls.WithLabelValues(provider, operation, outcome).Inc()
	ModelCallDuration.WithLabelValues(provider, operation).Observe(time.Since(start).Seconds())
}

// AddTokens adds the token usage of one call under source.
func AddTokens(source string, prompt, completion int) {
	if prompt > 0 {
		ModelTokens.WithLabelValues(source, "prompt").Add(float64(prompt))
	}
	if completion > 0 {
		ModelTokens.WithLabelValues(source, "completion").Add(float64(completion))
	}
}
