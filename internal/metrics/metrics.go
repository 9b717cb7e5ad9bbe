// Package metrics registers the pipeline's Prometheus instruments:
// jobs processed per worker kind, LLM call volume and latency, queue
// depth, and reconciliation verdicts (spec.md §6's observability
// surface), grounded on the corpus's direct client_golang usage.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pipeline",
		Name:      "jobs_processed_total",
		Help:      "Jobs processed per queue and outcome.",
	}, []string{"queue", "outcome"})

	LLMCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pipeline",
		Name:      "llm_calls_total",
		Help:      "LLM completion calls per outcome.",
	}, []string{"outcome"})

	LLMCallDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "pipeline",
		Name:      "llm_call_duration_seconds",
		Help:      "LLM completion call latency.",
		Buckets:   prometheus.DefBuckets,
	})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pipeline",
		Name:      "queue_depth",
		Help:      "Approximate number of jobs waiting on a queue.",
	}, []string{"queue"})

	ReconciliationVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pipeline",
		Name:      "reconciliation_verdicts_total",
		Help:      "Reconciliation verdicts by outcome.",
	}, []string{"verdict"})

	GraphBatchesCommitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pipeline",
		Name:      "graph_batches_committed_total",
		Help:      "Graph-store batches committed per kind (node, edge).",
	}, []string{"kind"})
)
