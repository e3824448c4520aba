// Package metrics provides Prometheus metrics for podharvest.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "podharvest"

var (
	// SummaryRequestsTotal counts summarization calls by role and final outcome.
	SummaryRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summary_requests_total",
			Help:      "Total number of summarization requests",
		},
		[]string{"role", "status"},
	)

	// SummaryRetriesTotal counts retried summarization attempts.
	SummaryRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summary_retries_total",
			Help:      "Total number of retried summarization attempts",
		},
		[]string{"role"},
	)

	// SummaryDuration measures one summarization attempt.
	SummaryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "summary_duration_seconds",
			Help:      "Duration of summarization attempts in seconds",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 60, 120},
		},
		[]string{"role"},
	)

	// ChunkSummariesTotal counts chunk summaries by where they came from.
	ChunkSummariesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_summaries_total",
			Help:      "Chunk summaries produced, by source (cached, service, failed)",
		},
		[]string{"source"},
	)

	// ItemsSummarizedTotal counts pipeline results per item.
	ItemsSummarizedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_summarized_total",
			Help:      "Items processed by the summarization pipeline, by result",
		},
		[]string{"result"},
	)

	// PlannedFetchItems observes the size of each fetch plan.
	PlannedFetchItems = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "planned_fetch_items",
			Help:      "Distribution of fetch plan sizes",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
		},
		[]string{"channel"},
	)

	// ChannelRunsTotal counts channel harvest runs by status.
	ChannelRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_runs_total",
			Help:      "Total number of channel harvest runs",
		},
		[]string{"status"},
	)

	// DiscoveryProbesTotal counts per-item metadata probes.
	DiscoveryProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discovery_probes_total",
			Help:      "Per-item discovery probes, by outcome (ok, timeout, error, excluded)",
		},
		[]string{"outcome"},
	)

	// TasksTotal counts background tasks reaching a terminal state.
	TasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Background tasks by kind and terminal status",
		},
		[]string{"kind", "status"},
	)

	// ErrorsTotal counts errors by operation and type.
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of errors",
		},
		[]string{"operation", "error_type"},
	)
)

// RecordSummaryAttempt records one call to the summarization service.
func RecordSummaryAttempt(role string, duration float64) {
	SummaryDuration.WithLabelValues(role).Observe(duration)
}

// RecordSummaryResult records the final outcome after retries.
func RecordSummaryResult(role, status string) {
	SummaryRequestsTotal.WithLabelValues(role, status).Inc()
}

// RecordRetry records a retried attempt.
func RecordRetry(role string) {
	SummaryRetriesTotal.WithLabelValues(role).Inc()
}

// RecordChunkSummary records where a chunk summary came from.
func RecordChunkSummary(source string) {
	ChunkSummariesTotal.WithLabelValues(source).Inc()
}

// RecordItem records a pipeline result for one item.
func RecordItem(result string) {
	ItemsSummarizedTotal.WithLabelValues(result).Inc()
}

// RecordPlan records the size of a fetch plan.
func RecordPlan(channel string, size int) {
	PlannedFetchItems.WithLabelValues(channel).Observe(float64(size))
}

// RecordChannelRun records a finished channel run.
func RecordChannelRun(status string) {
	ChannelRunsTotal.WithLabelValues(status).Inc()
}

// RecordProbe records a discovery probe outcome.
func RecordProbe(outcome string) {
	DiscoveryProbesTotal.WithLabelValues(outcome).Inc()
}

// RecordTask records a background task reaching a terminal state.
func RecordTask(kind, status string) {
	TasksTotal.WithLabelValues(kind, status).Inc()
}

// RecordError records an error.
func RecordError(operation, errorType string) {
	ErrorsTotal.WithLabelValues(operation, errorType).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
