package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the research analysis service.
// Metrics are organized by subsystem: jobs, stages, events, sources and LLM
// operations. All collectors are registered via promauto with the default
// Prometheus registry.
//
// Every Record method is safe to call on a nil *Metrics, so components can be
// constructed without metrics in tests and tools.
type Metrics struct {
	// JobsSubmitted counts the total number of analysis jobs accepted.
	JobsSubmitted prometheus.Counter

	// JobsCompleted counts the total number of jobs that finished successfully.
	JobsCompleted prometheus.Counter

	// JobsFailed counts failed jobs, labeled by error kind (stage_error, timeout, cancelled).
	JobsFailed *prometheus.CounterVec

	// JobsActive tracks the number of jobs currently executing.
	JobsActive prometheus.Gauge

	// JobDuration observes the end-to-end duration of jobs in seconds.
	JobDuration prometheus.Histogram

	// StageDuration observes stage execution time in seconds, labeled by stage.
	StageDuration *prometheus.HistogramVec

	// StageFailures counts stage failures, labeled by stage.
	StageFailures *prometheus.CounterVec

	// EventsPublished counts progress events published, labeled by event kind.
	EventsPublished *prometheus.CounterVec

	// EventsDropped counts events not delivered to a subscriber because its buffer was full.
	EventsDropped prometheus.Counter

	// SourceRequestsTotal counts searches against document sources, labeled by source and status.
	SourceRequestsTotal *prometheus.CounterVec

	// SourceRequestDuration observes source search duration in seconds, labeled by source.
	SourceRequestDuration *prometheus.HistogramVec

	// DocumentsRetrieved counts documents returned by sources, labeled by source.
	DocumentsRetrieved *prometheus.CounterVec

	// DuplicatesRemoved counts documents collapsed into a cluster representative.
	DuplicatesRemoved prometheus.Counter

	// LLMRequestsTotal counts LLM API requests, labeled by stage and model.
	LLMRequestsTotal *prometheus.CounterVec

	// LLMTokensUsed counts tokens consumed by LLM operations, labeled by stage.
	LLMTokensUsed *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		JobsSubmitted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Total number of analysis jobs submitted",
		}),
		JobsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_completed_total",
			Help:      "Total number of analysis jobs completed successfully",
		}),
		JobsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_failed_total",
			Help:      "Total number of analysis jobs that failed",
		}, []string{"kind"}),
		JobsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_active",
			Help:      "Number of analysis jobs currently executing",
		}),
		JobDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "End-to-end duration of analysis jobs",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		}),
		StageDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of individual pipeline stages",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"stage"}),
		StageFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_failures_total",
			Help:      "Total number of pipeline stage failures",
		}, []string{"stage"}),
		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Total number of progress events published",
		}, []string{"kind"}),
		EventsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Total number of progress events dropped for slow subscribers",
		}),
		SourceRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_total",
			Help:      "Total number of document source searches",
		}, []string{"source", "status"}),
		SourceRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_request_duration_seconds",
			Help:      "Duration of document source searches",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"source"}),
		DocumentsRetrieved: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_retrieved_total",
			Help:      "Total number of documents returned by sources",
		}, []string{"source"}),
		DuplicatesRemoved: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicates_removed_total",
			Help:      "Total number of near-duplicate documents removed",
		}),
		LLMRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of LLM API requests",
		}, []string{"stage", "model"}),
		LLMTokensUsed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_used_total",
			Help:      "Total number of LLM tokens consumed",
		}, []string{"stage"}),
	}
}

// RecordJobSubmitted records a newly accepted job.
func (m *Metrics) RecordJobSubmitted() {
	if m == nil {
		return
	}
	m.JobsSubmitted.Inc()
	m.JobsActive.Inc()
}

// RecordJobCompleted records a successful job and its duration.
func (m *Metrics) RecordJobCompleted(durationSeconds float64) {
	if m == nil {
		return
	}
	m.JobsCompleted.Inc()
	m.JobsActive.Dec()
	m.JobDuration.Observe(durationSeconds)
}

// RecordJobFailed records a failed job, labeled by error kind.
func (m *Metrics) RecordJobFailed(kind string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.JobsFailed.WithLabelValues(kind).Inc()
	m.JobsActive.Dec()
	m.JobDuration.Observe(durationSeconds)
}

// RecordStage records the duration of a stage and whether it failed.
func (m *Metrics) RecordStage(stage string, durationSeconds float64, failed bool) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(durationSeconds)
	if failed {
		m.StageFailures.WithLabelValues(stage).Inc()
	}
}

// RecordEventPublished records a published progress event.
func (m *Metrics) RecordEventPublished(kind string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(kind).Inc()
}

// RecordEventDropped records an event that a subscriber did not receive.
func (m *Metrics) RecordEventDropped() {
	if m == nil {
		return
	}
	m.EventsDropped.Inc()
}

// RecordSourceSearch records a source search outcome.
func (m *Metrics) RecordSourceSearch(source string, documents int, durationSeconds float64, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.SourceRequestsTotal.WithLabelValues(source, status).Inc()
	m.SourceRequestDuration.WithLabelValues(source).Observe(durationSeconds)
	if documents > 0 {
		m.DocumentsRetrieved.WithLabelValues(source).Add(float64(documents))
	}
}

// RecordDuplicatesRemoved records documents collapsed by deduplication.
func (m *Metrics) RecordDuplicatesRemoved(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.DuplicatesRemoved.Add(float64(count))
}

// RecordLLMRequest records a single LLM call and its token usage.
func (m *Metrics) RecordLLMRequest(stage, model string, tokens int) {
	if m == nil {
		return
	}
	m.LLMRequestsTotal.WithLabelValues(stage, model).Inc()
	if tokens > 0 {
		m.LLMTokensUsed.WithLabelValues(stage).Add(float64(tokens))
	}
}
