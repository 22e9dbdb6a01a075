// Package metrics provides Prometheus-based metrics recording and querying
// for pipeline runs and LLM usage.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder records run and LLM metrics to Prometheus.
type Recorder struct {
	runsCreated     prometheus.Counter
	runsFinished    *prometheus.CounterVec
	stageTotal      *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
	llmRequests     *prometheus.CounterVec
	llmTokens       *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewRecorder creates a recorder registered on the default registry.
func NewRecorder() *Recorder {
	return NewRecorderWith(prometheus.DefaultRegisterer)
}

// NewRecorderWith creates a recorder registered on reg. Each registry can
// hold at most one recorder.
func NewRecorderWith(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		runsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_runs_created_total",
			Help: "Total number of pipeline runs created",
		}),
		runsFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_runs_finished_total",
				Help: "Total number of pipeline runs reaching a stopping point, by outcome",
			},
			[]string{"outcome"},
		),
		stageTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_stage_invocations_total",
				Help: "Total number of stage invocations by stage and status",
			},
			[]string{"stage", "status"},
		),
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_stage_duration_seconds",
				Help:    "Duration of stage invocations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		llmRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_requests_total",
				Help: "Total number of LLM requests by model, run, stage, and status",
			},
			[]string{"model", "run_id", "stage", "status"},
		),
		llmTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_tokens_total",
				Help: "Total number of tokens used in LLM requests",
			},
			[]string{"model", "run_id", "stage", "type"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llm_request_duration_seconds",
				Help:    "Duration of LLM requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model", "stage"},
		),
	}
}

// RecordRunCreated counts a newly created run.
func (r *Recorder) RecordRunCreated() {
	if r == nil {
		return
	}
	r.runsCreated.Inc()
}

// RecordRunFinished counts a run reaching a stopping point.
// Outcome is one of "paused", "completed", or "cancelled".
func (r *Recorder) RecordRunFinished(outcome string) {
	if r == nil {
		return
	}
	r.runsFinished.WithLabelValues(outcome).Inc()
}

// RecordStage records one stage invocation and its duration.
func (r *Recorder) RecordStage(stage string, err error, duration time.Duration) {
	if r == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	r.stageTotal.WithLabelValues(stage, status).Inc()
	r.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordLLMRequest records one LLM request with its token counts.
func (r *Recorder) RecordLLMRequest(model, runID, stage string, promptTokens, completionTokens int, err error, duration time.Duration) {
	if r == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	r.llmRequests.WithLabelValues(model, runID, stage, status).Inc()
	if err == nil {
		r.llmTokens.WithLabelValues(model, runID, stage, "prompt").Add(float64(promptTokens))
		r.llmTokens.WithLabelValues(model, runID, stage, "completion").Add(float64(completionTokens))
	}
	r.requestDuration.WithLabelValues(model, stage).Observe(duration.Seconds())
}
