package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// RunMetrics represents aggregated LLM usage for one run.
type RunMetrics struct {
	RunID            string `json:"run_id"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
	TotalTokens      int64  `json:"total_tokens"`
	Requests         int64  `json:"requests"`
}

// QueryService queries aggregated run metrics back out of Prometheus.
type QueryService struct {
	queryAPI v1.API
}

// NewQueryService creates a query service against the given Prometheus URL.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{Address: prometheusURL})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}
	return &QueryService{queryAPI: v1.NewAPI(client)}, nil
}

// GetRunMetrics retrieves aggregated token usage for a specific run across
// all stages.
func (q *QueryService) GetRunMetrics(ctx context.Context, runID string) (*RunMetrics, error) {
	m := &RunMetrics{RunID: runID}

	prompt, err := q.scalarQuery(ctx, fmt.Sprintf(`sum(llm_tokens_total{run_id=%q, type="prompt"})`, runID))
	if err != nil {
		return nil, fmt.Errorf("failed to query prompt tokens: %w", err)
	}
	m.PromptTokens = prompt

	completion, err := q.scalarQuery(ctx, fmt.Sprintf(`sum(llm_tokens_total{run_id=%q, type="completion"})`, runID))
	if err != nil {
		return nil, fmt.Errorf("failed to query completion tokens: %w", err)
	}
	m.CompletionTokens = completion
	m.TotalTokens = m.PromptTokens + m.CompletionTokens

	requests, err := q.scalarQuery(ctx, fmt.Sprintf(`sum(llm_requests_total{run_id=%q})`, runID))
	if err != nil {
		return nil, fmt.Errorf("failed to query request count: %w", err)
	}
	m.Requests = requests

	return m, nil
}

// GetRunMetricsByModel retrieves token usage for a run broken down by model.
func (q *QueryService) GetRunMetricsByModel(ctx context.Context, runID string) (map[string]*RunMetrics, error) {
	result := make(map[string]*RunMetrics)

	modelsResult, _, err := q.queryAPI.Query(ctx,
		fmt.Sprintf(`group by (model) (llm_tokens_total{run_id=%q})`, runID), time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query models: %w", err)
	}

	vector, ok := modelsResult.(model.Vector)
	if !ok {
		return result, nil
	}

	for _, sample := range vector {
		name, ok := sample.Metric["model"]
		if !ok {
			continue
		}
		m := &RunMetrics{RunID: runID}
		m.PromptTokens, err = q.scalarQuery(ctx,
			fmt.Sprintf(`sum(llm_tokens_total{run_id=%q, model=%q, type="prompt"})`, runID, name))
		if err != nil {
			return nil, fmt.Errorf("failed to query prompt tokens for model %s: %w", name, err)
		}
		m.CompletionTokens, err = q.scalarQuery(ctx,
			fmt.Sprintf(`sum(llm_tokens_total{run_id=%q, model=%q, type="completion"})`, runID, name))
		if err != nil {
			return nil, fmt.Errorf("failed to query completion tokens for model %s: %w", name, err)
		}
		m.TotalTokens = m.PromptTokens + m.CompletionTokens
		result[string(name)] = m
	}

	return result, nil
}

func (q *QueryService) scalarQuery(ctx context.Context, query string) (int64, error) {
	result, _, err := q.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		return 0, err
	}
	if vector, ok := result.(model.Vector); ok && len(vector) > 0 {
		return int64(vector[0].Value), nil
	}
	return 0, nil
}
