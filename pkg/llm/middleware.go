package llm

import (
	"context"
	"time"
)

type runIDKey struct{}

// WithRunID tags a context with the run id on whose behalf LLM calls are
// made, so instrumentation can label usage per run.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFrom extracts the run id from a context, or "" when untagged.
func RunIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(runIDKey{}).(string); ok {
		return v
	}
	return ""
}

// UsageRecorder receives per-request usage observations.
type UsageRecorder interface {
	RecordLLMRequest(model, runID, stage string, promptTokens, completionTokens int, err error, duration time.Duration)
}

// InstrumentedClient wraps an LLMClient and records usage per request.
// Token counts come from the local tokenizer so they are available uniformly
// across providers.
type InstrumentedClient struct {
	client   LLMClient
	recorder UsageRecorder
	counter  *TokenCounter
	stage    string
}

// NewInstrumentedClient wraps client with usage recording under the given
// stage label. A nil counter falls back to character-based estimates.
func NewInstrumentedClient(client LLMClient, recorder UsageRecorder, counter *TokenCounter, stage string) *InstrumentedClient {
	return &InstrumentedClient{
		client:   client,
		recorder: recorder,
		counter:  counter,
		stage:    stage,
	}
}

// Complete implements the LLMClient interface.
func (c *InstrumentedClient) Complete(ctx context.Context, in CompletionRequest) (CompletionResponse, error) {
	start := time.Now()
	resp, err := c.client.Complete(ctx, in)

	promptTokens := c.counter.CountRequestTokens(in)
	completionTokens := 0
	if err == nil {
		completionTokens = c.counter.CountTokens(resp.Content)
	}
	c.recorder.RecordLLMRequest(c.client.GetModelName(), RunIDFrom(ctx), c.stage,
		promptTokens, completionTokens, err, time.Since(start))

	return resp, err
}

// GetModelName returns the wrapped client's model name.
func (c *InstrumentedClient) GetModelName() string {
	return c.client.GetModelName()
}
