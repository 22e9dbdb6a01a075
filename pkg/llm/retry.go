package llm

import (
	"context"
	"math"
	"math/rand"
	"time"

	"foundry/pkg/llm/llmerrors"
	"foundry/pkg/logx"
)

// RetryableClient wraps an LLMClient with classified retry logic. The retry
// schedule comes from the error's type: rate limits back off longer than
// transient network blips, and auth or prompt errors fail immediately.
type RetryableClient struct {
	client LLMClient
	logger *logx.Logger
}

// NewRetryableClient creates a retryable wrapper around client.
func NewRetryableClient(client LLMClient) *RetryableClient {
	return &RetryableClient{
		client: client,
		logger: logx.NewLogger("llm-retry"),
	}
}

// Complete implements LLMClient with per-error-type retry.
func (r *RetryableClient) Complete(ctx context.Context, in CompletionRequest) (CompletionResponse, error) {
	var lastErr *llmerrors.Error
	attempt := 0

	for {
		resp, err := r.client.Complete(ctx, in)
		if err == nil {
			return resp, nil
		}

		classified := asClassified(err)
		lastErr = classified

		if !classified.IsRetryable() {
			return CompletionResponse{}, classified
		}

		cfg := classified.GetRetryConfig()
		if attempt >= cfg.MaxRetries {
			break
		}

		delay := backoffDelay(cfg, attempt)
		r.logger.Warn("LLM call failed (%s), retry %d/%d in %v: %v",
			classified.Type, attempt+1, cfg.MaxRetries, delay, err)

		select {
		case <-ctx.Done():
			return CompletionResponse{}, ctx.Err()
		case <-time.After(delay):
		}
		attempt++
	}

	return CompletionResponse{}, llmerrors.NewServiceUnavailableError(lastErr, attempt)
}

// GetModelName returns the wrapped client's model name.
func (r *RetryableClient) GetModelName() string {
	return r.client.GetModelName()
}

// asClassified returns err as a classified error, classifying it if the
// provider did not already do so.
func asClassified(err error) *llmerrors.Error {
	if classified, ok := err.(*llmerrors.Error); ok {
		return classified
	}
	return classifyError(err)
}

// backoffDelay computes the exponential backoff delay for the given attempt.
func backoffDelay(cfg llmerrors.RetryConfig, attempt int) time.Duration {
	delay := time.Duration(float64(cfg.InitialDelay) * math.Pow(cfg.BackoffFactor, float64(attempt)))
	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	if cfg.Jitter && delay > 0 {
		jitter := time.Duration(rand.Int63n(int64(delay) / 5)) // up to 20%
		delay += jitter - time.Duration(int64(delay)/10)
	}
	if delay < 0 {
		delay = cfg.InitialDelay
	}
	return delay
}
