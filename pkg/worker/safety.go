package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"foundry/pkg/llm"
	"foundry/pkg/logx"
	"foundry/pkg/proto"
)

// SafetyChecker evaluates the current draft for safety concerns. Unparsable
// generator output fails open to needs_review; it is never treated as safe.
type SafetyChecker struct {
	client llm.LLMClient
	prompt StagePrompt
	logger *logx.Logger
}

// NewSafetyChecker creates a safety checker backed by the given client.
func NewSafetyChecker(client llm.LLMClient, prompt StagePrompt) *SafetyChecker {
	return &SafetyChecker{
		client: client,
		prompt: prompt,
		logger: logx.NewLogger("safety"),
	}
}

// Stage implements the Worker interface.
func (s *SafetyChecker) Stage() proto.Stage { return proto.StageSafety }

// Run implements the Worker interface.
func (s *SafetyChecker) Run(ctx context.Context, st *proto.RunState) (*proto.Update, error) {
	if st.CurrentDraft == "" {
		return nil, fmt.Errorf("safety check requires a draft")
	}

	userMessage := fmt.Sprintf("Evaluate this exercise draft for safety:\n\n%s\n\nProvide your safety assessment as JSON.", st.CurrentDraft)
	req := llm.CompletionRequest{
		Messages: []llm.CompletionMessage{
			llm.NewSystemMessage(s.prompt.System),
			llm.NewUserMessage(userMessage),
		},
		Temperature: s.prompt.Temperature,
		MaxTokens:   s.prompt.MaxTokens,
	}

	resp, err := s.client.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("safety evaluation failed: %w", err)
	}

	assessment := decodeSafety(resp.Content)
	s.logger.Info("Safety level: %s (%d concerns)", assessment.Level, len(assessment.Concerns))

	note := fmt.Sprintf("Safety level: %s", assessment.Level)
	if len(assessment.Concerns) > 0 {
		note += fmt.Sprintf("\nConcerns: %s", strings.Join(assessment.Concerns, "; "))
	}
	if len(assessment.Recommendations) > 0 {
		note += fmt.Sprintf("\nRecommendations: %s", strings.Join(assessment.Recommendations, "; "))
	}

	return &proto.Update{
		Safety: &assessment,
		AppendLog: []proto.LogEntry{{
			Stage:     proto.StageSafety,
			Iteration: st.IterationCount,
			CreatedAt: time.Now().UTC(),
			Note:      note,
		}},
	}, nil
}
