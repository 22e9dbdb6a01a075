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

// QualityChecker scores the current draft against the intent. Unparsable
// generator output fails open to scores below the passing threshold so a
// revision is requested rather than an assumed pass.
type QualityChecker struct {
	client llm.LLMClient
	prompt StagePrompt
	logger *logx.Logger
}

// NewQualityChecker creates a quality checker backed by the given client.
func NewQualityChecker(client llm.LLMClient, prompt StagePrompt) *QualityChecker {
	return &QualityChecker{
		client: client,
		prompt: prompt,
		logger: logx.NewLogger("quality"),
	}
}

// Stage implements the Worker interface.
func (q *QualityChecker) Stage() proto.Stage { return proto.StageQuality }

// Run implements the Worker interface.
func (q *QualityChecker) Run(ctx context.Context, st *proto.RunState) (*proto.Update, error) {
	if st.CurrentDraft == "" {
		return nil, fmt.Errorf("quality check requires a draft")
	}

	userMessage := fmt.Sprintf("Evaluate this exercise draft:\n\nUser Intent: %s\n\nDraft:\n%s\n\nProvide your assessment as JSON.",
		st.Intent, st.CurrentDraft)
	req := llm.CompletionRequest{
		Messages: []llm.CompletionMessage{
			llm.NewSystemMessage(q.prompt.System),
			llm.NewUserMessage(userMessage),
		},
		Temperature: q.prompt.Temperature,
		MaxTokens:   q.prompt.MaxTokens,
	}

	resp, err := q.client.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("quality evaluation failed: %w", err)
	}

	assessment := decodeQuality(resp.Content)
	q.logger.Info("Quality aggregate: %.1f/10", assessment.Aggregate())

	var scoreParts []string
	for _, dim := range []string{DimensionEmpathy, DimensionStructure, DimensionClinical} {
		if score, ok := assessment.DimensionScores[dim]; ok {
			scoreParts = append(scoreParts, fmt.Sprintf("%s %.1f", dim, score))
		}
	}
	note := fmt.Sprintf("Quality scores: %s (aggregate %.1f)", strings.Join(scoreParts, ", "), assessment.Aggregate())
	if assessment.Feedback != "" {
		note += fmt.Sprintf("\nFeedback: %s", assessment.Feedback)
	}
	if len(assessment.Suggestions) > 0 {
		note += fmt.Sprintf("\nSuggestions: %s", strings.Join(assessment.Suggestions, "; "))
	}

	return &proto.Update{
		Quality: &assessment,
		AppendLog: []proto.LogEntry{{
			Stage:     proto.StageQuality,
			Iteration: st.IterationCount,
			CreatedAt: time.Now().UTC(),
			Note:      note,
		}},
	}, nil
}
