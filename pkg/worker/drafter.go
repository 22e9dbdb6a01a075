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

// Drafter creates the initial draft and revises it when a revision has been
// requested. Its update always clears the revision flags and any consumed
// human decision; routing after a draft is the policy's concern.
type Drafter struct {
	client llm.LLMClient
	prompt StagePrompt
	logger *logx.Logger
}

// NewDrafter creates a drafter backed by the given client.
func NewDrafter(client llm.LLMClient, prompt StagePrompt) *Drafter {
	return &Drafter{
		client: client,
		prompt: prompt,
		logger: logx.NewLogger("drafter"),
	}
}

// Stage implements the Worker interface.
func (d *Drafter) Stage() proto.Stage { return proto.StageDrafter }

// Run implements the Worker interface.
func (d *Drafter) Run(ctx context.Context, st *proto.RunState) (*proto.Update, error) {
	d.logger.Debug("Starting draft: iteration=%d needs_revision=%v", st.IterationCount, st.NeedsRevision)

	req := llm.CompletionRequest{
		Messages: []llm.CompletionMessage{
			llm.NewSystemMessage(d.systemPrompt(st)),
			llm.NewUserMessage(d.userMessage(st)),
		},
		Temperature: d.prompt.Temperature,
		MaxTokens:   d.prompt.MaxTokens,
	}

	resp, err := d.client.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("draft generation failed: %w", err)
	}

	version := proto.DraftVersion{
		Version:   st.NextDraftVersion(),
		Content:   resp.Content,
		CreatedAt: time.Now().UTC(),
		Author:    string(proto.StageDrafter),
	}
	d.logger.Info("Generated draft version %d (%d chars)", version.Version, len(resp.Content))

	return &proto.Update{
		CurrentDraft:        proto.String(resp.Content),
		AppendDrafts:        []proto.DraftVersion{version},
		NeedsRevision:       proto.Bool(false),
		ClearRevisionReason: true,
		ClearHumanDecision:  true,
		AppendLog: []proto.LogEntry{{
			Stage:     proto.StageDrafter,
			Iteration: st.IterationCount,
			CreatedAt: time.Now().UTC(),
			Note:      fmt.Sprintf("Created draft version %d", version.Version),
		}},
	}, nil
}

// systemPrompt builds the base prompt, appending revision context when this
// is a revision pass.
func (d *Drafter) systemPrompt(st *proto.RunState) string {
	prompt := d.prompt.System

	if st.NeedsRevision && st.RevisionReason != "" {
		var b strings.Builder
		b.WriteString(prompt)
		fmt.Fprintf(&b, "\n\n**REVISION REQUIRED**: %s\n", st.RevisionReason)
		b.WriteString("\nPrevious draft:\n")
		b.WriteString(st.CurrentDraft)

		if feedback := st.LatestFeedback(); len(feedback) > 0 {
			b.WriteString("\n\nReviewer feedback:\n")
			for _, note := range feedback {
				fmt.Fprintf(&b, "- %s\n", note)
			}
		}
		prompt = b.String()
	}
	return prompt
}

func (d *Drafter) userMessage(st *proto.RunState) string {
	if st.NeedsRevision {
		return "Based on the feedback above, revise the exercise to address all concerns.\n" +
			"Maintain the therapeutic value while fixing the identified issues."
	}

	msg := fmt.Sprintf("Create a CBT exercise for the following intent:\n\nUser Intent: %s\n", st.Intent)
	if st.Context != "" {
		msg += fmt.Sprintf("\nAdditional Context: %s\n", st.Context)
	}
	msg += "\nCreate a complete, structured CBT exercise that addresses this intent."
	return msg
}
