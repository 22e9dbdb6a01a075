package worker

import (
	"context"
	"os"
	"strings"
	"testing"

	"foundry/pkg/llm"
	"foundry/pkg/proto"
)

func newTestState(t *testing.T) *proto.RunState {
	t.Helper()
	st, err := proto.NewRunState("run-1", "Create a thought record exercise", "", proto.DefaultMaxIterations)
	if err != nil {
		t.Fatalf("NewRunState failed: %v", err)
	}
	return st
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`{"level":"safe"}`, `{"level":"safe"}`},
		{"Here it is:\n```json\n{\"level\":\"safe\"}\n```\nDone.", `{"level":"safe"}`},
		{"```\n{\"level\":\"safe\"}\n```", `{"level":"safe"}`},
		{"```json\n{\"level\":\"safe\"}", `{"level":"safe"}`},
	}
	for _, tt := range tests {
		if got := stripFences(tt.in); got != tt.want {
			t.Errorf("stripFences(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDecodeSafety_Valid(t *testing.T) {
	a := decodeSafety(`{"level":"unsafe","concerns":["encourages risk"],"recommendations":["remove step 3"]}`)
	if a.Level != proto.SafetyLevelUnsafe {
		t.Errorf("expected unsafe, got %s", a.Level)
	}
	if len(a.Concerns) != 1 || len(a.Recommendations) != 1 {
		t.Errorf("concerns/recommendations not preserved: %+v", a)
	}
}

func TestDecodeSafety_FailsOpen(t *testing.T) {
	for _, garbage := range []string{
		"I think this looks fine.",
		`{"level":"mostly_fine"}`,
		"```json\nnot json\n```",
	} {
		a := decodeSafety(garbage)
		if a.Level != proto.SafetyLevelNeedsReview {
			t.Errorf("decodeSafety(%q): expected needs_review, got %s", garbage, a.Level)
		}
		if len(a.Concerns) == 0 {
			t.Errorf("decodeSafety(%q): fail-open must record a concern", garbage)
		}
	}
}

func TestDecodeQuality_Valid(t *testing.T) {
	a := decodeQuality(`{"empathy_score":8.5,"structure_score":7.0,"clinical_appropriateness":9.0,"feedback":"solid","suggestions":["tighten step 2"]}`)
	want := (8.5 + 7.0 + 9.0) / 3.0
	if got := a.Aggregate(); got != want {
		t.Errorf("aggregate = %v, want %v", got, want)
	}
	if a.Feedback != "solid" {
		t.Errorf("feedback not preserved: %q", a.Feedback)
	}
}

func TestDecodeQuality_FailsOpen(t *testing.T) {
	a := decodeQuality("the draft is great, ship it")
	if got := a.Aggregate(); got != failOpenQualityScore {
		t.Errorf("fail-open aggregate = %v, want %v", got, failOpenQualityScore)
	}
	if a.Aggregate() >= 7.0 {
		t.Error("fail-open quality must score below the passing threshold")
	}
}

func TestDecodeQuality_ClampsScores(t *testing.T) {
	a := decodeQuality(`{"empathy_score":15,"structure_score":-3,"clinical_appropriateness":5}`)
	if a.DimensionScores[DimensionEmpathy] != 10 {
		t.Errorf("score above 10 not clamped: %v", a.DimensionScores[DimensionEmpathy])
	}
	if a.DimensionScores[DimensionStructure] != 0 {
		t.Errorf("negative score not clamped: %v", a.DimensionScores[DimensionStructure])
	}
}

func TestDrafter_FirstPass(t *testing.T) {
	mock := llm.NewMockLLMClient([]llm.CompletionResponse{{Content: "Step 1: notice the thought."}}, nil)
	drafter := NewDrafter(mock, DefaultPromptPack().Drafter)
	st := newTestState(t)

	update, err := drafter.Run(context.Background(), st)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if update.CurrentDraft == nil || *update.CurrentDraft != "Step 1: notice the thought." {
		t.Errorf("draft not set: %v", update.CurrentDraft)
	}
	if len(update.AppendDrafts) != 1 || update.AppendDrafts[0].Version != 1 {
		t.Fatalf("expected one appended draft with version 1, got %+v", update.AppendDrafts)
	}
	if update.AppendDrafts[0].Author != string(proto.StageDrafter) {
		t.Errorf("wrong author: %s", update.AppendDrafts[0].Author)
	}
	if update.NeedsRevision == nil || *update.NeedsRevision {
		t.Error("drafter must clear needs_revision")
	}
	if !update.ClearRevisionReason || !update.ClearHumanDecision {
		t.Error("drafter must clear revision reason and consumed human decision")
	}
	if len(update.AppendLog) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(update.AppendLog))
	}
	if update.AdvanceIteration {
		t.Error("workers must never advance the iteration counter")
	}

	reqs := mock.Requests()
	if len(reqs) != 1 {
		t.Fatalf("expected one LLM call, got %d", len(reqs))
	}
	if !strings.Contains(reqs[0].Messages[1].Content, st.Intent) {
		t.Error("first-pass prompt must include the intent")
	}
}

func TestDrafter_RevisionPassIncludesReason(t *testing.T) {
	mock := llm.NewMockLLMClient([]llm.CompletionResponse{{Content: "revised draft"}}, nil)
	drafter := NewDrafter(mock, DefaultPromptPack().Drafter)
	st := newTestState(t)
	st.CurrentDraft = "old draft"
	st.DraftVersions = []proto.DraftVersion{{Version: 1, Content: "old draft"}}
	st.NeedsRevision = true
	st.RevisionReason = "Safety concerns identified: missing disclaimer"

	update, err := drafter.Run(context.Background(), st)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if update.AppendDrafts[0].Version != 2 {
		t.Errorf("revision must append version 2, got %d", update.AppendDrafts[0].Version)
	}

	system := mock.Requests()[0].Messages[0].Content
	if !strings.Contains(system, "missing disclaimer") {
		t.Error("revision prompt must carry the revision reason")
	}
	if !strings.Contains(system, "old draft") {
		t.Error("revision prompt must include the previous draft")
	}
}

func TestSafetyChecker_Run(t *testing.T) {
	mock := llm.NewMockLLMClient([]llm.CompletionResponse{
		{Content: "```json\n{\"level\":\"needs_review\",\"concerns\":[\"no crisis guidance\"],\"recommendations\":[\"add hotline info\"]}\n```"},
	}, nil)
	checker := NewSafetyChecker(mock, DefaultPromptPack().Safety)
	st := newTestState(t)
	st.CurrentDraft = "a draft"

	update, err := checker.Run(context.Background(), st)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if update.Safety == nil || update.Safety.Level != proto.SafetyLevelNeedsReview {
		t.Fatalf("assessment not decoded: %+v", update.Safety)
	}
	if len(update.AppendLog) != 1 || !strings.Contains(update.AppendLog[0].Note, "no crisis guidance") {
		t.Errorf("log entry must summarize concerns: %+v", update.AppendLog)
	}
	if update.NeedsRevision != nil {
		t.Error("safety checker must not set routing flags")
	}
}

func TestSafetyChecker_RequiresDraft(t *testing.T) {
	checker := NewSafetyChecker(llm.NewMockLLMClient(nil, nil), DefaultPromptPack().Safety)
	if _, err := checker.Run(context.Background(), newTestState(t)); err == nil {
		t.Error("expected error when no draft exists")
	}
}

func TestQualityChecker_Run(t *testing.T) {
	mock := llm.NewMockLLMClient([]llm.CompletionResponse{
		{Content: `{"empathy_score":8,"structure_score":8,"clinical_appropriateness":8,"feedback":"good","suggestions":[]}`},
	}, nil)
	checker := NewQualityChecker(mock, DefaultPromptPack().Quality)
	st := newTestState(t)
	st.CurrentDraft = "a draft"

	update, err := checker.Run(context.Background(), st)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if update.Quality == nil || update.Quality.Aggregate() != 8.0 {
		t.Fatalf("assessment not decoded: %+v", update.Quality)
	}
	if len(update.AppendLog) != 1 {
		t.Errorf("expected exactly one log entry, got %d", len(update.AppendLog))
	}
}

func TestLoadPromptPack_MergesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/pack.yaml"
	content := "drafter:\n  system: custom drafter prompt\nquality:\n  temperature: 0.1\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	pack, err := LoadPromptPack(path)
	if err != nil {
		t.Fatalf("LoadPromptPack failed: %v", err)
	}
	if pack.Drafter.System != "custom drafter prompt" {
		t.Errorf("drafter system not overridden: %q", pack.Drafter.System)
	}
	if pack.Drafter.Temperature != 0.7 {
		t.Errorf("unset drafter temperature must fall back to default, got %v", pack.Drafter.Temperature)
	}
	if pack.Quality.Temperature != 0.1 {
		t.Errorf("quality temperature not overridden: %v", pack.Quality.Temperature)
	}
	if pack.Safety.System == "" {
		t.Error("untouched stage must keep its default prompt")
	}
}
