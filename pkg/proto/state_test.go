package proto

import (
	"testing"
	"time"
)

func TestNewRunState(t *testing.T) {
	st, err := NewRunState("run-1", "Create a thought record exercise", "", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if st.RunID != "run-1" {
		t.Errorf("expected run id run-1, got %s", st.RunID)
	}
	if st.MaxIterations != DefaultMaxIterations {
		t.Errorf("expected default max iterations %d, got %d", DefaultMaxIterations, st.MaxIterations)
	}
	if st.IterationCount != 0 {
		t.Errorf("expected iteration count 0, got %d", st.IterationCount)
	}
	if st.Done || st.AwaitingHuman || st.NeedsRevision {
		t.Error("expected all transient flags to start false")
	}
	if len(st.DraftVersions) != 0 || len(st.Log) != 0 {
		t.Error("expected empty history sequences")
	}
}

func TestNewRunState_Validation(t *testing.T) {
	if _, err := NewRunState("", "intent", "", 5); err == nil {
		t.Error("expected error for empty run id")
	}
	if _, err := NewRunState("run-1", "", "", 5); err == nil {
		t.Error("expected error for empty intent")
	}
}

func TestSafetyLevel_Valid(t *testing.T) {
	valid := []SafetyLevel{SafetyLevelSafe, SafetyLevelNeedsReview, SafetyLevelUnsafe}
	for _, l := range valid {
		if !l.Valid() {
			t.Errorf("expected %s to be valid", l)
		}
	}
	if SafetyLevel("fine").Valid() {
		t.Error("expected unknown level to be invalid")
	}
	if SafetyLevel("").Valid() {
		t.Error("expected empty level to be invalid")
	}
}

func TestQualityAssessment_Aggregate(t *testing.T) {
	qa := &QualityAssessment{
		DimensionScores: map[string]float64{
			"empathy":   8.0,
			"structure": 7.0,
			"clinical":  9.0,
		},
	}
	if got := qa.Aggregate(); got != 8.0 {
		t.Errorf("expected aggregate 8.0, got %v", got)
	}

	var nilQA *QualityAssessment
	if got := nilQA.Aggregate(); got != 0 {
		t.Errorf("expected nil aggregate 0, got %v", got)
	}
	if got := (&QualityAssessment{}).Aggregate(); got != 0 {
		t.Errorf("expected empty aggregate 0, got %v", got)
	}
}

func TestRunState_Clone_Isolation(t *testing.T) {
	st, err := NewRunState("run-1", "intent", "context", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	st.DraftVersions = []DraftVersion{{Version: 1, Content: "v1", Author: string(StageDrafter)}}
	st.Log = []LogEntry{{Stage: StageDrafter, Iteration: 1, Note: "created draft v1"}}
	st.Safety = &SafetyAssessment{Level: SafetyLevelSafe, Concerns: []string{"a"}}
	st.Quality = &QualityAssessment{DimensionScores: map[string]float64{"empathy": 8}}
	st.HumanDecision = &HumanDecision{Approved: true}

	cp := st.Clone()

	cp.DraftVersions[0].Content = "mutated"
	cp.Log[0].Note = "mutated"
	cp.Safety.Concerns[0] = "mutated"
	cp.Quality.DimensionScores["empathy"] = 1
	cp.HumanDecision.Approved = false

	if st.DraftVersions[0].Content != "v1" {
		t.Error("clone shares draft versions with original")
	}
	if st.Log[0].Note != "created draft v1" {
		t.Error("clone shares log with original")
	}
	if st.Safety.Concerns[0] != "a" {
		t.Error("clone shares safety concerns with original")
	}
	if st.Quality.DimensionScores["empathy"] != 8 {
		t.Error("clone shares quality scores with original")
	}
	if !st.HumanDecision.Approved {
		t.Error("clone shares human decision with original")
	}
}

func TestRunState_LatestFeedback(t *testing.T) {
	st, _ := NewRunState("run-1", "intent", "", 5)
	st.IterationCount = 2
	st.Log = []LogEntry{
		{Stage: StageDrafter, Iteration: 1, Note: "old", CreatedAt: time.Now().UTC()},
		{Stage: StageSafety, Iteration: 2, Note: "safety: needs_review", CreatedAt: time.Now().UTC()},
		{Stage: StageQuality, Iteration: 2, Note: "quality: 6.0/10", CreatedAt: time.Now().UTC()},
	}

	notes := st.LatestFeedback()
	if len(notes) != 2 {
		t.Fatalf("expected 2 notes for current iteration, got %d", len(notes))
	}
	if notes[0] != "safety: needs_review" || notes[1] != "quality: 6.0/10" {
		t.Errorf("unexpected notes: %v", notes)
	}
}

func TestUpdate_IsZero(t *testing.T) {
	var u *Update
	if !u.IsZero() {
		t.Error("nil update should be zero")
	}
	if !(&Update{}).IsZero() {
		t.Error("empty update should be zero")
	}
	if (&Update{AdvanceIteration: true}).IsZero() {
		t.Error("iteration advance is a mutation")
	}
	if (&Update{CurrentDraft: String("x")}).IsZero() {
		t.Error("draft overwrite is a mutation")
	}
}
