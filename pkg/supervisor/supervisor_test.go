package supervisor

import (
	"strings"
	"testing"

	"foundry/pkg/proto"
)

func newState(t *testing.T) *proto.RunState {
	t.Helper()
	st, err := proto.NewRunState("run-1", "Create a thought record exercise", "", proto.DefaultMaxIterations)
	if err != nil {
		t.Fatalf("NewRunState failed: %v", err)
	}
	return st
}

func passingQuality() *proto.QualityAssessment {
	return &proto.QualityAssessment{
		DimensionScores: map[string]float64{"empathy": 8, "structure": 8, "clinical_appropriateness": 8},
	}
}

func failingQuality() *proto.QualityAssessment {
	return &proto.QualityAssessment{
		DimensionScores: map[string]float64{"empathy": 5, "structure": 5, "clinical_appropriateness": 5},
		Feedback:        "needs more warmth",
	}
}

func TestDecide_Rule1_ExternalRevisionRequest(t *testing.T) {
	st := newState(t)
	st.CurrentDraft = "draft"
	st.NeedsRevision = true
	st.RevisionReason = "add a safety disclaimer"
	st.Safety = &proto.SafetyAssessment{Level: proto.SafetyLevelSafe}
	st.Quality = passingQuality()

	d := Decide(st)
	if d.Kind != KindInvoke || d.Stage != proto.StageDrafter {
		t.Fatalf("expected drafter invoke, got %+v", d)
	}
	if !d.Update.ClearSafety || !d.Update.ClearQuality {
		t.Error("external revision must clear both assessments")
	}
	if !d.Update.AdvanceIteration {
		t.Error("revision decision must advance the iteration")
	}
}

func TestDecide_Rule2_BudgetExhausted(t *testing.T) {
	st := newState(t)
	st.CurrentDraft = "draft"
	st.IterationCount = st.MaxIterations - 1

	d := Decide(st)
	if d.Kind != KindComplete {
		t.Fatalf("expected complete, got %v", d.Kind)
	}
	if d.Update.AwaitingHuman == nil || !*d.Update.AwaitingHuman {
		t.Error("budget completion must force human review")
	}
	if !d.Update.AdvanceIteration {
		t.Error("completion decision must advance the iteration")
	}
}

func TestDecide_Rule2_BeatsAssessmentRouting(t *testing.T) {
	// Even with a fresh unassessed draft, an exhausted budget wins.
	st := newState(t)
	st.CurrentDraft = "draft"
	st.IterationCount = st.MaxIterations

	if d := Decide(st); d.Kind != KindComplete {
		t.Errorf("expected complete, got %v", d.Kind)
	}
}

func TestDecide_Rule3_NoDraft(t *testing.T) {
	d := Decide(newState(t))
	if d.Kind != KindInvoke || d.Stage != proto.StageDrafter {
		t.Fatalf("expected drafter invoke, got %+v", d)
	}
	if !d.Update.AdvanceIteration {
		t.Error("first draft decision must advance the iteration")
	}
}

func TestDecide_Rule4_NoSafetyAssessment(t *testing.T) {
	st := newState(t)
	st.CurrentDraft = "draft"

	d := Decide(st)
	if d.Kind != KindInvoke || d.Stage != proto.StageSafety {
		t.Fatalf("expected safety invoke, got %+v", d)
	}
	if d.Update != nil && d.Update.AdvanceIteration {
		t.Error("assessor routing must not advance the iteration")
	}
}

func TestDecide_Rule5_SafetyFailure(t *testing.T) {
	for _, level := range []proto.SafetyLevel{proto.SafetyLevelUnsafe, proto.SafetyLevelNeedsReview} {
		st := newState(t)
		st.CurrentDraft = "draft"
		st.Safety = &proto.SafetyAssessment{
			Level:    level,
			Concerns: []string{"missing crisis guidance"},
		}

		d := Decide(st)
		if d.Kind != KindInvoke || d.Stage != proto.StageDrafter {
			t.Fatalf("level %s: expected drafter invoke, got %+v", level, d)
		}
		if d.Update.NeedsRevision == nil || !*d.Update.NeedsRevision {
			t.Errorf("level %s: revision flag not set", level)
		}
		if d.Update.RevisionReason == nil || !strings.Contains(*d.Update.RevisionReason, "missing crisis guidance") {
			t.Errorf("level %s: reason must carry the safety concerns", level)
		}
		if !d.Update.ClearSafety || !d.Update.ClearQuality {
			t.Errorf("level %s: both assessments must be cleared", level)
		}
	}
}

func TestDecide_Rule6_NoQualityAssessment(t *testing.T) {
	st := newState(t)
	st.CurrentDraft = "draft"
	st.Safety = &proto.SafetyAssessment{Level: proto.SafetyLevelSafe}

	d := Decide(st)
	if d.Kind != KindInvoke || d.Stage != proto.StageQuality {
		t.Fatalf("expected quality invoke, got %+v", d)
	}
}

func TestDecide_Rule7_QualityShortfall(t *testing.T) {
	st := newState(t)
	st.CurrentDraft = "draft"
	st.Safety = &proto.SafetyAssessment{Level: proto.SafetyLevelSafe}
	st.Quality = failingQuality()

	d := Decide(st)
	if d.Kind != KindInvoke || d.Stage != proto.StageDrafter {
		t.Fatalf("expected drafter invoke, got %+v", d)
	}
	if d.Update.RevisionReason == nil ||
		!strings.Contains(*d.Update.RevisionReason, "5.0/10") ||
		!strings.Contains(*d.Update.RevisionReason, "needs more warmth") {
		t.Errorf("reason must carry score and feedback: %v", d.Update.RevisionReason)
	}
	if !d.Update.AdvanceIteration {
		t.Error("revision decision must advance the iteration")
	}
}

func TestDecide_Rule8_AllChecksPass(t *testing.T) {
	st := newState(t)
	st.CurrentDraft = "draft"
	st.Safety = &proto.SafetyAssessment{Level: proto.SafetyLevelSafe}
	st.Quality = passingQuality()

	d := Decide(st)
	if d.Kind != KindPause {
		t.Fatalf("expected pause, got %v", d.Kind)
	}
	if d.Update.AwaitingHuman == nil || !*d.Update.AwaitingHuman {
		t.Error("pause must set awaiting_human")
	}
	if d.Update.AdvanceIteration {
		t.Error("pause must not advance the iteration")
	}
}

func TestDecide_ExactThreshold(t *testing.T) {
	st := newState(t)
	st.CurrentDraft = "draft"
	st.Safety = &proto.SafetyAssessment{Level: proto.SafetyLevelSafe}
	st.Quality = &proto.QualityAssessment{
		DimensionScores: map[string]float64{"empathy": 7, "structure": 7, "clinical_appropriateness": 7},
	}

	if d := Decide(st); d.Kind != KindPause {
		t.Errorf("aggregate exactly %.1f must pass, got %v", PassingScore, d.Kind)
	}
}

func TestPolicy_CustomPassingScore(t *testing.T) {
	st := newState(t)
	st.CurrentDraft = "draft"
	st.Safety = &proto.SafetyAssessment{Level: proto.SafetyLevelSafe}
	st.Quality = passingQuality() // aggregate 8.0

	strict := Policy{PassingScore: 9.0}
	d := strict.Decide(st)
	if d.Kind != KindInvoke || d.Stage != proto.StageDrafter {
		t.Errorf("8.0 must fail a 9.0 threshold, got %v/%s", d.Kind, d.Stage)
	}

	lenient := Policy{PassingScore: 6.0}
	if d := lenient.Decide(st); d.Kind != KindPause {
		t.Errorf("8.0 must pass a 6.0 threshold, got %v", d.Kind)
	}
}
