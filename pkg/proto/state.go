// Package proto defines the run state shared by the pipeline stages and the
// typed protocol the engine, routing policy, and workers communicate with.
package proto

import (
	"fmt"
	"time"
)

// Stage identifies one pipeline stage.
type Stage string

const (
	// StageDrafter creates and revises exercise drafts.
	StageDrafter Stage = "drafter"
	// StageSafety evaluates drafts for safety concerns.
	StageSafety Stage = "safety"
	// StageQuality scores drafts for clinical quality.
	StageQuality Stage = "quality"
	// StageSupervisor tags audit entries written by routing decisions; it is
	// not a worker stage.
	StageSupervisor Stage = "supervisor"
)

// AuthorHuman is the draft author recorded for human edits. Stage names are
// used for worker-authored versions.
const AuthorHuman = "human"

// SafetyLevel classifies a safety assessment verdict.
type SafetyLevel string

const (
	SafetyLevelSafe        SafetyLevel = "safe"
	SafetyLevelNeedsReview SafetyLevel = "needs_review"
	SafetyLevelUnsafe      SafetyLevel = "unsafe"
)

// Valid reports whether the level is one of the three known verdicts.
func (l SafetyLevel) Valid() bool {
	switch l {
	case SafetyLevelSafe, SafetyLevelNeedsReview, SafetyLevelUnsafe:
		return true
	}
	return false
}

// DraftVersion is one immutable version of the exercise draft. Versions are
// numbered from 1 with no gaps; every change to the current draft appends
// exactly one new entry.
type DraftVersion struct {
	Version   int       `json:"version"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Author    string    `json:"author"` // stage name or AuthorHuman
}

// LogEntry is one append-only audit record, written once per stage invocation.
type LogEntry struct {
	Stage     Stage     `json:"stage"`
	Iteration int       `json:"iteration"`
	CreatedAt time.Time `json:"created_at"`
	Note      string    `json:"note"`
}

// SafetyAssessment is the Safety stage's verdict on the current draft.
type SafetyAssessment struct {
	Level           SafetyLevel `json:"level"`
	Concerns        []string    `json:"concerns,omitempty"`
	Recommendations []string    `json:"recommendations,omitempty"`
}

// QualityAssessment is the Quality stage's scoring of the current draft.
// Dimension scores are in [0,10]; the aggregate is their arithmetic mean.
type QualityAssessment struct {
	DimensionScores map[string]float64 `json:"dimension_scores"`
	Feedback        string             `json:"feedback,omitempty"`
	Suggestions     []string           `json:"suggestions,omitempty"`
}

// Aggregate returns the arithmetic mean of the dimension scores, or 0 when
// no dimensions were scored.
func (q *QualityAssessment) Aggregate() float64 {
	if q == nil || len(q.DimensionScores) == 0 {
		return 0
	}
	var sum float64
	for _, s := range q.DimensionScores {
		sum += s
	}
	return sum / float64(len(q.DimensionScores))
}

// HumanDecision is the outcome of a human review, set exactly once per pause
// and consumed by the resume transition.
type HumanDecision struct {
	Approved bool   `json:"approved"`
	Feedback string `json:"feedback,omitempty"`
	Edits    string `json:"edits,omitempty"`
}

// RunState is the complete state of one pipeline run, identified by RunID and
// used as the checkpoint key. It is mutated exclusively by the engine applying
// updates; callers treat loaded snapshots as read-only.
type RunState struct {
	RunID   string `json:"run_id"`
	Intent  string `json:"intent"`
	Context string `json:"context,omitempty"`

	CurrentDraft  string         `json:"current_draft"`
	DraftVersions []DraftVersion `json:"draft_versions"`
	Log           []LogEntry     `json:"log"`

	Safety  *SafetyAssessment  `json:"safety_assessment,omitempty"`
	Quality *QualityAssessment `json:"quality_assessment,omitempty"`

	IterationCount int `json:"iteration_count"`
	MaxIterations  int `json:"max_iterations"`

	NeedsRevision  bool   `json:"needs_revision"`
	RevisionReason string `json:"revision_reason,omitempty"`

	AwaitingHuman bool           `json:"awaiting_human"`
	HumanDecision *HumanDecision `json:"human_decision,omitempty"`

	FinalOutput string `json:"final_output,omitempty"`
	Done        bool   `json:"done"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultMaxIterations bounds the revision loop when the caller does not set
// an explicit ceiling.
const DefaultMaxIterations = 5

// NewRunState creates the initial state for a new run. Intent is required;
// maxIterations falls back to DefaultMaxIterations when non-positive.
func NewRunState(runID, intent, context string, maxIterations int) (*RunState, error) {
	if runID == "" {
		return nil, fmt.Errorf("run id cannot be empty")
	}
	if intent == "" {
		return nil, fmt.Errorf("intent cannot be empty")
	}
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	now := time.Now().UTC()
	return &RunState{
		RunID:         runID,
		Intent:        intent,
		Context:       context,
		MaxIterations: maxIterations,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// NextDraftVersion returns the version number the next appended draft must
// carry.
func (s *RunState) NextDraftVersion() int {
	return len(s.DraftVersions) + 1
}

// LatestFeedback returns the log notes recorded at the current iteration,
// newest last. The drafter embeds these in revision prompts.
func (s *RunState) LatestFeedback() []string {
	var notes []string
	for i := range s.Log {
		if s.Log[i].Iteration == s.IterationCount {
			notes = append(notes, s.Log[i].Note)
		}
	}
	return notes
}

// Clone returns a deep copy. Snapshots handed to observers and checkpoint
// payloads are cloned so no caller can reach into live engine state.
func (s *RunState) Clone() *RunState {
	if s == nil {
		return nil
	}
	cp := *s
	cp.DraftVersions = append([]DraftVersion(nil), s.DraftVersions...)
	cp.Log = append([]LogEntry(nil), s.Log...)
	if s.Safety != nil {
		sa := *s.Safety
		sa.Concerns = append([]string(nil), s.Safety.Concerns...)
		sa.Recommendations = append([]string(nil), s.Safety.Recommendations...)
		cp.Safety = &sa
	}
	if s.Quality != nil {
		qa := *s.Quality
		qa.Suggestions = append([]string(nil), s.Quality.Suggestions...)
		if s.Quality.DimensionScores != nil {
			qa.DimensionScores = make(map[string]float64, len(s.Quality.DimensionScores))
			for k, v := range s.Quality.DimensionScores {
				qa.DimensionScores[k] = v
			}
		}
		cp.Quality = &qa
	}
	if s.HumanDecision != nil {
		hd := *s.HumanDecision
		cp.HumanDecision = &hd
	}
	return &cp
}
