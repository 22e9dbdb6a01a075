package proto

// Update is a sparse partial update produced by one worker invocation or one
// routing decision. Every field has a declared merge rule: pointer scalars
// overwrite when non-nil, Append* slices are appended in order, Clear* flags
// reset optional fields to absent. Workers never mutate RunState directly;
// the engine applies updates through its reducer.
type Update struct {
	// Overwrite rules.
	CurrentDraft   *string
	NeedsRevision  *bool
	RevisionReason *string
	AwaitingHuman  *bool
	HumanDecision  *HumanDecision
	Safety         *SafetyAssessment
	Quality        *QualityAssessment
	FinalOutput    *string
	Done           *bool

	// Append rules.
	AppendDrafts []DraftVersion
	AppendLog    []LogEntry

	// Clear rules: reset optional fields to absent. A Clear flag wins over a
	// nil pointer (which means "untouched"), never over a non-nil overwrite.
	ClearSafety         bool
	ClearQuality        bool
	ClearRevisionReason bool
	ClearHumanDecision  bool

	// AdvanceIteration increments the iteration counter by exactly one. Only
	// routing decisions carry it; workers must leave it false.
	AdvanceIteration bool
}

// Bool returns a pointer to b, for building sparse updates.
func Bool(b bool) *bool { return &b }

// String returns a pointer to s, for building sparse updates.
func String(s string) *string { return &s }

// IsZero reports whether the update carries no mutations at all.
func (u *Update) IsZero() bool {
	if u == nil {
		return true
	}
	return u.CurrentDraft == nil && u.NeedsRevision == nil && u.RevisionReason == nil &&
		u.AwaitingHuman == nil && u.HumanDecision == nil && u.Safety == nil &&
		u.Quality == nil && u.FinalOutput == nil && u.Done == nil &&
		len(u.AppendDrafts) == 0 && len(u.AppendLog) == 0 &&
		!u.ClearSafety && !u.ClearQuality && !u.ClearRevisionReason &&
		!u.ClearHumanDecision && !u.AdvanceIteration
}
