package engine

import (
	"fmt"
	"time"

	"foundry/pkg/proto"
)

// applyUpdate merges a sparse update into a copy of the state following each
// field's declared rule: non-nil pointers overwrite, Append* slices append in
// order, Clear* flags reset optional fields. The input state is never
// touched, so a failed merge cannot partially commit.
func applyUpdate(st *proto.RunState, u *proto.Update) (*proto.RunState, error) {
	if u == nil || u.IsZero() {
		return st, nil
	}
	if st.Done {
		return nil, fmt.Errorf("%w: run %s is done and immutable", ErrInvalidState, st.RunID)
	}

	next := st.Clone()

	// Overwrites win over clears for the same field; clears win over
	// untouched (nil) pointers.
	if u.Safety != nil {
		next.Safety = u.Safety
	} else if u.ClearSafety {
		next.Safety = nil
	}
	if u.Quality != nil {
		next.Quality = u.Quality
	} else if u.ClearQuality {
		next.Quality = nil
	}
	if u.RevisionReason != nil {
		next.RevisionReason = *u.RevisionReason
	} else if u.ClearRevisionReason {
		next.RevisionReason = ""
	}
	if u.HumanDecision != nil {
		next.HumanDecision = u.HumanDecision
	} else if u.ClearHumanDecision {
		next.HumanDecision = nil
	}

	if u.CurrentDraft != nil {
		next.CurrentDraft = *u.CurrentDraft
	}
	if u.NeedsRevision != nil {
		next.NeedsRevision = *u.NeedsRevision
	}
	if u.AwaitingHuman != nil {
		next.AwaitingHuman = *u.AwaitingHuman
	}
	if u.FinalOutput != nil {
		next.FinalOutput = *u.FinalOutput
	}
	if u.Done != nil {
		next.Done = *u.Done
	}

	for i := range u.AppendDrafts {
		v := &u.AppendDrafts[i]
		if want := next.NextDraftVersion(); v.Version != want {
			return nil, fmt.Errorf("draft version %d out of sequence (expected %d) for run %s", v.Version, want, st.RunID)
		}
		next.DraftVersions = append(next.DraftVersions, *v)
	}
	next.Log = append(next.Log, u.AppendLog...)

	if u.AdvanceIteration {
		next.IterationCount++
	}

	if next.NeedsRevision && next.RevisionReason == "" {
		return nil, fmt.Errorf("revision requested without a reason for run %s", st.RunID)
	}
	if next.NeedsRevision && next.AwaitingHuman {
		return nil, fmt.Errorf("run %s cannot await human review with a revision pending", st.RunID)
	}

	next.UpdatedAt = time.Now().UTC()
	return next, nil
}
