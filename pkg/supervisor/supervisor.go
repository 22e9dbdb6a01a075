// Package supervisor implements the routing policy: a pure function from run
// state to the next decision. It is the single source of truth for the
// revision loop, the iteration budget, and the human-review pause; workers
// never influence routing.
package supervisor

import (
	"fmt"
	"strings"
	"time"

	"foundry/pkg/proto"
)

// PassingScore is the default minimum aggregate quality score that avoids a
// revision.
const PassingScore = 7.0

// Policy carries the tunable parameters of the routing rules.
type Policy struct {
	// PassingScore is the minimum aggregate quality score that avoids a
	// revision. Zero falls back to the package default.
	PassingScore float64
}

// Kind classifies a routing decision.
type Kind int8

const (
	// KindInvoke runs the named stage next.
	KindInvoke Kind = iota
	// KindPause suspends the run for human review.
	KindPause
	// KindComplete ends stepping because the iteration budget is exhausted,
	// forcing human review of whatever draft exists.
	KindComplete
)

// String returns the decision kind name.
func (k Kind) String() string {
	switch k {
	case KindInvoke:
		return "invoke"
	case KindPause:
		return "pause"
	case KindComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Decision is the outcome of one policy evaluation. Update carries the state
// changes the decision itself implies (revision flags, assessment clears,
// iteration advance); the engine applies it before any worker runs.
type Decision struct {
	Kind   Kind
	Stage  proto.Stage // valid when Kind == KindInvoke
	Update *proto.Update
	Note   string
}

// Decide evaluates the routing rules with the default policy.
func Decide(st *proto.RunState) Decision {
	return Policy{}.Decide(st)
}

// Decide evaluates the routing rules in order against the current state and
// returns the first match. The iteration counter tracks drafting cycles: it
// advances on every decision that starts a new draft or ends the run, and
// stays put while routing between the assessors of one cycle.
func (p Policy) Decide(st *proto.RunState) Decision {
	passing := p.PassingScore
	if passing == 0 {
		passing = PassingScore
	}
	// Rule 1: an external actor requested revision (human-feedback path).
	if st.NeedsRevision {
		return Decision{
			Kind:  KindInvoke,
			Stage: proto.StageDrafter,
			Update: &proto.Update{
				ClearSafety:      true,
				ClearQuality:     true,
				AdvanceIteration: true,
			},
			Note: "revision requested - routing to drafter",
		}
	}

	// Rule 2: iteration budget exhausted.
	if st.IterationCount+1 >= st.MaxIterations {
		note := fmt.Sprintf("Iteration budget exhausted (max %d) - forcing human review", st.MaxIterations)
		return Decision{
			Kind: KindComplete,
			Update: &proto.Update{
				AwaitingHuman:    proto.Bool(true),
				AdvanceIteration: true,
				AppendLog:        []proto.LogEntry{supervisorEntry(st.IterationCount+1, note)},
			},
			Note: note,
		}
	}

	// Rule 3: no draft yet.
	if st.CurrentDraft == "" {
		return Decision{
			Kind:   KindInvoke,
			Stage:  proto.StageDrafter,
			Update: &proto.Update{AdvanceIteration: true},
			Note:   "no draft yet - routing to drafter",
		}
	}

	// Rule 4: draft exists but is not safety-assessed.
	if st.Safety == nil {
		return Decision{
			Kind:  KindInvoke,
			Stage: proto.StageSafety,
			Note:  "draft ready - routing to safety checker",
		}
	}

	// Rule 5: safety verdict is anything but safe.
	if st.Safety.Level != proto.SafetyLevelSafe {
		reason := fmt.Sprintf("Safety concerns identified: %s", strings.Join(st.Safety.Concerns, "; "))
		return Decision{
			Kind:  KindInvoke,
			Stage: proto.StageDrafter,
			Update: &proto.Update{
				NeedsRevision:    proto.Bool(true),
				RevisionReason:   proto.String(reason),
				ClearSafety:      true,
				ClearQuality:     true,
				AdvanceIteration: true,
				AppendLog:        []proto.LogEntry{supervisorEntry(st.IterationCount+1, reason)},
			},
			Note: reason,
		}
	}

	// Rule 6: safe but not quality-scored.
	if st.Quality == nil {
		return Decision{
			Kind:  KindInvoke,
			Stage: proto.StageQuality,
			Note:  "draft safe - routing to quality checker",
		}
	}

	// Rule 7: quality below the passing threshold.
	if avg := st.Quality.Aggregate(); avg < passing {
		reason := fmt.Sprintf("Quality below threshold (avg: %.1f/10)", avg)
		if st.Quality.Feedback != "" {
			reason += ". " + st.Quality.Feedback
		}
		return Decision{
			Kind:  KindInvoke,
			Stage: proto.StageDrafter,
			Update: &proto.Update{
				NeedsRevision:    proto.Bool(true),
				RevisionReason:   proto.String(reason),
				ClearSafety:      true,
				ClearQuality:     true,
				AdvanceIteration: true,
				AppendLog:        []proto.LogEntry{supervisorEntry(st.IterationCount+1, reason)},
			},
			Note: reason,
		}
	}

	// Rule 8: both assessments present and passing, nothing outstanding.
	note := "All checks passed - ready for human review"
	return Decision{
		Kind: KindPause,
		Update: &proto.Update{
			AwaitingHuman: proto.Bool(true),
			AppendLog:     []proto.LogEntry{supervisorEntry(st.IterationCount, note)},
		},
		Note: note,
	}
}

func supervisorEntry(iteration int, note string) proto.LogEntry {
	return proto.LogEntry{
		Stage:     proto.StageSupervisor,
		Iteration: iteration,
		CreatedAt: time.Now().UTC(),
		Note:      note,
	}
}
