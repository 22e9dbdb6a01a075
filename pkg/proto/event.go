package proto

import "time"

// EventType labels a state-delta event emitted after each persisted
// transition.
type EventType string

const (
	EventRunCreated   EventType = "run_created"
	EventStageApplied EventType = "stage_applied"
	EventPaused       EventType = "paused"
	EventResumed      EventType = "resumed"
	EventCompleted    EventType = "completed"
	EventCancelled    EventType = "cancelled"
	EventEdited       EventType = "edited"
)

// Event is one state-delta notification for a run, published in persisted
// order. Seq is the per-run sequence number assigned by the engine; State is
// a snapshot taken after the transition was persisted.
type Event struct {
	RunID     string    `json:"run_id"`
	Seq       int64     `json:"seq"`
	Type      EventType `json:"type"`
	Stage     Stage     `json:"stage,omitempty"`
	Iteration int       `json:"iteration"`
	Note      string    `json:"note,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	State     *RunState `json:"state,omitempty"`
}
