// Package engine drives pipeline runs: it evaluates the routing policy,
// invokes workers, merges their updates through a per-field reducer, and
// persists every transition before moving on. The engine owns no run
// bookkeeping; per-run serialization and fan-out live in the registry.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"foundry/pkg/checkpoint"
	"foundry/pkg/llm"
	"foundry/pkg/logx"
	"foundry/pkg/metrics"
	"foundry/pkg/proto"
	"foundry/pkg/supervisor"
	"foundry/pkg/worker"
)

// EventSink receives one event per persisted transition. Publish must not
// block the engine; the registry's fan-out drops rather than stalls.
type EventSink interface {
	Publish(ev proto.Event)
}

// Options configures engine construction. Zero values get sensible defaults.
type Options struct {
	Sink        EventSink
	Metrics     *metrics.Recorder
	Policy      supervisor.Policy
	SaveRetries int           // bounded retries on checkpoint failure
	SaveBackoff time.Duration // initial backoff between save retries
}

// Engine executes runs against a checkpoint store and a fixed set of
// workers. Constructed once at process start and shared by all runs; it
// holds no per-run state.
type Engine struct {
	store       checkpoint.Store
	workers     map[proto.Stage]worker.Worker
	policy      supervisor.Policy
	sink        EventSink
	metrics     *metrics.Recorder
	logger      *logx.Logger
	saveRetries int
	saveBackoff time.Duration
}

// New creates an engine. Exactly one worker per stage must be supplied.
func New(store checkpoint.Store, workers []worker.Worker, opts Options) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("checkpoint store is required")
	}

	byStage := make(map[proto.Stage]worker.Worker, len(workers))
	for _, w := range workers {
		if _, dup := byStage[w.Stage()]; dup {
			return nil, fmt.Errorf("duplicate worker for stage %s", w.Stage())
		}
		byStage[w.Stage()] = w
	}
	for _, stage := range []proto.Stage{proto.StageDrafter, proto.StageSafety, proto.StageQuality} {
		if _, ok := byStage[stage]; !ok {
			return nil, fmt.Errorf("missing worker for stage %s", stage)
		}
	}

	if opts.SaveRetries <= 0 {
		opts.SaveRetries = 3
	}
	if opts.SaveBackoff <= 0 {
		opts.SaveBackoff = 250 * time.Millisecond
	}

	return &Engine{
		store:       store,
		workers:     byStage,
		policy:      opts.Policy,
		sink:        opts.Sink,
		metrics:     opts.Metrics,
		logger:      logx.NewLogger("engine"),
		saveRetries: opts.SaveRetries,
		saveBackoff: opts.SaveBackoff,
	}, nil
}

// CreateRun persists the initial state for a new run.
func (e *Engine) CreateRun(ctx context.Context, runID, intent, contextText string, maxIterations int) (*proto.RunState, error) {
	st, err := proto.NewRunState(runID, intent, contextText, maxIterations)
	if err != nil {
		return nil, err
	}
	seq, err := e.persist(ctx, st)
	if err != nil {
		return nil, err
	}
	e.metrics.RecordRunCreated()
	e.emit(proto.EventRunCreated, st, seq, "", "run created")
	e.logger.Info("Created run %s (max %d iterations)", runID, st.MaxIterations)
	return st, nil
}

// Load returns the last persisted state for a run.
func (e *Engine) Load(ctx context.Context, runID string) (*proto.RunState, error) {
	return e.store.Load(ctx, runID)
}

// Drive steps the run until it pauses for human review, completes, or the
// context is cancelled. On cancellation the last persisted state stands and
// no partial worker update is applied.
func (e *Engine) Drive(ctx context.Context, runID string) (*proto.RunState, error) {
	st, err := e.store.Load(ctx, runID)
	if err != nil {
		return nil, err
	}

	for {
		if st.Done || st.AwaitingHuman {
			return st, nil
		}
		if err := ctx.Err(); err != nil {
			e.metrics.RecordRunFinished("cancelled")
			e.emit(proto.EventCancelled, st, 0, "", "run cancelled")
			e.logger.Info("Run %s cancelled at step boundary", runID)
			return st, err
		}

		next, stop, err := e.step(ctx, st)
		if err != nil {
			return st, err
		}
		st = next
		if stop {
			return st, nil
		}
	}
}

// step applies exactly one routing decision: policy evaluation, the decided
// worker invocation (if any), a single merged persist, and one event.
// Returns the new state and whether stepping must stop.
func (e *Engine) step(ctx context.Context, st *proto.RunState) (*proto.RunState, bool, error) {
	decision := e.policy.Decide(st)
	e.logger.Debug("Run %s decision: %s %s", st.RunID, decision.Kind, decision.Note)

	next, err := applyUpdate(st, decision.Update)
	if err != nil {
		return nil, false, fmt.Errorf("failed to apply routing decision: %w", err)
	}

	switch decision.Kind {
	case supervisor.KindInvoke:
		w, ok := e.workers[decision.Stage]
		if !ok {
			return nil, false, fmt.Errorf("no worker registered for stage %s", decision.Stage)
		}

		start := time.Now()
		update, err := w.Run(llm.WithRunID(ctx, st.RunID), next)
		e.metrics.RecordStage(string(decision.Stage), err, time.Since(start))
		if err != nil {
			return nil, false, fmt.Errorf("stage %s failed for run %s: %w", decision.Stage, st.RunID, err)
		}
		if update != nil && update.AdvanceIteration {
			return nil, false, fmt.Errorf("stage %s attempted to advance the iteration counter", decision.Stage)
		}

		next, err = applyUpdate(next, update)
		if err != nil {
			return nil, false, fmt.Errorf("failed to apply %s update: %w", decision.Stage, err)
		}

		seq, err := e.persist(ctx, next)
		if err != nil {
			return nil, false, err
		}
		e.emit(proto.EventStageApplied, next, seq, decision.Stage, decision.Note)
		return next, false, nil

	case supervisor.KindPause:
		seq, err := e.persist(ctx, next)
		if err != nil {
			return nil, false, err
		}
		e.metrics.RecordRunFinished("paused")
		e.emit(proto.EventPaused, next, seq, "", decision.Note)
		e.logger.Info("Run %s paused for human review", st.RunID)
		return next, true, nil

	case supervisor.KindComplete:
		seq, err := e.persist(ctx, next)
		if err != nil {
			return nil, false, err
		}
		e.metrics.RecordRunFinished("completed")
		e.emit(proto.EventCompleted, next, seq, "", decision.Note)
		e.logger.Info("Run %s hit its iteration budget; forcing human review", st.RunID)
		return next, true, nil

	default:
		return nil, false, fmt.Errorf("unknown decision kind %d", decision.Kind)
	}
}

// Resume applies a human decision to a paused run. Approve sets the final
// output and finishes the run; reject turns the feedback into a revision
// request. The caller drives the run afterwards if it is not done.
func (e *Engine) Resume(ctx context.Context, runID string, decision proto.HumanDecision) (*proto.RunState, error) {
	st, err := e.store.Load(ctx, runID)
	if err != nil {
		return nil, err
	}
	if st.Done {
		return nil, fmt.Errorf("%w: run %s is already done", ErrInvalidState, runID)
	}
	if !st.AwaitingHuman {
		return nil, fmt.Errorf("%w: run %s is not awaiting human review", ErrInvalidState, runID)
	}

	var update proto.Update
	if decision.Approved {
		final := st.CurrentDraft
		update = proto.Update{
			AwaitingHuman:      proto.Bool(false),
			Done:               proto.Bool(true),
			ClearHumanDecision: true,
		}
		if decision.Edits != "" {
			final = decision.Edits
			update.CurrentDraft = proto.String(decision.Edits)
			update.AppendDrafts = []proto.DraftVersion{humanDraft(st, decision.Edits)}
		}
		update.FinalOutput = proto.String(final)
		update.AppendLog = []proto.LogEntry{humanLogEntry(st, "Human approved the draft")}
	} else {
		reason := decision.Feedback
		if reason == "" {
			reason = "human requested revision"
		}
		update = proto.Update{
			AwaitingHuman:      proto.Bool(false),
			NeedsRevision:      proto.Bool(true),
			RevisionReason:     proto.String(reason),
			ClearSafety:        true,
			ClearQuality:       true,
			ClearHumanDecision: true,
			AppendLog:          []proto.LogEntry{humanLogEntry(st, fmt.Sprintf("Human requested revision: %s", reason))},
		}
		if decision.Edits != "" {
			update.CurrentDraft = proto.String(decision.Edits)
			update.AppendDrafts = []proto.DraftVersion{humanDraft(st, decision.Edits)}
		}
	}

	next, err := applyUpdate(st, &update)
	if err != nil {
		return nil, fmt.Errorf("failed to apply human decision: %w", err)
	}

	seq, err := e.persist(ctx, next)
	if err != nil {
		return nil, err
	}
	if next.Done {
		e.emit(proto.EventCompleted, next, seq, "", "human approved")
		e.logger.Info("Run %s approved by human", runID)
	} else {
		e.emit(proto.EventResumed, next, seq, "", "human requested revision")
		e.logger.Info("Run %s resumed with revision request", runID)
	}
	return next, nil
}

// SaveEdit applies an out-of-band human edit: new draft version, updated
// current draft, routing state untouched.
func (e *Engine) SaveEdit(ctx context.Context, runID, content string) (*proto.RunState, error) {
	if content == "" {
		return nil, fmt.Errorf("edit content cannot be empty")
	}

	st, err := e.store.Load(ctx, runID)
	if err != nil {
		return nil, err
	}
	if st.Done {
		return nil, fmt.Errorf("%w: run %s is already done", ErrInvalidState, runID)
	}

	update := proto.Update{
		CurrentDraft: proto.String(content),
		AppendDrafts: []proto.DraftVersion{humanDraft(st, content)},
	}
	next, err := applyUpdate(st, &update)
	if err != nil {
		return nil, fmt.Errorf("failed to apply edit: %w", err)
	}

	seq, err := e.persist(ctx, next)
	if err != nil {
		return nil, err
	}
	e.emit(proto.EventEdited, next, seq, "", "human saved an edit")
	return next, nil
}

// persist saves with bounded retry and backoff, then reports ErrUnavailable
// when the store stays down.
func (e *Engine) persist(ctx context.Context, st *proto.RunState) (int64, error) {
	var lastErr error
	backoff := e.saveBackoff

	for attempt := 0; attempt <= e.saveRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		seq, err := e.store.Save(ctx, st)
		if err == nil {
			return seq, nil
		}
		lastErr = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return 0, err
		}
		e.logger.Warn("Checkpoint save failed for run %s (attempt %d/%d): %v",
			st.RunID, attempt+1, e.saveRetries+1, err)
	}

	return 0, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func (e *Engine) emit(typ proto.EventType, st *proto.RunState, seq int64, stage proto.Stage, note string) {
	if e.sink == nil {
		return
	}
	e.sink.Publish(proto.Event{
		RunID:     st.RunID,
		Seq:       seq,
		Type:      typ,
		Stage:     stage,
		Iteration: st.IterationCount,
		Note:      note,
		Timestamp: time.Now().UTC(),
		State:     st.Clone(),
	})
}

func humanDraft(st *proto.RunState, content string) proto.DraftVersion {
	return proto.DraftVersion{
		Version:   st.NextDraftVersion(),
		Content:   content,
		CreatedAt: time.Now().UTC(),
		Author:    proto.AuthorHuman,
	}
}

func humanLogEntry(st *proto.RunState, note string) proto.LogEntry {
	return proto.LogEntry{
		Stage:     proto.StageSupervisor,
		Iteration: st.IterationCount,
		CreatedAt: time.Now().UTC(),
		Note:      note,
	}
}
