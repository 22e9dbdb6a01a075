package orch

import (
	"context"
	"time"

	"foundry/pkg/engine"
	"foundry/pkg/history"
	"foundry/pkg/logx"
	"foundry/pkg/proto"
)

// multiSink fans each engine event out to every configured sink.
type multiSink []engine.EventSink

func (m multiSink) Publish(ev proto.Event) {
	for _, sink := range m {
		sink.Publish(ev)
	}
}

// historySink projects engine events into the audit store. Failures are
// logged, never propagated: history lags rather than stalls the pipeline.
type historySink struct {
	store  *history.Store
	logger *logx.Logger
}

func (h *historySink) Publish(ev proto.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st := ev.State
	if st == nil {
		return
	}

	var err error
	switch ev.Type {
	case proto.EventRunCreated:
		err = h.store.RecordRunCreated(ctx, st)
	case proto.EventStageApplied, proto.EventPaused, proto.EventResumed, proto.EventCompleted:
		if len(st.Log) > 0 {
			err = h.store.RecordLogEntry(ctx, ev.RunID, st.Log[len(st.Log)-1])
		}
		if err == nil && ev.Stage == proto.StageSafety && st.Safety != nil {
			err = h.store.RecordSafety(ctx, ev.RunID, st.IterationCount, st.Safety)
		}
		if err == nil && st.Done {
			err = h.store.RecordCompletion(ctx, ev.RunID, "completed", st.FinalOutput)
		}
	case proto.EventCancelled:
		err = h.store.RecordCompletion(ctx, ev.RunID, "cancelled", "")
	}
	if err != nil {
		h.logger.Error("Failed to record %s event for run %s: %v", ev.Type, ev.RunID, err)
	}
}
