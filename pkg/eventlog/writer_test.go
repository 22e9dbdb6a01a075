package eventlog

import (
	"testing"
	"time"

	"foundry/pkg/proto"
)

func TestWriteAndReadEvents(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	defer w.Close()

	events := []proto.Event{
		{RunID: "run-1", Seq: 1, Type: proto.EventRunCreated, Timestamp: time.Now().UTC()},
		{RunID: "run-1", Seq: 2, Type: proto.EventStageApplied, Stage: proto.StageDrafter, Iteration: 1},
		{RunID: "run-2", Seq: 1, Type: proto.EventPaused, Note: "ready for human review"},
	}
	for _, ev := range events {
		if err := w.WriteEvent(ev); err != nil {
			t.Fatalf("WriteEvent failed: %v", err)
		}
	}

	got, err := ReadEvents(w.CurrentLogFile())
	if err != nil {
		t.Fatalf("ReadEvents failed: %v", err)
	}
	if len(got) != len(events) {
		t.Fatalf("expected %d events, got %d", len(events), len(got))
	}
	for i, ev := range got {
		if ev.RunID != events[i].RunID || ev.Type != events[i].Type || ev.Seq != events[i].Seq {
			t.Errorf("event %d mismatch: got %+v", i, ev)
		}
	}
	if got[1].Stage != proto.StageDrafter || got[1].Iteration != 1 {
		t.Errorf("stage fields lost in roundtrip: %+v", got[1])
	}
}

func TestPublishSwallowsWriteErrors(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Closed writer reopens the file on the next write, so Publish succeeds
	// and never panics.
	w.Publish(proto.Event{RunID: "run-1", Type: proto.EventCompleted})

	files, err := ListLogFiles(dir)
	if err != nil {
		t.Fatalf("ListLogFiles failed: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected one log file, got %d", len(files))
	}
	events, err := ReadEvents(files[0])
	if err != nil {
		t.Fatalf("ReadEvents failed: %v", err)
	}
	if len(events) != 1 || events[0].Type != proto.EventCompleted {
		t.Errorf("expected the published event on disk, got %+v", events)
	}
}

func TestReadEventsMissingFile(t *testing.T) {
	if _, err := ReadEvents("/nonexistent/events-2026-01-01.jsonl"); err == nil {
		t.Error("expected an error for a missing log file")
	}
}
