package orch

import (
	"context"
	"errors"
	"testing"

	"foundry/pkg/config"
	"foundry/pkg/llm"
	"foundry/pkg/proto"
	"foundry/pkg/registry"
)

// testConfig uses the memory checkpoint backend and local providers so no
// network credentials are needed to assemble the service.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default(dir)
	cfg.Checkpoint.Backend = config.BackendMemory
	for _, s := range []*config.StageLLM{&cfg.Drafter, &cfg.Safety, &cfg.Quality} {
		s.Provider = llm.ProviderOllama
		s.Model = "llama3.2"
	}
	return cfg
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := New(context.Background(), testConfig(t))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	return svc
}

func TestLoadPromptPackAppliesStageSettings(t *testing.T) {
	cfg := testConfig(t)
	cfg.Drafter.Temperature = 0.9
	cfg.Drafter.MaxTokens = 1024
	cfg.Safety.Temperature = 0.1
	cfg.Quality.MaxTokens = 512

	pack, err := loadPromptPack(cfg)
	if err != nil {
		t.Fatalf("loadPromptPack failed: %v", err)
	}
	if pack.Drafter.Temperature != 0.9 || pack.Drafter.MaxTokens != 1024 {
		t.Errorf("drafter settings not applied: %+v", pack.Drafter)
	}
	if pack.Safety.Temperature != 0.1 {
		t.Errorf("safety temperature not applied: %v", pack.Safety.Temperature)
	}
	if pack.Quality.MaxTokens != 512 {
		t.Errorf("quality max tokens not applied: %d", pack.Quality.MaxTokens)
	}

	// The full assembly accepts the same config.
	svc, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New failed with stage overrides: %v", err)
	}
	svc.Close()
}

func TestCreateRunAssignsID(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	st, err := svc.CreateRun(ctx, "", "Create a breathing exercise", "")
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	if st.RunID == "" {
		t.Error("expected a generated run id")
	}
	if st.MaxIterations != 5 {
		t.Errorf("config max_iterations not applied: %d", st.MaxIterations)
	}

	st2, err := svc.CreateRun(ctx, "explicit-id", "Create a worry log", "")
	if err != nil {
		t.Fatalf("CreateRun with explicit id failed: %v", err)
	}
	if st2.RunID != "explicit-id" {
		t.Errorf("explicit run id not honored: %s", st2.RunID)
	}
}

func TestGetStateRoundtrip(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateRun(ctx, "run-1", "Create a sleep diary", "patient works night shifts")
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	loaded, err := svc.GetState(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	if loaded.Intent != created.Intent || loaded.Context != created.Context {
		t.Errorf("loaded state differs from created: %+v", loaded)
	}
}

func TestSaveEditAppendsHumanVersion(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateRun(ctx, "run-1", "Create a gratitude exercise", ""); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	st, err := svc.SaveEdit(ctx, "run-1", "hand-written draft")
	if err != nil {
		t.Fatalf("SaveEdit failed: %v", err)
	}
	if st.CurrentDraft != "hand-written draft" {
		t.Errorf("current draft not updated: %q", st.CurrentDraft)
	}
	if len(st.DraftVersions) != 1 || st.DraftVersions[0].Author != proto.AuthorHuman {
		t.Errorf("expected one human draft version, got %+v", st.DraftVersions)
	}
}

func TestSubscribeSeesLifecycleEvents(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	ch, stop := svc.Subscribe("run-1")
	defer stop()

	if _, err := svc.CreateRun(ctx, "run-1", "Create an activity schedule", ""); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	ev := <-ch
	if ev.Type != proto.EventRunCreated || ev.RunID != "run-1" {
		t.Errorf("expected run_created for run-1, got %+v", ev)
	}
	if ev.State == nil || ev.State.Intent != "Create an activity schedule" {
		t.Error("event must carry a state snapshot")
	}
}

func TestHistoryRecordsRunCreation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateRun(ctx, "run-1", "Create a relapse plan", ""); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	rec, _, err := svc.History().GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("history GetRun failed: %v", err)
	}
	if rec.Intent != "Create a relapse plan" || rec.Outcome != "" {
		t.Errorf("history record wrong: %+v", rec)
	}
}

func TestSubmitDecisionRequiresPause(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateRun(ctx, "run-1", "Create a values worksheet", ""); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	if _, err := svc.SubmitHumanDecision(ctx, "run-1", proto.HumanDecision{Approved: true}); err == nil {
		t.Error("expected an error for a run that is not awaiting review")
	}
}

func TestLeaseBlocksConcurrentOperations(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateRun(ctx, "run-1", "Create a panic plan", ""); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	release, err := svc.registry.Acquire("run-1")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer release()

	if _, err := svc.SaveEdit(ctx, "run-1", "edit"); !errors.Is(err, registry.ErrRunBusy) {
		t.Errorf("expected ErrRunBusy while lease is held, got %v", err)
	}
}
