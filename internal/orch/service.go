// Package orch assembles the pipeline from configuration and exposes the
// externally visible operations: creating runs, driving them, human
// decisions, out-of-band edits, and event subscriptions.
package orch

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"foundry/pkg/checkpoint"
	"foundry/pkg/config"
	"foundry/pkg/engine"
	"foundry/pkg/eventlog"
	"foundry/pkg/history"
	"foundry/pkg/llm"
	"foundry/pkg/logx"
	"foundry/pkg/metrics"
	"foundry/pkg/proto"
	"foundry/pkg/registry"
	"foundry/pkg/supervisor"
	"foundry/pkg/worker"
)

// Service owns the engine and its supporting stores for one process.
type Service struct {
	cfg      *config.Config
	engine   *engine.Engine
	registry *registry.Registry
	history  *history.Store
	events   *eventlog.Writer
	store    checkpoint.Store
	metrics  *metrics.Recorder
	promReg  *prometheus.Registry
	logger   *logx.Logger
}

// New builds the full pipeline: checkpoint store per the configured backend,
// one instrumented LLM client per stage, history and event log sinks.
func New(ctx context.Context, cfg *config.Config) (*Service, error) {
	store, err := newCheckpointStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	hist, err := history.NewStore(cfg.HistoryDBPath)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to open history store: %w", err)
	}
	events, err := eventlog.NewWriter(cfg.EventLogDir)
	if err != nil {
		store.Close()
		hist.Close()
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}

	promReg := prometheus.NewRegistry()
	recorder := metrics.NewRecorderWith(promReg)
	reg := registry.New()
	logger := logx.NewLogger("orch")

	pack, err := loadPromptPack(cfg)
	if err != nil {
		store.Close()
		hist.Close()
		events.Close()
		return nil, err
	}

	workers, err := buildWorkers(cfg, pack, recorder)
	if err != nil {
		store.Close()
		hist.Close()
		events.Close()
		return nil, err
	}

	eng, err := engine.New(store, workers, engine.Options{
		Policy: supervisor.Policy{PassingScore: cfg.QualityThreshold},
		Sink: multiSink{
			reg,
			events,
			&historySink{store: hist, logger: logger},
		},
		Metrics: recorder,
	})
	if err != nil {
		store.Close()
		hist.Close()
		events.Close()
		return nil, fmt.Errorf("failed to build engine: %w", err)
	}

	return &Service{
		cfg:      cfg,
		engine:   eng,
		registry: reg,
		history:  hist,
		events:   events,
		store:    store,
		metrics:  recorder,
		promReg:  promReg,
		logger:   logger,
	}, nil
}

func newCheckpointStore(ctx context.Context, cfg *config.Config) (checkpoint.Store, error) {
	switch cfg.Checkpoint.Backend {
	case config.BackendSQLite:
		return checkpoint.NewSQLiteStore(cfg.Checkpoint.DBPath)
	case config.BackendRedis:
		return checkpoint.NewRedisStore(ctx, cfg.Checkpoint.RedisAddr)
	case config.BackendMemory:
		return checkpoint.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Checkpoint.Backend)
	}
}

func loadPromptPack(cfg *config.Config) (*worker.PromptPack, error) {
	pack := worker.DefaultPromptPack()
	if cfg.PromptPack != "" {
		loaded, err := worker.LoadPromptPack(cfg.PromptPack)
		if err != nil {
			return nil, fmt.Errorf("failed to load prompt pack: %w", err)
		}
		pack = loaded
	}
	// Stage settings from the config override the pack.
	pack.Drafter.Temperature = float32(cfg.Drafter.Temperature)
	pack.Drafter.MaxTokens = cfg.Drafter.MaxTokens
	pack.Safety.Temperature = float32(cfg.Safety.Temperature)
	pack.Safety.MaxTokens = cfg.Safety.MaxTokens
	pack.Quality.Temperature = float32(cfg.Quality.Temperature)
	pack.Quality.MaxTokens = cfg.Quality.MaxTokens
	return pack, nil
}

func buildWorkers(cfg *config.Config, pack *worker.PromptPack, recorder *metrics.Recorder) ([]worker.Worker, error) {
	counter, err := llm.NewTokenCounter()
	if err != nil {
		return nil, fmt.Errorf("failed to build token counter: %w", err)
	}

	client := func(stage string, s config.StageLLM) (llm.LLMClient, error) {
		c, err := llm.NewClient(s.Provider, s.Model, llm.ClientOptions{APIKey: s.APIKey, HostURL: s.HostURL})
		if err != nil {
			return nil, fmt.Errorf("failed to build %s client: %w", stage, err)
		}
		return llm.NewInstrumentedClient(c, recorder, counter, stage), nil
	}

	drafterClient, err := client("drafter", cfg.Drafter)
	if err != nil {
		return nil, err
	}
	safetyClient, err := client("safety", cfg.Safety)
	if err != nil {
		return nil, err
	}
	qualityClient, err := client("quality", cfg.Quality)
	if err != nil {
		return nil, err
	}

	return []worker.Worker{
		worker.NewDrafter(drafterClient, pack.Drafter),
		worker.NewSafetyChecker(safetyClient, pack.Safety),
		worker.NewQualityChecker(qualityClient, pack.Quality),
	}, nil
}

// CreateRun registers a new run and returns its initial state. When runID is
// empty a UUID is assigned.
func (s *Service) CreateRun(ctx context.Context, runID, intent, contextText string) (*proto.RunState, error) {
	if runID == "" {
		runID = uuid.NewString()
	}
	return s.engine.CreateRun(ctx, runID, intent, contextText, s.cfg.MaxIterations)
}

// Drive advances a run until it pauses, completes, or fails. The run is
// leased for the duration; concurrent drives of the same run get ErrRunBusy.
// In auto-approve mode the human pause is resolved by approving the draft
// as-is.
func (s *Service) Drive(ctx context.Context, runID string) (*proto.RunState, error) {
	release, err := s.registry.Acquire(runID)
	if err != nil {
		return nil, err
	}
	defer release()

	driveCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.registry.Track(runID, cancel)

	st, err := s.engine.Drive(driveCtx, runID)
	if err != nil {
		return st, err
	}
	if s.cfg.AutoApprove && st.AwaitingHuman && !st.Done {
		s.logger.Info("Auto-approving run %s", runID)
		return s.engine.Resume(ctx, runID, proto.HumanDecision{Approved: true})
	}
	return st, nil
}

// GetState returns the current persisted state of a run. Read-only; never
// takes the run lease.
func (s *Service) GetState(ctx context.Context, runID string) (*proto.RunState, error) {
	return s.engine.Load(ctx, runID)
}

// SubmitHumanDecision resolves a human-review pause. A rejection immediately
// resumes driving so the revision happens in the same call.
func (s *Service) SubmitHumanDecision(ctx context.Context, runID string, decision proto.HumanDecision) (*proto.RunState, error) {
	release, err := s.registry.Acquire(runID)
	if err != nil {
		return nil, err
	}
	defer release()

	st, err := s.engine.Resume(ctx, runID, decision)
	if err != nil {
		return st, err
	}
	if st.Done || st.AwaitingHuman {
		return st, nil
	}

	driveCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.registry.Track(runID, cancel)
	return s.engine.Drive(driveCtx, runID)
}

// SaveEdit records a human edit to the current draft without changing
// routing state.
func (s *Service) SaveEdit(ctx context.Context, runID, content string) (*proto.RunState, error) {
	release, err := s.registry.Acquire(runID)
	if err != nil {
		return nil, err
	}
	defer release()
	return s.engine.SaveEdit(ctx, runID, content)
}

// Subscribe streams events for one run, or all runs when runID is empty.
func (s *Service) Subscribe(runID string) (<-chan proto.Event, func()) {
	return s.registry.Subscribe(runID, 64)
}

// Cancel aborts the in-flight drive of a run, if any.
func (s *Service) Cancel(runID string) bool {
	return s.registry.Cancel(runID)
}

// History exposes the audit store for CLI queries.
func (s *Service) History() *history.Store {
	return s.history
}

// MetricsRegistry exposes the Prometheus registry for an HTTP handler.
func (s *Service) MetricsRegistry() *prometheus.Registry {
	return s.promReg
}

// Close releases every store. Safe to call once after all drives finish.
func (s *Service) Close() error {
	var errs []error
	if err := s.events.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.history.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
