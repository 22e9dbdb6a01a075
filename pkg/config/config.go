// Package config loads pipeline configuration from a JSON file with
// ${VAR} environment substitution, applies defaults, and validates the
// result before anything is wired up.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"foundry/pkg/llm"
	"foundry/pkg/proto"
	"foundry/pkg/supervisor"
)

// Checkpoint backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// StageLLM configures the model behind one pipeline stage.
type StageLLM struct {
	Provider    llm.Provider `json:"provider"`
	Model       string       `json:"model"`
	Temperature float64      `json:"temperature"`
	MaxTokens   int          `json:"max_tokens"`
	APIKey      string       `json:"api_key,omitempty"`
	HostURL     string       `json:"host_url,omitempty"` // ollama only
}

// CheckpointConfig selects and parameterizes the durable run-state store.
type CheckpointConfig struct {
	Backend   string `json:"backend"`
	DBPath    string `json:"db_path,omitempty"`
	RedisAddr string `json:"redis_addr,omitempty"`
}

// Config is the full pipeline configuration.
type Config struct {
	MaxIterations    int     `json:"max_iterations"`
	QualityThreshold float64 `json:"quality_threshold"`
	AutoApprove      bool    `json:"auto_approve"`

	Drafter StageLLM `json:"drafter"`
	Safety  StageLLM `json:"safety"`
	Quality StageLLM `json:"quality"`

	Checkpoint    CheckpointConfig `json:"checkpoint"`
	HistoryDBPath string           `json:"history_db_path"`
	EventLogDir   string           `json:"event_log_dir"`
	PromptPack    string           `json:"prompt_pack,omitempty"`
	PrometheusURL string           `json:"prometheus_url,omitempty"`
}

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// Default returns the configuration used when no file is given: Anthropic
// for drafting, cheaper assessor settings, SQLite stores under dataDir.
func Default(dataDir string) *Config {
	cfg := &Config{}
	applyDefaults(cfg, dataDir)
	return cfg
}

// Load reads a JSON config file, substitutes ${VAR} placeholders from the
// environment, fills defaults, and validates. Unset variables keep the
// placeholder so validation can point at them.
func Load(configPath, dataDir string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := envVarRegex.ReplaceAllStringFunc(string(data), func(match string) string {
		if value := os.Getenv(match[2 : len(match)-1]); value != "" {
			return value
		}
		return match
	})

	var cfg Config
	if err := json.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	applyDefaults(&cfg, dataDir)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config, dataDir string) {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = proto.DefaultMaxIterations
	}
	if cfg.QualityThreshold == 0 {
		cfg.QualityThreshold = supervisor.PassingScore
	}
	applyStageDefaults(&cfg.Drafter, 0.7, 4096)
	applyStageDefaults(&cfg.Safety, 0.3, 2048)
	applyStageDefaults(&cfg.Quality, 0.3, 2048)

	if cfg.Checkpoint.Backend == "" {
		cfg.Checkpoint.Backend = BackendSQLite
	}
	if cfg.Checkpoint.DBPath == "" {
		cfg.Checkpoint.DBPath = filepath.Join(dataDir, "checkpoints.db")
	}
	if cfg.Checkpoint.RedisAddr == "" {
		cfg.Checkpoint.RedisAddr = "localhost:6379"
	}
	if cfg.HistoryDBPath == "" {
		cfg.HistoryDBPath = filepath.Join(dataDir, "history.db")
	}
	if cfg.EventLogDir == "" {
		cfg.EventLogDir = filepath.Join(dataDir, "events")
	}
}

func applyStageDefaults(s *StageLLM, temperature float64, maxTokens int) {
	if s.Provider == "" {
		s.Provider = llm.ProviderAnthropic
	}
	if s.Model == "" {
		s.Model = "claude-sonnet-4-20250514"
	}
	if s.Temperature == 0 {
		s.Temperature = temperature
	}
	if s.MaxTokens <= 0 {
		s.MaxTokens = maxTokens
	}
}

// Validate rejects unknown backends and providers, out-of-range stage
// settings, and unresolved ${VAR} placeholders in secrets.
func (c *Config) Validate() error {
	switch c.Checkpoint.Backend {
	case BackendSQLite, BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("unknown checkpoint backend %q", c.Checkpoint.Backend)
	}

	stages := map[string]*StageLLM{"drafter": &c.Drafter, "safety": &c.Safety, "quality": &c.Quality}
	for name, s := range stages {
		switch s.Provider {
		case llm.ProviderAnthropic, llm.ProviderOpenAI, llm.ProviderOllama, llm.ProviderGemini:
		default:
			return fmt.Errorf("stage %s: unknown provider %q", name, s.Provider)
		}
		if s.Temperature < 0 || s.Temperature > 2 {
			return fmt.Errorf("stage %s: temperature %.2f out of range [0,2]", name, s.Temperature)
		}
		if envVarRegex.MatchString(s.APIKey) {
			return fmt.Errorf("stage %s: api_key references an unset environment variable", name)
		}
	}

	if c.MaxIterations < 1 || c.MaxIterations > 50 {
		return fmt.Errorf("max_iterations %d out of range [1,50]", c.MaxIterations)
	}
	if c.QualityThreshold <= 0 || c.QualityThreshold > 10 {
		return fmt.Errorf("quality_threshold %.1f out of range (0,10]", c.QualityThreshold)
	}
	return nil
}
