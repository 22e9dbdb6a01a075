package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"foundry/pkg/llm"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default("/var/lib/foundry")

	if cfg.MaxIterations != 5 {
		t.Errorf("default max_iterations must be 5, got %d", cfg.MaxIterations)
	}
	if cfg.Drafter.Provider != llm.ProviderAnthropic || cfg.Drafter.Temperature != 0.7 {
		t.Errorf("drafter defaults wrong: %+v", cfg.Drafter)
	}
	if cfg.Safety.Temperature != 0.3 || cfg.Quality.Temperature != 0.3 {
		t.Error("assessor stages must default to a low temperature")
	}
	if cfg.QualityThreshold != 7.0 {
		t.Errorf("default quality threshold must be 7.0, got %.1f", cfg.QualityThreshold)
	}
	if cfg.Checkpoint.Backend != BackendSQLite {
		t.Errorf("default backend must be sqlite, got %s", cfg.Checkpoint.Backend)
	}
	if cfg.Checkpoint.DBPath != "/var/lib/foundry/checkpoints.db" {
		t.Errorf("checkpoint db path wrong: %s", cfg.Checkpoint.DBPath)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_FOUNDRY_KEY", "sk-test-123")
	path := writeConfig(t, `{
		"max_iterations": 3,
		"drafter": {"provider": "openai", "model": "gpt-4o", "api_key": "${TEST_FOUNDRY_KEY}"},
		"checkpoint": {"backend": "memory"}
	}`)

	cfg, err := Load(path, t.TempDir())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.MaxIterations != 3 {
		t.Errorf("max_iterations not loaded: %d", cfg.MaxIterations)
	}
	if cfg.Drafter.Provider != llm.ProviderOpenAI || cfg.Drafter.Model != "gpt-4o" {
		t.Errorf("drafter stage not loaded: %+v", cfg.Drafter)
	}
	if cfg.Drafter.APIKey != "sk-test-123" {
		t.Errorf("env substitution failed: %q", cfg.Drafter.APIKey)
	}
	if cfg.Checkpoint.Backend != BackendMemory {
		t.Errorf("backend not loaded: %s", cfg.Checkpoint.Backend)
	}
	// Unspecified stages still get defaults.
	if cfg.Safety.Provider != llm.ProviderAnthropic || cfg.Safety.MaxTokens != 2048 {
		t.Errorf("safety defaults not applied: %+v", cfg.Safety)
	}
}

func TestLoadRejectsUnsetEnvVar(t *testing.T) {
	path := writeConfig(t, `{
		"drafter": {"api_key": "${DEFINITELY_NOT_SET_ANYWHERE}"}
	}`)

	_, err := Load(path, t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "unset environment variable") {
		t.Errorf("expected unresolved placeholder error, got %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Checkpoint.Backend = "etcd" }},
		{"unknown provider", func(c *Config) { c.Safety.Provider = "acme" }},
		{"temperature out of range", func(c *Config) { c.Drafter.Temperature = 3.5 }},
		{"max_iterations out of range", func(c *Config) { c.MaxIterations = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default(t.TempDir())
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.json", t.TempDir()); err == nil {
		t.Error("expected error for missing config file")
	}
}
