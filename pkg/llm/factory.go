package llm

import (
	"fmt"
	"os"
)

// Provider identifies an LLM backend.
type Provider string

const (
	// ProviderAnthropic selects the Anthropic Claude backend.
	ProviderAnthropic Provider = "anthropic"
	// ProviderOpenAI selects the OpenAI backend.
	ProviderOpenAI Provider = "openai"
	// ProviderOllama selects a local Ollama server.
	ProviderOllama Provider = "ollama"
	// ProviderGemini selects the Google Gemini backend.
	ProviderGemini Provider = "gemini"
)

// Environment variables consulted for API keys when ClientOptions.APIKey is empty.
const (
	envAnthropicKey = "ANTHROPIC_API_KEY"
	envOpenAIKey    = "OPENAI_API_KEY"
	envGeminiKey    = "GEMINI_API_KEY"
)

// ClientOptions configures client construction.
type ClientOptions struct {
	APIKey  string // empty means read from the provider's environment variable
	HostURL string // Ollama server URL, ignored by hosted providers
}

// NewClient constructs a retry-wrapped client for the given provider and model.
func NewClient(provider Provider, model string, opts ClientOptions) (LLMClient, error) {
	raw, err := newRawClient(provider, model, opts)
	if err != nil {
		return nil, err
	}
	return NewRetryableClient(raw), nil
}

func newRawClient(provider Provider, model string, opts ClientOptions) (LLMClient, error) {
	if model == "" {
		return nil, fmt.Errorf("model name is required for provider %s", provider)
	}

	switch provider {
	case ProviderAnthropic:
		key, err := resolveKey(opts.APIKey, envAnthropicKey)
		if err != nil {
			return nil, err
		}
		return NewClaudeClient(key, model), nil
	case ProviderOpenAI:
		key, err := resolveKey(opts.APIKey, envOpenAIKey)
		if err != nil {
			return nil, err
		}
		return NewOpenAIClient(key, model), nil
	case ProviderOllama:
		host := opts.HostURL
		if host == "" {
			host = "http://localhost:11434"
		}
		return NewOllamaClient(host, model), nil
	case ProviderGemini:
		key, err := resolveKey(opts.APIKey, envGeminiKey)
		if err != nil {
			return nil, err
		}
		return NewGeminiClient(key, model), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s", provider)
	}
}

func resolveKey(explicit, envVar string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if key := os.Getenv(envVar); key != "" {
		return key, nil
	}
	return "", fmt.Errorf("no API key provided and %s is not set", envVar)
}
