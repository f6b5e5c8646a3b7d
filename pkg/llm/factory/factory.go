// Package factory creates provider-specific LLM clients. It lives outside
// package llm so the provider implementations can depend on the client
// interface without a cycle.
package factory

import (
	"fmt"

	"guidance/pkg/config"
	"guidance/pkg/llm"
	"guidance/pkg/llm/internal/llmimpl/anthropic"
	"guidance/pkg/llm/internal/llmimpl/google"
	"guidance/pkg/llm/internal/llmimpl/ollama"
	"guidance/pkg/llm/internal/llmimpl/openai"
)

// NewProviderClient creates a raw LLM client for the configured provider and model.
// The API key is retrieved from environment variables based on the provider.
// Middleware (retry, metrics, timeout) is applied by callers via llm.Chain.
func NewProviderClient(cfg *config.LLMConfig, model string) (llm.LLMClient, error) {
	apiKey, err := config.GetAPIKey(cfg.Provider)
	if err != nil {
		return nil, fmt.Errorf("failed to get API key for provider %s: %w", cfg.Provider, err)
	}

	switch cfg.Provider {
	case config.ProviderAnthropic:
		return anthropic.NewClient(apiKey, model), nil
	case config.ProviderOpenAI:
		return openai.NewClient(apiKey, model), nil
	case config.ProviderGoogle:
		return google.NewClient(apiKey, model), nil
	case config.ProviderOllama:
		host := cfg.OllamaHost
		if host == "" {
			host = apiKey // GetAPIKey returns the host URL for Ollama
		}
		return ollama.NewClient(host, model), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}
