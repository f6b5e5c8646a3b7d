package factory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guidance/pkg/config"
)

func TestNewProviderClient(t *testing.T) {
	t.Setenv(config.EnvOpenAIAPIKey, "test-key")
	t.Setenv(config.EnvAnthropicAPIKey, "test-key")

	tests := []struct {
		name     string
		provider string
		model    string
	}{
		{"openai", config.ProviderOpenAI, "gpt-4o"},
		{"anthropic", config.ProviderAnthropic, "claude-sonnet-4-20250514"},
		{"ollama", config.ProviderOllama, "llama3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewProviderClient(&config.LLMConfig{Provider: tt.provider}, tt.model)
			require.NoError(t, err)
			assert.Equal(t, tt.model, client.GetModelName())
		})
	}
}

func TestNewProviderClientUnknownProvider(t *testing.T) {
	_, err := NewProviderClient(&config.LLMConfig{Provider: "mainframe"}, "model")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mainframe")
}

func TestNewProviderClientMissingKey(t *testing.T) {
	t.Setenv(config.EnvOpenAIAPIKey, "")

	_, err := NewProviderClient(&config.LLMConfig{Provider: config.ProviderOpenAI}, "gpt-4o")
	require.Error(t, err)
	assert.Contains(t, err.Error(), config.EnvOpenAIAPIKey)
}
