package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8765, cfg.Server.Port)
	assert.Equal(t, ProviderOpenAI, cfg.LLM.Provider)
	assert.Equal(t, 3, cfg.LLM.Retry.MaxAttempts)
	assert.Equal(t, 6, cfg.RAG.TopK)
	assert.Equal(t, 256, cfg.Session.MaxSessions)
	assert.Equal(t, 30*time.Minute, cfg.Session.IdleTTL)
	assert.Equal(t, 3, cfg.Session.MaxFallbacks)
	assert.False(t, cfg.Persistence.Enabled)
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9001
llm:
  provider: anthropic
  model: claude-sonnet-4-20250514
  vision_model: claude-sonnet-4-20250514
session:
  max_sessions: 16
  idle_ttl: 5m
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9001, cfg.Server.Port)
	assert.Equal(t, ProviderAnthropic, cfg.LLM.Provider)
	assert.Equal(t, "claude-sonnet-4-20250514", cfg.LLM.Model)
	assert.Equal(t, 16, cfg.Session.MaxSessions)
	assert.Equal(t, 5*time.Minute, cfg.Session.IdleTTL)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("GUIDANCE_SERVER__PORT", "9100")
	t.Setenv("GUIDANCE_LLM__PROVIDER", "ollama")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, ProviderOllama, cfg.LLM.Provider)
}

func TestVisionModelDefaultsToModel(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, cfg.LLM.Model, cfg.LLM.VisionModel)
}

func TestValidateRejectsBadProvider(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.LLM.Provider = "bedrock"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Server.Port = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsBadEmbeddingProvider(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.RAG.Embedding.Provider = "cohere"
	assert.Error(t, cfg.Validate())
}

func TestGetAPIKey(t *testing.T) {
	t.Setenv(EnvAnthropicAPIKey, "test-key")
	key, err := GetAPIKey(ProviderAnthropic)
	require.NoError(t, err)
	assert.Equal(t, "test-key", key)
}

func TestGetAPIKeyMissing(t *testing.T) {
	t.Setenv(EnvOpenAIAPIKey, "")
	_, err := GetAPIKey(ProviderOpenAI)
	assert.Error(t, err)
}

func TestGetAPIKeyOllamaDefaultsHost(t *testing.T) {
	t.Setenv(EnvOllamaHost, "")
	host, err := GetAPIKey(ProviderOllama)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:11434", host)
}

func TestGetAPIKeyUnknownProvider(t *testing.T) {
	_, err := GetAPIKey("bedrock")
	assert.Error(t, err)
}
