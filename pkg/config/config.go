// Package config provides configuration loading for the guidance server.
// Configuration is layered: built-in defaults, then an optional YAML file,
// then GUIDANCE_-prefixed environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Provider identifiers for LLM backends.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderOllama    = "ollama"
)

// Environment variable names for provider credentials.
const (
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
	EnvGoogleAPIKey    = "GEMINI_API_KEY"
	EnvOllamaHost      = "OLLAMA_HOST"
)

// Config is the root configuration for the guidance server.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	LLM         LLMConfig         `koanf:"llm"`
	RAG         RAGConfig         `koanf:"rag"`
	Session     SessionConfig     `koanf:"session"`
	Metrics     MetricsConfig     `koanf:"metrics"`
	Persistence PersistenceConfig `koanf:"persistence"`
	Admin       AdminConfig       `koanf:"admin"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `koanf:"host"`
	Port           int           `koanf:"port"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

// LLMConfig holds LLM provider settings.
type LLMConfig struct {
	Provider    string        `koanf:"provider"`     // anthropic, openai, google, ollama
	Model       string        `koanf:"model"`        // chat model for text nodes
	VisionModel string        `koanf:"vision_model"` // model for screenshot analysis (defaults to Model)
	OllamaHost  string        `koanf:"ollama_host"`  // only used when provider is ollama
	MaxTokens   int           `koanf:"max_tokens"`
	Timeout     time.Duration `koanf:"timeout"`
	Retry       RetryConfig   `koanf:"retry"`
}

// RetryConfig holds retry behavior for LLM calls.
type RetryConfig struct {
	MaxAttempts   int           `koanf:"max_attempts"`
	InitialDelay  time.Duration `koanf:"initial_delay"`
	MaxDelay      time.Duration `koanf:"max_delay"`
	BackoffFactor float64       `koanf:"backoff_factor"`
	Jitter        bool          `koanf:"jitter"`
}

// RAGConfig holds document retrieval settings.
type RAGConfig struct {
	IndexDir           string          `koanf:"index_dir"`            // directory with per-edition passage files
	TopK               int             `koanf:"top_k"`                // passages returned per query
	MinScore           float64         `koanf:"min_score"`            // minimum cosine similarity to include
	ContextTokenBudget int             `koanf:"context_token_budget"` // token cap on assembled context
	Embedding          EmbeddingConfig `koanf:"embedding"`
}

// EmbeddingConfig holds embedding backend settings.
type EmbeddingConfig struct {
	Provider   string `koanf:"provider"` // openai or hash
	Model      string `koanf:"model"`
	Dimensions int    `koanf:"dimensions"`
}

// SessionConfig holds session lifecycle settings.
type SessionConfig struct {
	MaxSessions  int           `koanf:"max_sessions"`
	IdleTTL      time.Duration `koanf:"idle_ttl"`
	MaxFallbacks int           `koanf:"max_fallbacks"` // rewinds allowed before giving up on a step
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled       bool   `koanf:"enabled"`
	PrometheusURL string `koanf:"prometheus_url"` // for the session usage query endpoint
}

// PersistenceConfig holds transcript storage settings.
type PersistenceConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"` // sqlite database path
}

// AdminConfig holds admin endpoint authentication settings.
type AdminConfig struct {
	PasswordHash string `koanf:"password_hash"` // bcrypt hash for admin endpoints
}

// defaults applies built-in default values.
func defaults(k *koanf.Koanf) {
	k.Set("server.host", "127.0.0.1")
	k.Set("server.port", 8765)
	k.Set("server.request_timeout", "120s")

	k.Set("llm.provider", ProviderOpenAI)
	k.Set("llm.model", "gpt-4o")
	k.Set("llm.ollama_host", "http://localhost:11434")
	k.Set("llm.max_tokens", 4096)
	k.Set("llm.timeout", "60s")
	k.Set("llm.retry.max_attempts", 3)
	k.Set("llm.retry.initial_delay", "500ms")
	k.Set("llm.retry.max_delay", "10s")
	k.Set("llm.retry.backoff_factor", 2.0)
	k.Set("llm.retry.jitter", true)

	k.Set("rag.index_dir", "data/index")
	k.Set("rag.top_k", 6)
	k.Set("rag.min_score", 0.15)
	k.Set("rag.context_token_budget", 6000)
	k.Set("rag.embedding.provider", "hash")
	k.Set("rag.embedding.model", "text-embedding-3-large")
	k.Set("rag.embedding.dimensions", 3072)

	k.Set("session.max_sessions", 256)
	k.Set("session.idle_ttl", "30m")
	k.Set("session.max_fallbacks", 3)

	k.Set("metrics.enabled", true)
	k.Set("metrics.prometheus_url", "")

	k.Set("persistence.enabled", false)
	k.Set("persistence.path", "data/guidance.db")
}

// Load reads configuration from the given YAML file path (optional) and
// GUIDANCE_-prefixed environment variables. A missing file is not an error
// when path is empty or the default.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	defaults(k)

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
			}
		}
	}

	// Environment variables override file values:
	// GUIDANCE_SERVER__PORT=9000 sets server.port.
	if err := k.Load(env.Provider("GUIDANCE_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "GUIDANCE_")), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment config: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Vision model defaults to the chat model.
	if cfg.LLM.VisionModel == "" {
		cfg.LLM.VisionModel = cfg.LLM.Model
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.LLM.Provider {
	case ProviderAnthropic, ProviderOpenAI, ProviderGoogle, ProviderOllama:
	default:
		return fmt.Errorf("unknown LLM provider: %s", c.LLM.Provider)
	}

	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model cannot be empty")
	}
	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("llm.max_tokens must be positive")
	}

	if c.RAG.TopK <= 0 {
		return fmt.Errorf("rag.top_k must be positive")
	}
	if c.RAG.ContextTokenBudget <= 0 {
		return fmt.Errorf("rag.context_token_budget must be positive")
	}
	switch c.RAG.Embedding.Provider {
	case "openai", "hash":
	default:
		return fmt.Errorf("unknown embedding provider: %s", c.RAG.Embedding.Provider)
	}

	if c.Session.MaxSessions <= 0 {
		return fmt.Errorf("session.max_sessions must be positive")
	}
	if c.Session.IdleTTL <= 0 {
		return fmt.Errorf("session.idle_ttl must be positive")
	}
	if c.Session.MaxFallbacks < 0 {
		return fmt.Errorf("session.max_fallbacks cannot be negative")
	}

	return nil
}

// GetAPIKey returns the API key for a given provider from environment variables.
// For Ollama, returns the host URL instead of an API key.
func GetAPIKey(provider string) (string, error) {
	var envVar string
	switch provider {
	case ProviderAnthropic:
		envVar = EnvAnthropicAPIKey
	case ProviderOpenAI:
		envVar = EnvOpenAIAPIKey
	case ProviderGoogle:
		envVar = EnvGoogleAPIKey
	case ProviderOllama:
		// Ollama doesn't use API keys - return host URL instead
		host := os.Getenv(EnvOllamaHost)
		if host == "" {
			host = "http://localhost:11434"
		}
		return host, nil
	default:
		return "", fmt.Errorf("unknown provider: %s", provider)
	}

	if key := os.Getenv(envVar); key != "" {
		return key, nil
	}

	return "", fmt.Errorf("API key not found: %s not set", envVar)
}
