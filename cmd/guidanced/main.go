// guidanced is the guidance assistant server. It serves step-by-step help
// for a desktop music application over a local HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"guidance/pkg/config"
	"guidance/pkg/guide"
	"guidance/pkg/llm"
	"guidance/pkg/llm/factory"
	llmmetrics "guidance/pkg/llm/middleware/metrics"
	"guidance/pkg/llm/middleware/resilience/retry"
	"guidance/pkg/llm/middleware/resilience/timeout"
	"guidance/pkg/logx"
	"guidance/pkg/metrics"
	"guidance/pkg/persistence"
	"guidance/pkg/rag"
	"guidance/pkg/session"
	"guidance/pkg/version"
	"guidance/pkg/webapi"
)

func main() {
	// A .env file is optional; real environments set variables directly.
	_ = godotenv.Load()

	var configPath string
	var hashPassword bool
	flag.StringVar(&configPath, "config", "config.yaml", "Path to config file")
	flag.BoolVar(&hashPassword, "hash-password", false, "Prompt for an admin password and print its bcrypt hash")
	flag.Parse()

	if hashPassword {
		if err := printPasswordHash(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	logger := logx.NewLogger("guidanced")
	logger.Info("guidanced %s (%s, built %s)", version.Version, version.Commit, version.Date)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Document index. A missing index degrades retrieval, it does not stop
	// the server.
	store, err := rag.LoadStore(cfg.RAG.IndexDir, cfg.RAG.MinScore)
	if err != nil {
		logger.Warn("Document index unavailable (%v), retrieval disabled", err)
		store = rag.NewStore(nil, nil, cfg.RAG.MinScore)
	} else {
		logger.Info("Document index loaded: %d passages, %d version notes",
			store.FullIndexSize(), store.VersionsIndexSize())
	}

	embedder := buildEmbedder(cfg, logger)

	// Prometheus collectors register on the default registry, so one
	// recorder instance is shared by both clients and the driver.
	recorder := llmmetrics.Nop()
	if cfg.Metrics.Enabled {
		recorder = llmmetrics.NewPrometheusRecorder()
	}

	textClient, err := buildLLMClient(cfg, cfg.LLM.Model, recorder, logger)
	if err != nil {
		return err
	}
	visionClient := textClient
	if cfg.LLM.VisionModel != cfg.LLM.Model {
		visionClient, err = buildLLMClient(cfg, cfg.LLM.VisionModel, recorder, logger)
		if err != nil {
			return err
		}
	}

	driver := guide.NewDriver(
		guide.NewLLMNodes(textClient, visionClient),
		store,
		embedder,
		nil,
		recorder,
		guide.Config{
			TopK:               cfg.RAG.TopK,
			MaxFallbacks:       cfg.Session.MaxFallbacks,
			ContextTokenBudget: cfg.RAG.ContextTokenBudget,
		},
	)

	manager := session.NewManager(cfg.Session.MaxSessions, cfg.Session.IdleTTL)
	defer manager.Close()

	opts := webapi.Options{
		AdminPasswordHash: cfg.Admin.PasswordHash,
		RequestTimeout:    cfg.Server.RequestTimeout,
	}

	if cfg.Persistence.Enabled {
		transcripts, err := persistence.Open(cfg.Persistence.Path)
		if err != nil {
			return fmt.Errorf("failed to open transcript store: %w", err)
		}
		defer func() { _ = transcripts.Close() }()
		opts.Transcripts = transcripts
	}

	if cfg.Metrics.Enabled && cfg.Metrics.PrometheusURL != "" {
		usage, err := metrics.NewQueryService(cfg.Metrics.PrometheusURL)
		if err != nil {
			logger.Warn("Usage query service unavailable: %v", err)
		} else {
			opts.Usage = usage
		}
	}

	server := webapi.NewServer(manager, driver, opts)
	httpServer := &http.Server{
		Addr:              webapi.ListenAddr(cfg.Server.Host, cfg.Server.Port),
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-sigCh:
		logger.Info("Received signal %v, shutting down", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	logger.Info("Shutdown complete")
	return nil
}

// buildEmbedder selects the query embedding backend. The OpenAI embedder
// falls back to deterministic hashing when the call fails, and hashing is
// used outright when no API key is available.
func buildEmbedder(cfg *config.Config, logger *logx.Logger) rag.Embedder {
	hash := rag.NewHashEmbedder(cfg.RAG.Embedding.Dimensions)
	if cfg.RAG.Embedding.Provider != "openai" {
		return hash
	}

	apiKey, err := config.GetAPIKey(config.ProviderOpenAI)
	if err != nil {
		logger.Warn("No OpenAI API key, using hash embeddings: %v", err)
		return hash
	}
	return rag.NewFallbackEmbedder(rag.NewOpenAIEmbedder(apiKey, cfg.RAG.Embedding.Model), hash)
}

// buildLLMClient creates a provider client wrapped in the middleware chain:
// metrics outermost, then retry, then per-attempt timeout.
func buildLLMClient(cfg *config.Config, model string, recorder llmmetrics.Recorder, logger *logx.Logger) (llm.LLMClient, error) {
	base, err := factory.NewProviderClient(&cfg.LLM, model)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client for %s: %w", model, err)
	}

	policy := retry.NewPolicy(retry.Config{
		MaxAttempts:   cfg.LLM.Retry.MaxAttempts,
		InitialDelay:  cfg.LLM.Retry.InitialDelay,
		MaxDelay:      cfg.LLM.Retry.MaxDelay,
		BackoffFactor: cfg.LLM.Retry.BackoffFactor,
		Jitter:        cfg.LLM.Retry.Jitter,
	}, retry.ShouldRetry)

	middlewares := []llm.Middleware{
		retry.Middleware(policy),
		timeout.Middleware(cfg.LLM.Timeout),
	}
	if cfg.Metrics.Enabled {
		middlewares = append([]llm.Middleware{
			llmmetrics.Middleware(recorder, nil, nil, logger),
		}, middlewares...)
	}

	return llm.Chain(base, middlewares...), nil
}

// printPasswordHash prompts for a password twice and prints the bcrypt hash
// to put under admin.password_hash in the config file.
func printPasswordHash() error {
	fmt.Print("Enter admin password: ")
	first, err := term.ReadPassword(syscall.Stdin)
	fmt.Println()
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}

	fmt.Print("Confirm password: ")
	second, err := term.ReadPassword(syscall.Stdin)
	fmt.Println()
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}

	if string(first) != string(second) {
		return fmt.Errorf("passwords do not match")
	}
	if len(first) == 0 {
		return fmt.Errorf("password cannot be empty")
	}

	hash, err := bcrypt.GenerateFromPassword(first, bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	fmt.Println(string(hash))
	return nil
}
