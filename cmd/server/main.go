package main

// Package main is the entry point for the Tandem AI server.
//
// Responsibilities:
//   - Load and validate configuration from YAML and environment variables
//   - Open the audit and application logs
//   - Build the inference endpoint pool and its dispatcher
//   - Wire the retrieval, indicator, and verification collaborators
//   - Construct both analysis engines, the arbiter, and the orchestrator
//   - Open the SQLite run store when history is enabled
//   - Start the HTTP/WebSocket server and the optional gRPC health endpoint
//   - Implement graceful shutdown with context cancellation
//
// Architecture Flow:
//   1. POST /api/v1/analyze → Orchestrator routes by analysis mode
//   2. Engine A runs deep multi-pass analysis against its remote provider
//   3. Engine B drives an exploratory session over the endpoint pool,
//      grounded by retrieved context and claim verification
//   4. Arbiter reconciles dual outputs; the degradation tracker adjusts
//      confidence when subsystems fail
//   5. Results persist to SQLite and stream to WebSocket subscribers
//
// Graceful Shutdown:
//   - Drains in-flight HTTP requests and stops the gRPC health endpoint
//   - Cancels event fan-out and closes WebSocket clients
//   - Closes the run store
//   - Finalizes audit logs

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tandemlabs/tandem-ai/internal/arbiter"
	"github.com/tandemlabs/tandem-ai/internal/audit"
	"github.com/tandemlabs/tandem-ai/internal/config"
	"github.com/tandemlabs/tandem-ai/internal/db"
	"github.com/tandemlabs/tandem-ai/internal/degrade"
	"github.com/tandemlabs/tandem-ai/internal/engine/deep"
	"github.com/tandemlabs/tandem-ai/internal/engine/explore"
	"github.com/tandemlabs/tandem-ai/internal/integration/retrieval"
	"github.com/tandemlabs/tandem-ai/internal/integration/verify"
	"github.com/tandemlabs/tandem-ai/internal/llm/dispatch"
	"github.com/tandemlabs/tandem-ai/internal/llm/endpoint"
	"github.com/tandemlabs/tandem-ai/internal/llm/types"
	"github.com/tandemlabs/tandem-ai/internal/orchestrator"
	reasoningContext "github.com/tandemlabs/tandem-ai/internal/reasoning/context"
	"github.com/tandemlabs/tandem-ai/internal/reasoning/driver"
	"github.com/tandemlabs/tandem-ai/internal/reasoning/prompt"
	"github.com/tandemlabs/tandem-ai/internal/server"
)

func main() {
	ctx := context.Background()

	// Load configuration from YAML and environment variables
	configPath := os.Getenv("TANDEM_CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	mgr, err := config.NewConfigManager(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create configuration manager: %v\n", err)
		os.Exit(1)
	}
	if err := mgr.Load(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := mgr.Validate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	cfg := mgr.Get(ctx)

	// Open audit and application logs
	auditLog, err := audit.NewLogger(&audit.Config{
		AuditLogPath: cfg.Logging.AuditLogPath,
		AppLogPath:   cfg.Logging.AppLogPath,
		MaxSize:      cfg.Logging.MaxSizeMB,
		MaxBackups:   cfg.Logging.MaxBackups,
		MaxAge:       cfg.Logging.MaxAgeDays,
		Compress:     cfg.Logging.Compress,
		LogLevel:     cfg.Logging.Level,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open logs: %v\n", err)
		os.Exit(1)
	}

	// Degradation tracker shared by every subsystem
	tracker := degrade.NewTracker(cfg.Degradation.BaseConfidence, cfg.Degradation.ConfidenceFloor, auditLog)

	// Endpoint pool dispatcher
	poolClient := endpoint.NewClient(cfg.Pool.APIKey, time.Duration(cfg.Pool.TimeoutSeconds)*time.Second)
	dispatcher, err := dispatch.NewDispatcher(dispatch.Config{
		Endpoints: cfg.Pool.Endpoints,
		Params: types.GenerationParams{
			Model:             cfg.Pool.Model,
			MaxTokens:         cfg.Pool.MaxTokens,
			Temperature:       cfg.Pool.Temperature,
			TopP:              cfg.Pool.TopP,
			RepetitionPenalty: cfg.Pool.RepetitionPenalty,
			StopSequences:     cfg.Pool.StopSequences,
		},
		MaxRetries:       cfg.Pool.MaxRetries,
		FailureThreshold: cfg.Pool.FailureThreshold,
		Quality: dispatch.QualityConfig{
			MinResponseChars: cfg.Pool.MinResponseChars,
			MinResponseWords: cfg.Pool.MinResponseWords,
			MaxSymbolRatio:   cfg.Pool.MaxSymbolRatio,
			MaxForeignRatio:  cfg.Pool.MaxForeignRatio,
		},
		ReasoningStart: cfg.Pool.ReasoningStart,
		ReasoningEnd:   cfg.Pool.ReasoningEnd,
	}, poolClient, auditLog)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create dispatcher: %v\n", err)
		os.Exit(1)
	}

	// Collaborator services. Unconfigured URLs are tolerated: the engines
	// degrade at call time instead of refusing to start.
	retriever := retrieval.NewClient(
		cfg.Collaborators.RetrievalURL,
		cfg.Collaborators.IndicatorsURL,
		cfg.Collaborators.TopK,
		time.Duration(cfg.Collaborators.CacheTTLSeconds)*time.Second,
	)
	verifier := verify.NewClient(cfg.Collaborators.VerifierURL)
	builder := reasoningContext.NewContextBuilder(retriever, cfg.Collaborators.TopK, 0)

	prompts := prompt.NewPromptManager()
	hub := orchestrator.NewHub()

	sessionDriver := driver.NewSessionDriver(
		dispatcher,
		builder,
		prompts,
		verifier,
		tracker,
		auditLog,
		hub,
		cfg.EngineB.ContextWindow,
		cfg.EngineB.MaxVerifiedClaims,
	)

	// Both engines are wired unconditionally. A disabled or unconfigured
	// engine A fails at call time and the orchestrator falls back.
	engineA := deep.NewEngine(deep.Config{
		BaseURL:            cfg.EngineA.BaseURL,
		APIKey:             cfg.EngineA.APIKey,
		Model:              cfg.EngineA.Model,
		Passes:             cfg.EngineA.Passes,
		MaxTokens:          cfg.EngineA.MaxTokens,
		Temperature:        cfg.EngineA.Temperature,
		Timeout:            time.Duration(cfg.EngineA.TimeoutSeconds) * time.Second,
		BaselineConfidence: cfg.EngineA.BaselineConfidence,
	}, prompts, tracker, auditLog)
	engineB := explore.NewEngine(sessionDriver, tracker, cfg.EngineB.Turns, cfg.EngineB.BaselineConfidence)

	arb := arbiter.NewArbiter(cfg.Arbiter.ConsensusThreshold, auditLog)

	// Run store is optional; analysis works without history
	var store db.Store
	if cfg.Database.Enabled {
		store, err = db.NewSQLiteStore(cfg.Database.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open run store: %v\n", err)
			os.Exit(1)
		}
	}

	orch := orchestrator.NewOrchestrator(
		engineA,
		engineB,
		arb,
		tracker,
		dispatcher,
		prompts,
		auditLog,
		hub,
		store,
		cfg.Orchestrator.MaxConcurrentScenarios,
	)

	srv, err := server.NewServer(cfg, orch, store, auditLog)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create server: %v\n", err)
		os.Exit(1)
	}
	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start server: %v\n", err)
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Wait for shutdown signal (Ctrl+C or SIGTERM)
	<-sigChan
	fmt.Println("\nReceived shutdown signal...")

	if err := srv.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "Error stopping server: %v\n", err)
	}
	if store != nil {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Error closing run store: %v\n", err)
		}
	}
	if err := auditLog.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Error closing logs: %v\n", err)
	}

	fmt.Println("Shutdown complete")
}
