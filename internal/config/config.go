package config

import "context"

// Package config provides configuration management for tandem-ai.
//
// Responsibilities:
//   - Load configuration from YAML files and environment variables
//   - Validate configuration on startup
//   - Provide runtime access to all configuration
//   - Support configuration reloading via file watching
//   - Manage sensitive data (API keys)
//   - Establish reasonable defaults
//
// Configuration Sources (priority order, high to low):
//   1. Environment variables (TANDEM_* prefix)
//   2. YAML config files (default: /etc/tandem/config.yaml)
//   3. Built-in defaults (lowest priority)
//
// Main Configuration Sections:
//
//   1. Server
//      - host: Listen address (default 0.0.0.0)
//      - port: Listen port (default 8089)
//      - tls_enabled: Enable TLS
//      - shutdown_timeout_seconds: Graceful shutdown deadline
//      - rate_limit_per_min: Analyze-route requests per client per minute (0 disables)
//
//   2. GRPC
//      - enabled: Serve the gRPC health endpoint
//      - port: gRPC listen port (default 9089)
//
//   3. Logging
//      - level: "debug" | "info" | "warn" | "error"
//      - audit_log_path / app_log_path: Log file destinations
//      - max_size_mb / max_backups / max_age_days / compress: Rotation policy
//
//   4. Pool
//      - endpoints: Inference endpoint base URLs, rotated round-robin
//      - model / max_tokens / temperature / top_p / repetition_penalty
//      - failure_threshold: Consecutive failures before an endpoint is benched
//      - min_response_chars / min_response_words / max_symbol_ratio /
//        max_foreign_ratio: Quality gate thresholds
//      - reasoning_start / reasoning_end: Reasoning trace delimiters
//
//   5. EngineA
//      - Deep single-shot analysis engine (external provider)
//      - base_url / api_key / model / passes / baseline_confidence
//
//   6. EngineB
//      - Multi-turn exploratory engine (runs on the pool)
//      - turns / context_window / baseline_confidence / max_verified_claims
//
//   7. Orchestrator
//      - default_mode: "auto" | "engine_a" | "engine_b"
//      - max_concurrent_scenarios: Bound on scenarios in flight
//
//   8. Arbiter
//      - consensus_threshold: Similarity needed to declare consensus
//
//   9. Degradation
//      - base_confidence / confidence_floor: Confidence envelope
//
//  10. Collaborators
//      - retrieval_url / indicators_url / verifier_url: Support services
//      - top_k / cache_ttl_seconds: Retrieval tuning
//
//  11. Database
//      - enabled: Persist run history
//      - path: Path to SQLite file
//
// Config struct contains all configuration fields
type Config struct {
	// Server configuration
	Server struct {
		Host                   string
		Port                   int
		TLSEnabled             bool
		TLSCertPath            string
		TLSKeyPath             string
		ShutdownTimeoutSeconds int
		RateLimitPerMin        int
		// AllowedOrigins is a list of origins permitted to open WebSocket connections.
		// Use ["*"] to allow any origin (development only).
		AllowedOrigins []string
	}

	// gRPC health endpoint configuration
	GRPC struct {
		Enabled bool
		Port    int
	}

	// Logging configuration
	Logging struct {
		Level        string
		AuditLogPath string
		AppLogPath   string
		MaxSizeMB    int
		MaxBackups   int
		MaxAgeDays   int
		Compress     bool
	}

	// Inference endpoint pool configuration
	Pool struct {
		Endpoints         []string
		APIKey            string
		Model             string
		MaxTokens         int
		Temperature       float64
		TopP              float64
		RepetitionPenalty float64
		StopSequences     []string
		TimeoutSeconds    int
		MaxRetries        int
		FailureThreshold  int
		MinResponseChars  int
		MinResponseWords  int
		MaxSymbolRatio    float64
		MaxForeignRatio   float64
		ReasoningStart    string
		ReasoningEnd      string
	}

	// Deep analysis engine configuration
	EngineA struct {
		Enabled            bool
		BaseURL            string
		APIKey             string
		Model              string
		MaxTokens          int
		Temperature        float64
		TimeoutSeconds     int
		Passes             int
		BaselineConfidence float64
	}

	// Exploratory session engine configuration
	EngineB struct {
		Turns              int
		ContextWindow      int
		BaselineConfidence float64
		MaxVerifiedClaims  int
	}

	// Orchestrator configuration
	Orchestrator struct {
		DefaultMode            string
		MaxConcurrentScenarios int
	}

	// Arbiter configuration
	Arbiter struct {
		ConsensusThreshold float64
	}

	// Degradation tracker configuration
	Degradation struct {
		BaseConfidence  float64
		ConfidenceFloor float64
	}

	// Collaborator service configuration
	Collaborators struct {
		RetrievalURL    string
		IndicatorsURL   string
		VerifierURL     string
		TopK            int
		CacheTTLSeconds int
	}

	// Database configuration
	Database struct {
		Enabled bool
		Path    string
	}
}

// ConfigManager defines the interface for configuration access.
type ConfigManager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch watches for configuration changes and reloads (if supported).
	Watch(ctx context.Context) <-chan Config

	// Reload reloads configuration from sources (selective settings).
	Reload(ctx context.Context) error
}

// NewConfigManager creates a new configuration manager.
func NewConfigManager(configPath string) (ConfigManager, error) {
	mgr := &viperConfigManager{
		configPath: configPath,
		config:     DefaultConfig(),
		watchChan:  make(chan Config, 1),
	}
	return mgr, nil
}

// NewConfigManagerWithDefaults creates a config manager with default config path.
func NewConfigManagerWithDefaults() (ConfigManager, error) {
	return NewConfigManager("/etc/tandem/config.yaml")
}
