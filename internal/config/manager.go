package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// viperConfigManager implements ConfigManager using Viper.
type viperConfigManager struct {
	configPath string
	config     *Config
	viper      *viper.Viper
	watchChan  chan Config
}

// Load loads configuration from all sources.
func (m *viperConfigManager) Load(ctx context.Context) error {
	// Initialize viper
	m.viper = viper.New()

	// Set config file path
	m.viper.SetConfigFile(m.configPath)
	m.viper.SetConfigType("yaml")

	// Set environment variable prefix
	m.viper.SetEnvPrefix("TANDEM")
	m.viper.AutomaticEnv()
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set defaults
	m.setDefaults()

	// Try to read config file (optional)
	if err := m.viper.ReadInConfig(); err != nil {
		// Config file not found is OK, we'll use defaults + env vars
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// File not found via viper - OK, use defaults
		} else if os.IsNotExist(err) {
			// File not found via os - OK, use defaults
		} else {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Unmarshal into config struct
	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Apply environment variable overrides for sensitive data
	m.applyEnvOverrides()

	return nil
}

// Get returns the current configuration.
func (m *viperConfigManager) Get(ctx context.Context) *Config {
	return m.config
}

// Validate validates configuration is correct and complete.
func (m *viperConfigManager) Validate(ctx context.Context) error {
	errs := m.config.Validate()
	if len(errs) > 0 {
		var errMsgs []string
		for _, err := range errs {
			errMsgs = append(errMsgs, err.Error())
		}
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errMsgs, "\n  - "))
	}
	return nil
}

// Watch watches for configuration changes and reloads.
func (m *viperConfigManager) Watch(ctx context.Context) <-chan Config {
	m.viper.WatchConfig()
	m.viper.OnConfigChange(func(e fsnotify.Event) {
		if err := m.unmarshalConfig(); err != nil {
			return
		}
		m.applyEnvOverrides()
		select {
		case m.watchChan <- *m.config:
		default:
			// Channel full, skip this update
		}
	})

	return m.watchChan
}

// Reload reloads configuration from sources.
func (m *viperConfigManager) Reload(ctx context.Context) error {
	if err := m.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.applyEnvOverrides()

	return nil
}

// setDefaults sets default values in viper.
func (m *viperConfigManager) setDefaults() {
	defaults := DefaultConfig()

	// Server defaults
	m.viper.SetDefault("server.host", defaults.Server.Host)
	m.viper.SetDefault("server.port", defaults.Server.Port)
	m.viper.SetDefault("server.tls_enabled", defaults.Server.TLSEnabled)
	m.viper.SetDefault("server.tls_cert_path", defaults.Server.TLSCertPath)
	m.viper.SetDefault("server.tls_key_path", defaults.Server.TLSKeyPath)
	m.viper.SetDefault("server.shutdown_timeout_seconds", defaults.Server.ShutdownTimeoutSeconds)
	m.viper.SetDefault("server.rate_limit_per_min", defaults.Server.RateLimitPerMin)
	m.viper.SetDefault("server.allowed_origins", defaults.Server.AllowedOrigins)

	// gRPC defaults
	m.viper.SetDefault("grpc.enabled", defaults.GRPC.Enabled)
	m.viper.SetDefault("grpc.port", defaults.GRPC.Port)

	// Logging defaults
	m.viper.SetDefault("logging.level", defaults.Logging.Level)
	m.viper.SetDefault("logging.audit_log_path", defaults.Logging.AuditLogPath)
	m.viper.SetDefault("logging.app_log_path", defaults.Logging.AppLogPath)
	m.viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	m.viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	m.viper.SetDefault("logging.max_age_days", defaults.Logging.MaxAgeDays)
	m.viper.SetDefault("logging.compress", defaults.Logging.Compress)

	// Pool defaults
	m.viper.SetDefault("pool.endpoints", defaults.Pool.Endpoints)
	m.viper.SetDefault("pool.model", defaults.Pool.Model)
	m.viper.SetDefault("pool.max_tokens", defaults.Pool.MaxTokens)
	m.viper.SetDefault("pool.temperature", defaults.Pool.Temperature)
	m.viper.SetDefault("pool.top_p", defaults.Pool.TopP)
	m.viper.SetDefault("pool.repetition_penalty", defaults.Pool.RepetitionPenalty)
	m.viper.SetDefault("pool.stop_sequences", defaults.Pool.StopSequences)
	m.viper.SetDefault("pool.timeout_seconds", defaults.Pool.TimeoutSeconds)
	m.viper.SetDefault("pool.max_retries", defaults.Pool.MaxRetries)
	m.viper.SetDefault("pool.failure_threshold", defaults.Pool.FailureThreshold)
	m.viper.SetDefault("pool.min_response_chars", defaults.Pool.MinResponseChars)
	m.viper.SetDefault("pool.min_response_words", defaults.Pool.MinResponseWords)
	m.viper.SetDefault("pool.max_symbol_ratio", defaults.Pool.MaxSymbolRatio)
	m.viper.SetDefault("pool.max_foreign_ratio", defaults.Pool.MaxForeignRatio)
	m.viper.SetDefault("pool.reasoning_start", defaults.Pool.ReasoningStart)
	m.viper.SetDefault("pool.reasoning_end", defaults.Pool.ReasoningEnd)

	// Engine A defaults
	m.viper.SetDefault("engine_a.enabled", defaults.EngineA.Enabled)
	m.viper.SetDefault("engine_a.base_url", defaults.EngineA.BaseURL)
	m.viper.SetDefault("engine_a.model", defaults.EngineA.Model)
	m.viper.SetDefault("engine_a.max_tokens", defaults.EngineA.MaxTokens)
	m.viper.SetDefault("engine_a.temperature", defaults.EngineA.Temperature)
	m.viper.SetDefault("engine_a.timeout_seconds", defaults.EngineA.TimeoutSeconds)
	m.viper.SetDefault("engine_a.passes", defaults.EngineA.Passes)
	m.viper.SetDefault("engine_a.baseline_confidence", defaults.EngineA.BaselineConfidence)

	// Engine B defaults
	m.viper.SetDefault("engine_b.turns", defaults.EngineB.Turns)
	m.viper.SetDefault("engine_b.context_window", defaults.EngineB.ContextWindow)
	m.viper.SetDefault("engine_b.baseline_confidence", defaults.EngineB.BaselineConfidence)
	m.viper.SetDefault("engine_b.max_verified_claims", defaults.EngineB.MaxVerifiedClaims)

	// Orchestrator defaults
	m.viper.SetDefault("orchestrator.default_mode", defaults.Orchestrator.DefaultMode)
	m.viper.SetDefault("orchestrator.max_concurrent_scenarios", defaults.Orchestrator.MaxConcurrentScenarios)

	// Arbiter defaults
	m.viper.SetDefault("arbiter.consensus_threshold", defaults.Arbiter.ConsensusThreshold)

	// Degradation defaults
	m.viper.SetDefault("degradation.base_confidence", defaults.Degradation.BaseConfidence)
	m.viper.SetDefault("degradation.confidence_floor", defaults.Degradation.ConfidenceFloor)

	// Collaborator defaults
	m.viper.SetDefault("collaborators.retrieval_url", defaults.Collaborators.RetrievalURL)
	m.viper.SetDefault("collaborators.indicators_url", defaults.Collaborators.IndicatorsURL)
	m.viper.SetDefault("collaborators.verifier_url", defaults.Collaborators.VerifierURL)
	m.viper.SetDefault("collaborators.top_k", defaults.Collaborators.TopK)
	m.viper.SetDefault("collaborators.cache_ttl_seconds", defaults.Collaborators.CacheTTLSeconds)

	// Database defaults
	m.viper.SetDefault("database.enabled", defaults.Database.Enabled)
	m.viper.SetDefault("database.path", defaults.Database.Path)
}

// unmarshalConfig unmarshals viper config into Config struct.
func (m *viperConfigManager) unmarshalConfig() error {
	cfg := &Config{}

	// Server
	cfg.Server.Host = m.viper.GetString("server.host")
	cfg.Server.Port = m.viper.GetInt("server.port")
	cfg.Server.TLSEnabled = m.viper.GetBool("server.tls_enabled")
	cfg.Server.TLSCertPath = m.viper.GetString("server.tls_cert_path")
	cfg.Server.TLSKeyPath = m.viper.GetString("server.tls_key_path")
	cfg.Server.ShutdownTimeoutSeconds = m.viper.GetInt("server.shutdown_timeout_seconds")
	cfg.Server.RateLimitPerMin = m.viper.GetInt("server.rate_limit_per_min")
	cfg.Server.AllowedOrigins = m.viper.GetStringSlice("server.allowed_origins")

	// gRPC
	cfg.GRPC.Enabled = m.viper.GetBool("grpc.enabled")
	cfg.GRPC.Port = m.viper.GetInt("grpc.port")

	// Logging
	cfg.Logging.Level = m.viper.GetString("logging.level")
	cfg.Logging.AuditLogPath = m.viper.GetString("logging.audit_log_path")
	cfg.Logging.AppLogPath = m.viper.GetString("logging.app_log_path")
	cfg.Logging.MaxSizeMB = m.viper.GetInt("logging.max_size_mb")
	cfg.Logging.MaxBackups = m.viper.GetInt("logging.max_backups")
	cfg.Logging.MaxAgeDays = m.viper.GetInt("logging.max_age_days")
	cfg.Logging.Compress = m.viper.GetBool("logging.compress")

	// Pool
	cfg.Pool.Endpoints = m.viper.GetStringSlice("pool.endpoints")
	cfg.Pool.APIKey = m.viper.GetString("pool.api_key")
	cfg.Pool.Model = m.viper.GetString("pool.model")
	cfg.Pool.MaxTokens = m.viper.GetInt("pool.max_tokens")
	cfg.Pool.Temperature = m.viper.GetFloat64("pool.temperature")
	cfg.Pool.TopP = m.viper.GetFloat64("pool.top_p")
	cfg.Pool.RepetitionPenalty = m.viper.GetFloat64("pool.repetition_penalty")
	cfg.Pool.StopSequences = m.viper.GetStringSlice("pool.stop_sequences")
	cfg.Pool.TimeoutSeconds = m.viper.GetInt("pool.timeout_seconds")
	cfg.Pool.MaxRetries = m.viper.GetInt("pool.max_retries")
	cfg.Pool.FailureThreshold = m.viper.GetInt("pool.failure_threshold")
	cfg.Pool.MinResponseChars = m.viper.GetInt("pool.min_response_chars")
	cfg.Pool.MinResponseWords = m.viper.GetInt("pool.min_response_words")
	cfg.Pool.MaxSymbolRatio = m.viper.GetFloat64("pool.max_symbol_ratio")
	cfg.Pool.MaxForeignRatio = m.viper.GetFloat64("pool.max_foreign_ratio")
	cfg.Pool.ReasoningStart = m.viper.GetString("pool.reasoning_start")
	cfg.Pool.ReasoningEnd = m.viper.GetString("pool.reasoning_end")

	// Engine A
	cfg.EngineA.Enabled = m.viper.GetBool("engine_a.enabled")
	cfg.EngineA.BaseURL = m.viper.GetString("engine_a.base_url")
	cfg.EngineA.APIKey = m.viper.GetString("engine_a.api_key")
	cfg.EngineA.Model = m.viper.GetString("engine_a.model")
	cfg.EngineA.MaxTokens = m.viper.GetInt("engine_a.max_tokens")
	cfg.EngineA.Temperature = m.viper.GetFloat64("engine_a.temperature")
	cfg.EngineA.TimeoutSeconds = m.viper.GetInt("engine_a.timeout_seconds")
	cfg.EngineA.Passes = m.viper.GetInt("engine_a.passes")
	cfg.EngineA.BaselineConfidence = m.viper.GetFloat64("engine_a.baseline_confidence")

	// Engine B
	cfg.EngineB.Turns = m.viper.GetInt("engine_b.turns")
	cfg.EngineB.ContextWindow = m.viper.GetInt("engine_b.context_window")
	cfg.EngineB.BaselineConfidence = m.viper.GetFloat64("engine_b.baseline_confidence")
	cfg.EngineB.MaxVerifiedClaims = m.viper.GetInt("engine_b.max_verified_claims")

	// Orchestrator
	cfg.Orchestrator.DefaultMode = m.viper.GetString("orchestrator.default_mode")
	cfg.Orchestrator.MaxConcurrentScenarios = m.viper.GetInt("orchestrator.max_concurrent_scenarios")

	// Arbiter
	cfg.Arbiter.ConsensusThreshold = m.viper.GetFloat64("arbiter.consensus_threshold")

	// Degradation
	cfg.Degradation.BaseConfidence = m.viper.GetFloat64("degradation.base_confidence")
	cfg.Degradation.ConfidenceFloor = m.viper.GetFloat64("degradation.confidence_floor")

	// Collaborators
	cfg.Collaborators.RetrievalURL = m.viper.GetString("collaborators.retrieval_url")
	cfg.Collaborators.IndicatorsURL = m.viper.GetString("collaborators.indicators_url")
	cfg.Collaborators.VerifierURL = m.viper.GetString("collaborators.verifier_url")
	cfg.Collaborators.TopK = m.viper.GetInt("collaborators.top_k")
	cfg.Collaborators.CacheTTLSeconds = m.viper.GetInt("collaborators.cache_ttl_seconds")

	// Database
	cfg.Database.Enabled = m.viper.GetBool("database.enabled")
	cfg.Database.Path = m.viper.GetString("database.path")

	m.config = cfg
	return nil
}

// applyEnvOverrides applies environment variable overrides for sensitive data.
func (m *viperConfigManager) applyEnvOverrides() {
	// Engine A API key from environment, OPENAI_API_KEY accepted as fallback
	if apiKey := os.Getenv("TANDEM_ENGINE_A_API_KEY"); apiKey != "" {
		m.config.EngineA.APIKey = apiKey
	} else if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" && m.config.EngineA.APIKey == "" {
		m.config.EngineA.APIKey = apiKey
	}

	// Pool API key from environment
	if apiKey := os.Getenv("TANDEM_POOL_API_KEY"); apiKey != "" {
		m.config.Pool.APIKey = apiKey
	}

	// Pool endpoints from environment (comma-separated)
	if endpoints := os.Getenv("TANDEM_POOL_ENDPOINTS"); endpoints != "" {
		var parsed []string
		for _, e := range strings.Split(endpoints, ",") {
			if e = strings.TrimSpace(e); e != "" {
				parsed = append(parsed, e)
			}
		}
		if len(parsed) > 0 {
			m.config.Pool.Endpoints = parsed
		}
	}

	// Port from environment - only override if explicitly set
	if portEnv := os.Getenv("TANDEM_PORT"); portEnv != "" {
		m.config.Server.Port = m.viper.GetInt("port")
	}

	// Orchestrator mode from environment
	if mode := os.Getenv("TANDEM_MODE"); mode != "" {
		m.config.Orchestrator.DefaultMode = mode
	}
}
