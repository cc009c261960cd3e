package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validate validates the configuration and returns validation errors.
func (c *Config) Validate() []error {
	var errs []error

	// Validate server configuration
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", c.Server.Port),
		})
	}

	if c.Server.ShutdownTimeoutSeconds < 1 {
		errs = append(errs, &ValidationError{
			Field:   "server.shutdown_timeout_seconds",
			Message: fmt.Sprintf("shutdown timeout must be at least 1 second, got %d", c.Server.ShutdownTimeoutSeconds),
		})
	}

	if c.Server.RateLimitPerMin < 0 {
		errs = append(errs, &ValidationError{
			Field:   "server.rate_limit_per_min",
			Message: fmt.Sprintf("rate_limit_per_min cannot be negative, got %d", c.Server.RateLimitPerMin),
		})
	}

	if c.Server.TLSEnabled {
		if c.Server.TLSCertPath == "" {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_cert_path",
				Message: "tls_cert_path is required when tls_enabled is true",
			})
		} else if _, err := os.Stat(c.Server.TLSCertPath); os.IsNotExist(err) {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_cert_path",
				Message: fmt.Sprintf("certificate file does not exist: %s", c.Server.TLSCertPath),
			})
		}

		if c.Server.TLSKeyPath == "" {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_key_path",
				Message: "tls_key_path is required when tls_enabled is true",
			})
		} else if _, err := os.Stat(c.Server.TLSKeyPath); os.IsNotExist(err) {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_key_path",
				Message: fmt.Sprintf("key file does not exist: %s", c.Server.TLSKeyPath),
			})
		}
	}

	// Validate gRPC configuration
	if c.GRPC.Enabled {
		if c.GRPC.Port < 1 || c.GRPC.Port > 65535 {
			errs = append(errs, &ValidationError{
				Field:   "grpc.port",
				Message: fmt.Sprintf("port must be between 1 and 65535, got %d", c.GRPC.Port),
			})
		}
	}

	// Validate logging configuration
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, &ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level),
		})
	}

	if c.Logging.MaxSizeMB < 1 {
		errs = append(errs, &ValidationError{
			Field:   "logging.max_size_mb",
			Message: fmt.Sprintf("max_size_mb must be at least 1, got %d", c.Logging.MaxSizeMB),
		})
	}

	// Validate pool configuration
	if len(c.Pool.Endpoints) == 0 {
		errs = append(errs, &ValidationError{
			Field:   "pool.endpoints",
			Message: "at least one inference endpoint is required",
		})
	}
	for i, endpoint := range c.Pool.Endpoints {
		u, err := url.Parse(endpoint)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, &ValidationError{
				Field:   fmt.Sprintf("pool.endpoints[%d]", i),
				Message: fmt.Sprintf("invalid endpoint URL: %s", endpoint),
			})
			continue
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			errs = append(errs, &ValidationError{
				Field:   fmt.Sprintf("pool.endpoints[%d]", i),
				Message: fmt.Sprintf("endpoint scheme must be http or https, got %s", u.Scheme),
			})
		}
	}

	if c.Pool.Model == "" {
		errs = append(errs, &ValidationError{
			Field:   "pool.model",
			Message: "pool model is required",
		})
	}

	if c.Pool.MaxTokens < 1 {
		errs = append(errs, &ValidationError{
			Field:   "pool.max_tokens",
			Message: fmt.Sprintf("max_tokens must be at least 1, got %d", c.Pool.MaxTokens),
		})
	}

	if c.Pool.Temperature < 0 || c.Pool.Temperature > 2 {
		errs = append(errs, &ValidationError{
			Field:   "pool.temperature",
			Message: fmt.Sprintf("temperature must be between 0 and 2, got %.2f", c.Pool.Temperature),
		})
	}

	if c.Pool.TopP <= 0 || c.Pool.TopP > 1 {
		errs = append(errs, &ValidationError{
			Field:   "pool.top_p",
			Message: fmt.Sprintf("top_p must be in (0, 1], got %.2f", c.Pool.TopP),
		})
	}

	if c.Pool.TimeoutSeconds < 1 {
		errs = append(errs, &ValidationError{
			Field:   "pool.timeout_seconds",
			Message: fmt.Sprintf("timeout must be at least 1 second, got %d", c.Pool.TimeoutSeconds),
		})
	}

	if c.Pool.MaxRetries < 0 {
		errs = append(errs, &ValidationError{
			Field:   "pool.max_retries",
			Message: fmt.Sprintf("max_retries cannot be negative, got %d", c.Pool.MaxRetries),
		})
	}

	if c.Pool.FailureThreshold < 1 {
		errs = append(errs, &ValidationError{
			Field:   "pool.failure_threshold",
			Message: fmt.Sprintf("failure_threshold must be at least 1, got %d", c.Pool.FailureThreshold),
		})
	}

	if c.Pool.MinResponseChars < 0 {
		errs = append(errs, &ValidationError{
			Field:   "pool.min_response_chars",
			Message: fmt.Sprintf("min_response_chars cannot be negative, got %d", c.Pool.MinResponseChars),
		})
	}

	if c.Pool.MinResponseWords < 0 {
		errs = append(errs, &ValidationError{
			Field:   "pool.min_response_words",
			Message: fmt.Sprintf("min_response_words cannot be negative, got %d", c.Pool.MinResponseWords),
		})
	}

	if c.Pool.MaxSymbolRatio < 0 || c.Pool.MaxSymbolRatio > 1 {
		errs = append(errs, &ValidationError{
			Field:   "pool.max_symbol_ratio",
			Message: fmt.Sprintf("max_symbol_ratio must be between 0 and 1, got %.2f", c.Pool.MaxSymbolRatio),
		})
	}

	if c.Pool.MaxForeignRatio < 0 || c.Pool.MaxForeignRatio > 1 {
		errs = append(errs, &ValidationError{
			Field:   "pool.max_foreign_ratio",
			Message: fmt.Sprintf("max_foreign_ratio must be between 0 and 1, got %.2f", c.Pool.MaxForeignRatio),
		})
	}

	// Reasoning markers come as a pair
	if (c.Pool.ReasoningStart == "") != (c.Pool.ReasoningEnd == "") {
		errs = append(errs, &ValidationError{
			Field:   "pool.reasoning_start",
			Message: "reasoning_start and reasoning_end must both be set or both be empty",
		})
	}

	// Validate engine A configuration
	if c.EngineA.Enabled {
		if c.EngineA.BaseURL == "" {
			errs = append(errs, &ValidationError{
				Field:   "engine_a.base_url",
				Message: "base_url is required when engine_a is enabled",
			})
		} else if u, err := url.Parse(c.EngineA.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, &ValidationError{
				Field:   "engine_a.base_url",
				Message: fmt.Sprintf("invalid base URL: %s", c.EngineA.BaseURL),
			})
		}

		if c.EngineA.Model == "" {
			errs = append(errs, &ValidationError{
				Field:   "engine_a.model",
				Message: "model is required when engine_a is enabled",
			})
		}

		if c.EngineA.Passes < 1 {
			errs = append(errs, &ValidationError{
				Field:   "engine_a.passes",
				Message: fmt.Sprintf("passes must be at least 1, got %d", c.EngineA.Passes),
			})
		}

		// A missing API key is not fatal here. The orchestrator detects the
		// failure at call time and records it with the degradation tracker,
		// so the service still answers in engine_b or facts-only mode.
	}

	if c.EngineA.BaselineConfidence <= 0 || c.EngineA.BaselineConfidence > 1 {
		errs = append(errs, &ValidationError{
			Field:   "engine_a.baseline_confidence",
			Message: fmt.Sprintf("baseline_confidence must be in (0, 1], got %.2f", c.EngineA.BaselineConfidence),
		})
	}

	// Validate engine B configuration
	if c.EngineB.Turns < 1 {
		errs = append(errs, &ValidationError{
			Field:   "engine_b.turns",
			Message: fmt.Sprintf("turns must be at least 1, got %d", c.EngineB.Turns),
		})
	}

	if c.EngineB.ContextWindow < 1 {
		errs = append(errs, &ValidationError{
			Field:   "engine_b.context_window",
			Message: fmt.Sprintf("context_window must be at least 1, got %d", c.EngineB.ContextWindow),
		})
	}

	if c.EngineB.BaselineConfidence <= 0 || c.EngineB.BaselineConfidence > 1 {
		errs = append(errs, &ValidationError{
			Field:   "engine_b.baseline_confidence",
			Message: fmt.Sprintf("baseline_confidence must be in (0, 1], got %.2f", c.EngineB.BaselineConfidence),
		})
	}

	if c.EngineB.MaxVerifiedClaims < 0 {
		errs = append(errs, &ValidationError{
			Field:   "engine_b.max_verified_claims",
			Message: fmt.Sprintf("max_verified_claims cannot be negative, got %d", c.EngineB.MaxVerifiedClaims),
		})
	}

	// Validate orchestrator configuration
	validModes := map[string]bool{
		"auto":     true,
		"engine_a": true,
		"engine_b": true,
	}
	if !validModes[c.Orchestrator.DefaultMode] {
		errs = append(errs, &ValidationError{
			Field:   "orchestrator.default_mode",
			Message: fmt.Sprintf("invalid mode '%s', must be one of: auto, engine_a, engine_b", c.Orchestrator.DefaultMode),
		})
	}

	if c.Orchestrator.MaxConcurrentScenarios < 1 || c.Orchestrator.MaxConcurrentScenarios > 8 {
		errs = append(errs, &ValidationError{
			Field:   "orchestrator.max_concurrent_scenarios",
			Message: fmt.Sprintf("max_concurrent_scenarios must be between 1 and 8, got %d", c.Orchestrator.MaxConcurrentScenarios),
		})
	}

	// Validate arbiter configuration
	if c.Arbiter.ConsensusThreshold <= 0 || c.Arbiter.ConsensusThreshold > 1 {
		errs = append(errs, &ValidationError{
			Field:   "arbiter.consensus_threshold",
			Message: fmt.Sprintf("consensus_threshold must be in (0, 1], got %.2f", c.Arbiter.ConsensusThreshold),
		})
	}

	// Validate degradation configuration
	if c.Degradation.BaseConfidence <= 0 || c.Degradation.BaseConfidence > 1 {
		errs = append(errs, &ValidationError{
			Field:   "degradation.base_confidence",
			Message: fmt.Sprintf("base_confidence must be in (0, 1], got %.2f", c.Degradation.BaseConfidence),
		})
	}

	if c.Degradation.ConfidenceFloor <= 0 || c.Degradation.ConfidenceFloor > c.Degradation.BaseConfidence {
		errs = append(errs, &ValidationError{
			Field:   "degradation.confidence_floor",
			Message: fmt.Sprintf("confidence_floor must be in (0, base_confidence], got %.2f", c.Degradation.ConfidenceFloor),
		})
	}

	// Validate collaborator configuration
	for _, svc := range []struct {
		field string
		value string
	}{
		{"collaborators.retrieval_url", c.Collaborators.RetrievalURL},
		{"collaborators.indicators_url", c.Collaborators.IndicatorsURL},
		{"collaborators.verifier_url", c.Collaborators.VerifierURL},
	} {
		if svc.value == "" {
			continue
		}
		if u, err := url.Parse(svc.value); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, &ValidationError{
				Field:   svc.field,
				Message: fmt.Sprintf("invalid URL: %s", svc.value),
			})
		}
	}

	if c.Collaborators.TopK < 1 {
		errs = append(errs, &ValidationError{
			Field:   "collaborators.top_k",
			Message: fmt.Sprintf("top_k must be at least 1, got %d", c.Collaborators.TopK),
		})
	}

	if c.Collaborators.CacheTTLSeconds < 0 {
		errs = append(errs, &ValidationError{
			Field:   "collaborators.cache_ttl_seconds",
			Message: fmt.Sprintf("cache_ttl_seconds cannot be negative, got %d", c.Collaborators.CacheTTLSeconds),
		})
	}

	// Validate database configuration
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, &ValidationError{
			Field:   "database.path",
			Message: "path is required when database is enabled",
		})
	}

	return errs
}
