package config

// DefaultConfig returns a configuration with all default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Server defaults
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 8089
	cfg.Server.TLSEnabled = false
	cfg.Server.TLSCertPath = ""
	cfg.Server.TLSKeyPath = ""
	cfg.Server.ShutdownTimeoutSeconds = 10
	cfg.Server.RateLimitPerMin = 60
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

	// gRPC defaults
	cfg.GRPC.Enabled = false
	cfg.GRPC.Port = 9089

	// Logging defaults
	cfg.Logging.Level = "info"
	cfg.Logging.AuditLogPath = "logs/tandem-audit.log"
	cfg.Logging.AppLogPath = "logs/tandem-app.log"
	cfg.Logging.MaxSizeMB = 100
	cfg.Logging.MaxBackups = 5
	cfg.Logging.MaxAgeDays = 30
	cfg.Logging.Compress = true

	// Pool defaults
	cfg.Pool.Endpoints = []string{"http://localhost:8001"}
	cfg.Pool.APIKey = ""
	cfg.Pool.Model = "tandem-worker"
	cfg.Pool.MaxTokens = 1024
	cfg.Pool.Temperature = 0.7
	cfg.Pool.TopP = 0.9
	cfg.Pool.RepetitionPenalty = 1.1
	cfg.Pool.StopSequences = []string{}
	cfg.Pool.TimeoutSeconds = 120
	cfg.Pool.MaxRetries = 3
	cfg.Pool.FailureThreshold = 3
	cfg.Pool.MinResponseChars = 50
	cfg.Pool.MinResponseWords = 10
	cfg.Pool.MaxSymbolRatio = 0.05
	cfg.Pool.MaxForeignRatio = 0.30
	cfg.Pool.ReasoningStart = "<think>"
	cfg.Pool.ReasoningEnd = "</think>"

	// Engine A defaults
	cfg.EngineA.Enabled = true
	cfg.EngineA.BaseURL = "https://api.openai.com/v1"
	cfg.EngineA.APIKey = ""
	cfg.EngineA.Model = "gpt-4o"
	cfg.EngineA.MaxTokens = 4096
	cfg.EngineA.Temperature = 0.4
	cfg.EngineA.TimeoutSeconds = 180
	cfg.EngineA.Passes = 2
	cfg.EngineA.BaselineConfidence = 0.85

	// Engine B defaults
	cfg.EngineB.Turns = 5
	cfg.EngineB.ContextWindow = 3
	cfg.EngineB.BaselineConfidence = 0.75
	cfg.EngineB.MaxVerifiedClaims = 5

	// Orchestrator defaults
	cfg.Orchestrator.DefaultMode = "auto"
	cfg.Orchestrator.MaxConcurrentScenarios = 3

	// Arbiter defaults
	cfg.Arbiter.ConsensusThreshold = 0.75

	// Degradation defaults
	cfg.Degradation.BaseConfidence = 0.80
	cfg.Degradation.ConfidenceFloor = 0.20

	// Collaborator defaults
	cfg.Collaborators.RetrievalURL = ""
	cfg.Collaborators.IndicatorsURL = ""
	cfg.Collaborators.VerifierURL = ""
	cfg.Collaborators.TopK = 5
	cfg.Collaborators.CacheTTLSeconds = 300

	// Database defaults
	cfg.Database.Enabled = false
	cfg.Database.Path = "tandem.db"

	return cfg
}
