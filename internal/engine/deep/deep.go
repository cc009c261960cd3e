package deep

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tandemlabs/tandem-ai/internal/audit"
	"github.com/tandemlabs/tandem-ai/internal/degrade"
	"github.com/tandemlabs/tandem-ai/internal/engine"
	"github.com/tandemlabs/tandem-ai/internal/metrics"
	"github.com/tandemlabs/tandem-ai/internal/models"
	"github.com/tandemlabs/tandem-ai/internal/reasoning/prompt"
)

// Package deep implements Engine A: deep analysis against one large
// remote model.
//
// The engine runs a fixed number of passes. Pass 1 produces a complete
// analysis from the scenario alone; each later pass reviews the previous
// analysis and strengthens it. The final pass's text is the engine's
// output.
//
// Failure semantics:
//   - Pass 1 failing is terminal: no usable output exists, so Analyze
//     returns a *engine.SessionError.
//   - A later pass failing keeps the last completed analysis and records
//     a partial penalty on the analysis state.
//
// Confidence comes from the model's own "Confidence: NN%" line when it
// reports one; otherwise the engine baseline applies.
//
// Integration Points:
//   - Orchestrator: invoked directly or as half of the auto-mode fan-out
//   - Prompt Manager: deep system prompt plus per-pass templates
//   - Degradation Tracker: partial-pass penalties
//   - Audit Logger and Metrics: per-pass call records

const (
	// DefaultTimeout caps one remote model call.
	DefaultTimeout = 120 * time.Second
	// DefaultPasses is how many analysis passes the engine runs.
	DefaultPasses = 2
	// DefaultMaxTokens caps one pass's generated output.
	DefaultMaxTokens = 2048
	// DefaultBaselineConfidence applies when the model does not report
	// a usable confidence of its own.
	DefaultBaselineConfidence = 0.85

	completionsPath = "/v1/chat/completions"
)

// Config holds the remote model connection and pass settings.
type Config struct {
	BaseURL            string
	APIKey             string
	Model              string
	Passes             int
	MaxTokens          int
	Temperature        float64
	Timeout            time.Duration
	BaselineConfidence float64
}

// Engine is the deep-analysis engine.
type Engine struct {
	cfg        Config
	prompts    prompt.PromptManager
	tracker    degrade.Tracker
	auditLog   audit.Logger
	httpClient *http.Client
}

// Chat-completions wire structures
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// NewEngine creates the deep-analysis engine.
func NewEngine(cfg Config, prompts prompt.PromptManager, tracker degrade.Tracker, auditLog audit.Logger) *Engine {
	if prompts == nil {
		panic("prompt manager is required")
	}
	if tracker == nil {
		panic("degradation tracker is required")
	}
	if auditLog == nil {
		panic("audit logger is required")
	}
	if cfg.Passes <= 0 {
		cfg.Passes = DefaultPasses
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.BaselineConfidence <= 0 || cfg.BaselineConfidence > 1 {
		cfg.BaselineConfidence = DefaultBaselineConfidence
	}

	return &Engine{
		cfg:      cfg,
		prompts:  prompts,
		tracker:  tracker,
		auditLog: auditLog,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// ID returns the engine identifier.
func (e *Engine) ID() string { return engine.EngineA }

// Analyze runs the configured number of deep-analysis passes.
func (e *Engine) Analyze(ctx context.Context, scenario *models.Scenario, state *degrade.AnalysisState) (*models.EngineOutput, error) {
	if scenario == nil {
		return nil, fmt.Errorf("scenario is required")
	}
	if state == nil {
		return nil, fmt.Errorf("analysis state is required")
	}

	systemPrompt, err := e.prompts.GetSystemPrompt(ctx, engine.EngineA)
	if err != nil {
		return nil, fmt.Errorf("failed to get system prompt: %w", err)
	}

	content := ""
	completed := 0
	var lastErr error

	for pass := 1; pass <= e.cfg.Passes; pass++ {
		rendered, err := e.prompts.RenderDeepAnalysis(ctx, pass, scenario.Name, scenario.Domain, scenario.Description, content)
		if err != nil {
			return nil, fmt.Errorf("failed to render pass %d: %w", pass, err)
		}

		start := time.Now()
		text, tokens, err := e.complete(ctx, systemPrompt, rendered)
		if err != nil {
			lastErr = err
			metrics.EngineCallsTotal.WithLabelValues(engine.EngineA, "error").Inc()
			e.auditLog.Log(ctx, audit.NewEvent(audit.EventEngineCallFailed).
				WithCorrelationID(state.RequestID).
				WithScenario(scenario.ID).
				WithEngine(engine.EngineA).
				WithMetadata("pass", pass).
				WithError(err, "DEEP_PASS_FAILED"))
			break
		}

		completed = pass
		content = text
		metrics.EngineCallsTotal.WithLabelValues(engine.EngineA, "success").Inc()
		e.auditLog.Log(ctx, audit.NewEvent(audit.EventEngineCallCompleted).
			WithCorrelationID(state.RequestID).
			WithScenario(scenario.ID).
			WithEngine(engine.EngineA).
			WithMetadata("pass", pass).
			WithMetadata("tokens", tokens).
			WithDuration(time.Since(start)).
			WithResult(audit.ResultSuccess))
	}

	if completed == 0 {
		return nil, &engine.SessionError{
			Engine:    engine.EngineA,
			Completed: 0,
			Planned:   e.cfg.Passes,
			Err:       lastErr,
		}
	}
	if completed < e.cfg.Passes {
		e.tracker.HandleEngineAPartial(ctx, state, completed, e.cfg.Passes, lastErr)
	}

	return &models.EngineOutput{
		Engine:     engine.EngineA,
		Content:    content,
		Turns:      completed,
		Confidence: parseConfidence(content, e.cfg.BaselineConfidence),
		KeyClaims:  engine.KeyClaims(content, engine.DefaultKeyClaims),
	}, nil
}

// complete sends one chat-completions request to the remote model.
func (e *Engine) complete(ctx context.Context, systemPrompt, userPrompt string) (string, int, error) {
	request := chatRequest{
		Model: e.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		MaxTokens:   e.cfg.MaxTokens,
		Temperature: e.cfg.Temperature,
	}

	body, err := json.Marshal(request)
	if err != nil {
		return "", 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimRight(e.cfg.BaseURL, "/") + completionsPath
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return "", 0, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("model request failed: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("failed to read model response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("model error (status %d): %s", resp.StatusCode, truncate(string(responseBody), 200))
	}

	var completion chatResponse
	if err := json.Unmarshal(responseBody, &completion); err != nil {
		return "", 0, fmt.Errorf("failed to parse model response: %w", err)
	}

	if len(completion.Choices) == 0 {
		return "", 0, fmt.Errorf("no choices in model response")
	}

	return completion.Choices[0].Message.Content, completion.Usage.TotalTokens, nil
}

var confidencePattern = regexp.MustCompile(`(?i)confidence[:\s]+(\d{1,3})\s*%`)

// parseConfidence reads the model's self-reported confidence line; the
// baseline applies when the model did not report a usable one.
func parseConfidence(text string, baseline float64) float64 {
	match := confidencePattern.FindStringSubmatch(text)
	if match == nil {
		return baseline
	}
	value, err := strconv.Atoi(match[1])
	if err != nil || value < 1 || value > 100 {
		return baseline
	}
	return float64(value) / 100.0
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
