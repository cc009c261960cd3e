package models

import "time"

// Package models defines the core data types shared across tandem-ai.
//
// These types flow between the analysis engines, the arbiter, the
// degradation tracker, the orchestrator, and the persistence layer.
// Handlers convert them to wire contracts in pkg/types; nothing in this
// package depends on transport concerns.

// Scenario is a unit of analysis work handed to the engines. Scenarios
// arrive from the retrieval collaborator (or directly from an API
// request) and are treated as opaque inputs: the engines interpret the
// description and inputs, tandem-ai itself never does.
type Scenario struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Domain      string   `json:"domain"`
	Description string   `json:"description"`
	Inputs      []string `json:"inputs,omitempty"`
}

// TurnRecord captures one completed turn of a multi-turn reasoning
// session: the prompt sent, the response received, the reasoning trace
// (when the model emitted one), and the cost of the exchange.
type TurnRecord struct {
	Index      int           `json:"index"`
	Prompt     string        `json:"prompt"`
	Response   string        `json:"response"`
	Reasoning  string        `json:"reasoning,omitempty"`
	Latency    time.Duration `json:"latency_ms"`
	TokensUsed int           `json:"tokens_used"`
}

// ScenarioAnalysis is the immutable result of running one scenario
// through a reasoning session: every turn that completed, the synthesis
// derived from them, and how much of the work was independently
// verified. Once returned it is never mutated.
type ScenarioAnalysis struct {
	ScenarioID     string        `json:"scenario_id"`
	ScenarioName   string        `json:"scenario_name"`
	Domain         string        `json:"domain"`
	Turns          []TurnRecord  `json:"turns"`
	Synthesis      string        `json:"synthesis"`
	Sources        []string      `json:"sources,omitempty"`
	Duration       time.Duration `json:"duration_ms"`
	VerifiedClaims int           `json:"verified_claims"`
}

// EngineOutput is the normalized result either analysis engine hands to
// the arbiter: who produced it, what it says, how much work went into
// it, and how confident the engine is in its own answer.
type EngineOutput struct {
	Engine      string   `json:"engine"`
	Content     string   `json:"content"`
	Turns       int      `json:"turns"`
	Confidence  float64  `json:"confidence"`
	KeyClaims   []string `json:"key_claims,omitempty"`
	DataSources []string `json:"data_sources,omitempty"`
}

// ArbitrationRecord snapshots the arbiter's decision for one request:
// the outcome it reached, how similar the two outputs were, and how the
// final content was weighted between them.
type ArbitrationRecord struct {
	Outcome        string  `json:"outcome"`
	Similarity     float64 `json:"similarity"`
	Contradictions int     `json:"contradictions"`
	WeightA        float64 `json:"weight_a"`
	WeightB        float64 `json:"weight_b"`
}

// AnalysisResult is the orchestrator's final report for one request:
// the content the caller should read, the confidence after every
// degradation penalty has been applied, and enough supporting detail
// to explain how the answer was produced.
type AnalysisResult struct {
	ID          string             `json:"id"`
	Query       string             `json:"query"`
	Mode        string             `json:"mode"`
	Content     string             `json:"content"`
	Confidence  float64            `json:"confidence"`
	EngineA     *EngineOutput      `json:"engine_a,omitempty"`
	EngineB     *EngineOutput      `json:"engine_b,omitempty"`
	Arbitration *ArbitrationRecord `json:"arbitration,omitempty"`
	Degraded    bool               `json:"degraded"`
	Degradation string             `json:"degradation,omitempty"`
	Duration    time.Duration      `json:"duration_ms"`
	CreatedAt   time.Time          `json:"created_at"`
}
