package context

import (
	"context"

	"github.com/tandemlabs/tandem-ai/internal/integration/retrieval"
	"github.com/tandemlabs/tandem-ai/internal/models"
)

// Package context assembles the turn-1 background block for a reasoning
// session.
//
// Responsibilities:
//   - Query the retrieval collaborator for relevant background chunks
//   - Fetch the current structured indicators
//   - Include the scenario's own opaque inputs
//   - Format everything as a markdown block with one "## " header per
//     section so pruning can drop whole sections
//   - Keep the block inside a token budget using a chars/4 estimate
//
// Collaborator absence or failure never fails the build: the block is
// simply assembled from whatever sources answered, and the BuildReport
// tells the caller which sources failed so it can record the
// degradation. An unconfigured collaborator is skipped without being
// reported as a failure.
//
// Context Components:
//   1. Header — scenario name and domain (always kept by pruning)
//   2. Retrieved Background — top-k chunks with source and score
//   3. Current Indicators — code, value, year rows
//   4. Scenario Inputs — the request's own supplied facts
//
// Integration Points:
//   - Reasoning driver: turn-1 prompt assembly
//   - Retrieval client: both collaborator calls

// DefaultMaxContextTokens bounds the turn-1 context block.
const DefaultMaxContextTokens = 2000

// Retriever is the slice of the retrieval client the builder needs.
type Retriever interface {
	Search(ctx context.Context, query string, topK int) ([]retrieval.Chunk, error)
	Indicators(ctx context.Context) ([]retrieval.Indicator, error)
	SearchConfigured() bool
	IndicatorsConfigured() bool
}

// BuildReport describes how a context block was assembled.
type BuildReport struct {
	Chunks         int
	Indicators     int
	RetrievalErr   error
	IndicatorsErr  error
	TokenEstimate  int
	PrunedSections []string
}

// ContextBuilder defines the interface for turn-1 context assembly.
type ContextBuilder interface {
	// BuildContext returns the formatted context block for a scenario
	// plus a report of which sources contributed or failed. It never
	// returns an error: missing sources degrade quality, not correctness.
	BuildContext(ctx context.Context, scenario *models.Scenario) (string, *BuildReport)

	// TokenEstimate estimates token usage for a context string.
	TokenEstimate(text string) int

	// Prune trims the block to fit maxTokens, dropping whole sections
	// that do not fit and returning the removed section titles.
	Prune(text string, maxTokens int) (string, []string)
}

// NewContextBuilder creates a context builder over a retrieval client.
// The concrete implementation is in builder_impl.go.
