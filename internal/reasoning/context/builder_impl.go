package context

// Package context — concrete ContextBuilder implementation.

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tandemlabs/tandem-ai/internal/integration/retrieval"
	"github.com/tandemlabs/tandem-ai/internal/models"
)

// contextBuilderImpl is the concrete implementation of ContextBuilder.
type contextBuilderImpl struct {
	retriever Retriever
	topK      int
	maxTokens int
}

// NewContextBuilder creates a ContextBuilder backed by the retrieval client.
func NewContextBuilder(retriever Retriever, topK, maxTokens int) ContextBuilder {
	if topK <= 0 {
		topK = 5
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxContextTokens
	}
	return &contextBuilderImpl{retriever: retriever, topK: topK, maxTokens: maxTokens}
}

// BuildContext gathers collaborator data and formats the turn-1 block.
func (b *contextBuilderImpl) BuildContext(ctx context.Context, scenario *models.Scenario) (string, *BuildReport) {
	report := &BuildReport{}
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("## Background for: %s\n\n", scenario.Name))
	if scenario.Domain != "" {
		sb.WriteString(fmt.Sprintf("**Domain:** %s\n\n", scenario.Domain))
	}

	if b.retriever != nil && b.retriever.SearchConfigured() {
		query := scenario.Description
		if query == "" {
			query = scenario.Name
		}
		chunks, err := b.retriever.Search(ctx, query, b.topK)
		switch {
		case errors.Is(err, retrieval.ErrNotConfigured):
			// skipped
		case err != nil:
			report.RetrievalErr = err
		case len(chunks) > 0:
			report.Chunks = len(chunks)
			sb.WriteString("## Retrieved Background\n")
			for _, chunk := range chunks {
				sb.WriteString(fmt.Sprintf("- [%s] %s (relevance %.2f)\n", chunk.Source, chunk.Text, chunk.Score))
			}
			sb.WriteString("\n")
		}
	}

	if b.retriever != nil && b.retriever.IndicatorsConfigured() {
		indicators, err := b.retriever.Indicators(ctx)
		switch {
		case errors.Is(err, retrieval.ErrNotConfigured):
			// skipped
		case err != nil:
			report.IndicatorsErr = err
		case len(indicators) > 0:
			report.Indicators = len(indicators)
			sb.WriteString("## Current Indicators\n")
			for _, ind := range indicators {
				sb.WriteString(fmt.Sprintf("- %s: %.2f (%d)\n", ind.Code, ind.Value, ind.Year))
			}
			sb.WriteString("\n")
		}
	}

	if len(scenario.Inputs) > 0 {
		sb.WriteString("## Scenario Inputs\n")
		for _, input := range scenario.Inputs {
			sb.WriteString(fmt.Sprintf("- %s\n", input))
		}
		sb.WriteString("\n")
	}

	block, removed := b.Prune(strings.TrimRight(sb.String(), "\n"), b.maxTokens)
	report.PrunedSections = removed
	report.TokenEstimate = b.TokenEstimate(block)
	return block, report
}

// TokenEstimate estimates tokens using a simple characters/4 heuristic.
func (b *contextBuilderImpl) TokenEstimate(text string) int {
	// ~4 characters per token is a reasonable estimate for English text
	return utf8.RuneCountInString(text) / 4
}

// Prune trims context to fit within the token budget.
func (b *contextBuilderImpl) Prune(text string, maxTokens int) (string, []string) {
	maxChars := maxTokens * 4
	if utf8.RuneCountInString(text) <= maxChars {
		return text, nil
	}

	// Split into sections by "##" headers
	sections := strings.Split(text, "\n## ")
	removed := []string{}
	result := sections[0] // Always keep the first section (title)

	for _, section := range sections[1:] {
		candidate := result + "\n## " + section
		if utf8.RuneCountInString(candidate) <= maxChars {
			result = candidate
		} else {
			// Extract section title for reporting
			lines := strings.SplitN(section, "\n", 2)
			removed = append(removed, lines[0])
		}
	}

	return result, removed
}
