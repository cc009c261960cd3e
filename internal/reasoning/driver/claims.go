package driver

// Package driver — numeric claim extraction for final-turn verification.

import (
	"regexp"
	"strings"
)

// quantityPattern matches the quantities worth verifying: percentages,
// currency amounts, scale words (million/billion/trillion), and large
// plain numbers.
var quantityPattern = regexp.MustCompile(`\d+(?:\.\d+)?\s?%|[$€£]\s?\d[\d,]*(?:\.\d+)?|\b\d+(?:\.\d+)?\s(?i:million|billion|trillion)\b|\b\d{4,}\b`)

// extractNumericClaims returns every sentence of text containing a
// quantity, in document order.
func extractNumericClaims(text string) []string {
	var claims []string
	for _, sentence := range splitSentences(text) {
		if quantityPattern.MatchString(sentence) {
			claims = append(claims, sentence)
		}
	}
	return claims
}

// splitSentences splits on sentence-ending punctuation followed by
// whitespace, so decimals like 2.1 stay intact.
func splitSentences(text string) []string {
	var sentences []string
	flush := func(segment string) {
		if s := strings.TrimSpace(segment); s != "" {
			sentences = append(sentences, s)
		}
	}

	start := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?':
			if i+1 == len(text) || text[i+1] == ' ' || text[i+1] == '\n' || text[i+1] == '\t' {
				flush(text[start : i+1])
				start = i + 1
			}
		case '\n':
			flush(text[start:i])
			start = i + 1
		}
	}
	if start < len(text) {
		flush(text[start:])
	}
	return sentences
}
