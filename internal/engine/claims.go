package engine

// Package engine — key-claim selection shared by both engines.

import (
	"regexp"
	"sort"
	"strings"
)

// DefaultKeyClaims bounds how many claims an engine surfaces per output.
const DefaultKeyClaims = 3

// keyClaimPattern matches the figures that make a sentence worth
// surfacing: percentages, currency amounts, and scale words.
var keyClaimPattern = regexp.MustCompile(`\d+(?:\.\d+)?\s?%|[$€£]\s?\d[\d,]*(?:\.\d+)?|\b\d+(?:\.\d+)?\s(?i:million|billion|trillion)\b`)

// KeyClaims picks up to limit quantified sentences from text, preferring
// the sentences carrying the most figures. The result keeps document
// order; ties on figure count resolve to the earlier sentence.
func KeyClaims(text string, limit int) []string {
	if limit <= 0 {
		limit = DefaultKeyClaims
	}

	type candidate struct {
		pos   int
		count int
		text  string
	}
	var candidates []candidate
	for pos, sentence := range sentences(text) {
		if n := len(keyClaimPattern.FindAllString(sentence, -1)); n > 0 {
			candidates = append(candidates, candidate{pos: pos, count: n, text: sentence})
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].count > candidates[j].count
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].pos < candidates[j].pos
	})

	claims := make([]string, len(candidates))
	for i, c := range candidates {
		claims[i] = c.text
	}
	return claims
}

// sentences splits text on sentence boundaries and newlines, stripping
// list-bullet prefixes so claims read as plain statements.
func sentences(text string) []string {
	var out []string
	emit := func(segment string) {
		s := strings.TrimSpace(segment)
		s = strings.TrimSpace(strings.TrimLeft(s, "-*•"))
		if s != "" {
			out = append(out, s)
		}
	}

	start := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?':
			if i+1 == len(text) || text[i+1] == ' ' || text[i+1] == '\n' {
				emit(text[start : i+1])
				start = i + 1
			}
		case '\n':
			emit(text[start:i])
			start = i + 1
		}
	}
	if start < len(text) {
		emit(text[start:])
	}
	return out
}
