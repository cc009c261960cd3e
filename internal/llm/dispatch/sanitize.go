package dispatch

import "strings"

// Content sanitation applied to accepted responses before they leave the
// dispatcher: reasoning traces move to their own field, exact-duplicate
// paragraphs collapse to the first occurrence.

// separateReasoning splits every marker-delimited reasoning segment out of
// text. An unterminated start marker consumes the remainder of the text as
// reasoning. Empty markers disable separation.
func separateReasoning(text, startMarker, endMarker string) (content, reasoning string) {
	if startMarker == "" || endMarker == "" {
		return text, ""
	}

	var contentParts, reasoningParts []string
	rest := text
	for {
		start := strings.Index(rest, startMarker)
		if start < 0 {
			contentParts = append(contentParts, rest)
			break
		}
		contentParts = append(contentParts, rest[:start])
		rest = rest[start+len(startMarker):]

		end := strings.Index(rest, endMarker)
		if end < 0 {
			// Unterminated trace: the rest of the text is reasoning
			reasoningParts = append(reasoningParts, strings.TrimSpace(rest))
			rest = ""
			break
		}
		reasoningParts = append(reasoningParts, strings.TrimSpace(rest[:end]))
		rest = rest[end+len(endMarker):]
	}

	content = strings.TrimSpace(strings.Join(contentParts, ""))
	reasoning = strings.TrimSpace(strings.Join(reasoningParts, "\n"))
	return content, reasoning
}

// dedupeParagraphs drops paragraphs whose trimmed text already appeared,
// keeping first occurrences in order. Idempotent: a second pass over its own
// output changes nothing.
func dedupeParagraphs(text string) string {
	paragraphs := strings.Split(text, "\n\n")
	seen := make(map[string]bool, len(paragraphs))
	var kept []string
	for _, p := range paragraphs {
		trimmed := strings.TrimSpace(p)
		if trimmed == "" || seen[trimmed] {
			continue
		}
		seen[trimmed] = true
		kept = append(kept, trimmed)
	}
	return strings.Join(kept, "\n\n")
}
