package dispatch

import (
	"fmt"
	"strings"
	"unicode"
)

// Quality screening for pool responses. A response must clear every check, in
// order, before the dispatcher accepts it; the first failing check rejects the
// response and the dispatch is retried on another endpoint.

// QualityConfig holds the thresholds for the response quality gate.
type QualityConfig struct {
	MinResponseChars int
	MinResponseWords int
	MaxSymbolRatio   float64
	MaxForeignRatio  float64
}

// ─── Quality checks (ordered, short-circuit on first failure) ─────────────────

var qualityChecks = []struct {
	name  string
	check func(cfg QualityConfig, text string) (bool, string) // returns (rejected, reason)
}{
	{
		name: "min_length",
		check: func(cfg QualityConfig, text string) (bool, string) {
			trimmed := strings.TrimSpace(text)
			if len(trimmed) < cfg.MinResponseChars {
				return true, fmt.Sprintf("response too short: %d chars, need %d", len(trimmed), cfg.MinResponseChars)
			}
			if words := len(strings.Fields(trimmed)); words < cfg.MinResponseWords {
				return true, fmt.Sprintf("response too short: %d words, need %d", words, cfg.MinResponseWords)
			}
			return false, ""
		},
	},
	{
		name: "foreign_script",
		check: func(cfg QualityConfig, text string) (bool, string) {
			letters, foreign := 0, 0
			for _, r := range text {
				if !unicode.IsLetter(r) {
					continue
				}
				letters++
				if !unicode.Is(unicode.Latin, r) {
					foreign++
				}
			}
			if letters == 0 {
				return false, ""
			}
			ratio := float64(foreign) / float64(letters)
			if ratio > cfg.MaxForeignRatio {
				return true, fmt.Sprintf("non-Latin script ratio %.2f exceeds %.2f", ratio, cfg.MaxForeignRatio)
			}
			return false, ""
		},
	},
	{
		name: "repetition_loop",
		check: func(cfg QualityConfig, text string) (bool, string) {
			if r, count, total := dominantSymbol(text); total > 0 {
				ratio := float64(count) / float64(total)
				if ratio > cfg.MaxSymbolRatio {
					return true, fmt.Sprintf("symbol %q is %.1f%% of all characters", r, ratio*100)
				}
			}
			if unit := tightLoop(text, 5); unit != "" {
				return true, fmt.Sprintf("substring %q repeats 5+ times consecutively", unit)
			}
			return false, ""
		},
	},
	{
		name: "semantic_repetition",
		check: func(cfg QualityConfig, text string) (bool, string) {
			units := textUnits(text)
			if len(units) < 2 {
				return false, ""
			}
			seen := make(map[string]bool, len(units))
			for _, u := range units {
				seen[u] = true
			}
			duplicates := len(units) - len(seen)
			if duplicates*2 > len(units) {
				return true, fmt.Sprintf("%d of %d text units are duplicates", duplicates, len(units))
			}
			return false, ""
		},
	},
}

// checkQuality runs the gate chain. An empty check name means the response
// passed every check.
func checkQuality(cfg QualityConfig, text string) (failedCheck, reason string) {
	for _, qc := range qualityChecks {
		if rejected, why := qc.check(cfg, text); rejected {
			return qc.name, why
		}
	}
	return "", ""
}

// dominantSymbol finds the most frequent non-alphanumeric, non-space rune.
func dominantSymbol(text string) (rune, int, int) {
	counts := make(map[rune]int)
	total := 0
	for _, r := range text {
		total++
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			continue
		}
		counts[r]++
	}
	var best rune
	bestCount := 0
	for r, c := range counts {
		if c > bestCount {
			best, bestCount = r, c
		}
	}
	return best, bestCount, total
}

// tightLoop reports a short unit (2-20 runes) repeated at least minRepeats
// times back to back. Units without a letter or digit are ignored so that
// markdown rules and separator runs do not trip the check.
func tightLoop(text string, minRepeats int) string {
	runes := []rune(text)
	n := len(runes)
	for period := 2; period <= 20; period++ {
		if n < period*minRepeats {
			break
		}
		for start := 0; start+period*minRepeats <= n; start++ {
			unit := string(runes[start : start+period])
			if !containsAlnum(unit) {
				continue
			}
			repeats := 1
			for pos := start + period; pos+period <= n; pos += period {
				if string(runes[pos:pos+period]) != unit {
					break
				}
				repeats++
				if repeats >= minRepeats {
					return unit
				}
			}
		}
	}
	return ""
}

func containsAlnum(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// textUnits splits content into whitespace-normalized paragraph units, falling
// back to sentence units when the text is a single paragraph.
func textUnits(text string) []string {
	var units []string
	paragraphs := strings.Split(text, "\n\n")
	if len(paragraphs) < 2 {
		paragraphs = strings.FieldsFunc(text, func(r rune) bool {
			return r == '.' || r == '!' || r == '?'
		})
	}
	for _, p := range paragraphs {
		normalized := strings.Join(strings.Fields(p), " ")
		if normalized != "" {
			units = append(units, normalized)
		}
	}
	return units
}
