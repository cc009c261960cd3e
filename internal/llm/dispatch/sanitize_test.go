package dispatch

import "testing"

func TestSeparateReasoning(t *testing.T) {
	tests := []struct {
		name          string
		text          string
		wantContent   string
		wantReasoning string
	}{
		{
			name:          "Single trace",
			text:          "<think>consider demand first</think>Demand held steady.",
			wantContent:   "Demand held steady.",
			wantReasoning: "consider demand first",
		},
		{
			name:          "Trace in the middle",
			text:          "Opening remark. <think>now pivot</think>Closing remark.",
			wantContent:   "Opening remark. Closing remark.",
			wantReasoning: "now pivot",
		},
		{
			name:          "Multiple traces joined",
			text:          "<think>one</think>First part. <think>two</think>Second part.",
			wantContent:   "First part. Second part.",
			wantReasoning: "one\ntwo",
		},
		{
			name:          "Unterminated trace consumes the remainder",
			text:          "Visible answer. <think>this never closes and keeps going",
			wantContent:   "Visible answer.",
			wantReasoning: "this never closes and keeps going",
		},
		{
			name:          "No markers",
			text:          "Plain response with no trace at all.",
			wantContent:   "Plain response with no trace at all.",
			wantReasoning: "",
		},
		{
			name:          "Empty text",
			text:          "",
			wantContent:   "",
			wantReasoning: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content, reasoning := separateReasoning(tt.text, "<think>", "</think>")
			if content != tt.wantContent {
				t.Errorf("content = %q, want %q", content, tt.wantContent)
			}
			if reasoning != tt.wantReasoning {
				t.Errorf("reasoning = %q, want %q", reasoning, tt.wantReasoning)
			}
		})
	}
}

func TestSeparateReasoningDisabled(t *testing.T) {
	text := "<think>still here</think>Answer."
	content, reasoning := separateReasoning(text, "", "")
	if content != text {
		t.Errorf("Expected text unchanged with empty markers, got %q", content)
	}
	if reasoning != "" {
		t.Errorf("Expected no reasoning with empty markers, got %q", reasoning)
	}
}

func TestDedupeParagraphs(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "Exact duplicate removed",
			text: "Alpha paragraph.\n\nBeta paragraph.\n\nAlpha paragraph.",
			want: "Alpha paragraph.\n\nBeta paragraph.",
		},
		{
			name: "Order preserved",
			text: "Third point.\n\nFirst point.\n\nThird point.\n\nSecond point.",
			want: "Third point.\n\nFirst point.\n\nSecond point.",
		},
		{
			name: "Trailing whitespace ignored for matching",
			text: "Same text.\n\nSame text.   ",
			want: "Same text.",
		},
		{
			name: "Empty paragraphs dropped",
			text: "Alpha.\n\n\n\nBeta.",
			want: "Alpha.\n\nBeta.",
		},
		{
			name: "No duplicates unchanged",
			text: "One.\n\nTwo.\n\nThree.",
			want: "One.\n\nTwo.\n\nThree.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := dedupeParagraphs(tt.text)
			if got != tt.want {
				t.Errorf("dedupeParagraphs() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDedupeParagraphsIdempotent(t *testing.T) {
	texts := []string{
		"Alpha paragraph.\n\nBeta paragraph.\n\nAlpha paragraph.",
		goodContent,
		"Solo.",
		"",
	}

	for _, text := range texts {
		once := dedupeParagraphs(text)
		twice := dedupeParagraphs(once)
		if once != twice {
			t.Errorf("dedupeParagraphs not idempotent for %q: first %q, second %q", text, once, twice)
		}
	}
}
