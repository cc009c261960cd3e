package types

import "time"

// Message represents a message in a conversation
type Message struct {
	Role    string `json:"role"`    // user, assistant, system
	Content string `json:"content"` // message text
}

// GenerationParams holds the static generation parameters applied to every
// request sent to the endpoint pool.
type GenerationParams struct {
	Model             string   `json:"model"`
	MaxTokens         int      `json:"max_tokens"`
	Temperature       float64  `json:"temperature"`
	TopP              float64  `json:"top_p"`
	RepetitionPenalty float64  `json:"repetition_penalty,omitempty"`
	StopSequences     []string `json:"stop,omitempty"`
}

// InferenceResponse is the result of one completed dispatch. Immutable once
// constructed: the dispatcher separates any reasoning trace from the
// user-facing content before returning it.
type InferenceResponse struct {
	Content   string        `json:"content"`             // user-facing answer text
	Reasoning string        `json:"reasoning,omitempty"` // internal trace, if the model emitted one
	Usage     TokenUsage    `json:"usage"`
	Latency   time.Duration `json:"latency"`
	Endpoint  string        `json:"endpoint"` // address that served the request
}

// TokenUsage tracks token consumption for one request
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`     // input tokens
	CompletionTokens int `json:"completion_tokens"` // output tokens
	TotalTokens      int `json:"total_tokens"`      // total tokens
}
