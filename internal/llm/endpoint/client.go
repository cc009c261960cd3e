package endpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tandemlabs/tandem-ai/internal/llm/types"
)

// Package endpoint provides the HTTP transport for pool inference endpoints.
//
// Responsibilities:
//   - Speak the chat-completions wire format to any pool endpoint
//   - Carry the pool's static generation parameters on every request
//   - Optional Bearer auth for deployments that front the pool with a gateway
//   - Map non-2xx responses and transport failures to errors
//   - Report token usage and request latency per call
//
// One Client serves the whole pool: the target endpoint address is chosen by
// the dispatcher and passed per call, so rotation needs no per-endpoint state
// here.

const (
	DefaultTimeout  = 120 * time.Second
	completionsPath = "/v1/chat/completions"
)

// Client is an HTTP chat-completions client for pool endpoints.
type Client struct {
	apiKey     string
	httpClient *http.Client
}

// Chat-completions wire structures
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model             string        `json:"model"`
	Messages          []chatMessage `json:"messages"`
	MaxTokens         int           `json:"max_tokens"`
	Temperature       float64       `json:"temperature,omitempty"`
	TopP              float64       `json:"top_p,omitempty"`
	RepetitionPenalty float64       `json:"repetition_penalty,omitempty"`
	Stop              []string      `json:"stop,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// NewClient creates a pool endpoint client. apiKey may be empty for
// unauthenticated pool deployments.
func NewClient(apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Complete sends one chat-completions request to the given endpoint address
// and returns the generated text with its token usage.
func (c *Client) Complete(
	ctx context.Context,
	endpointURL string,
	messages []types.Message,
	params types.GenerationParams,
) (*types.InferenceResponse, error) {
	wireMessages := make([]chatMessage, len(messages))
	for i, msg := range messages {
		wireMessages[i] = chatMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	request := chatRequest{
		Model:             params.Model,
		Messages:          wireMessages,
		MaxTokens:         params.MaxTokens,
		Temperature:       params.Temperature,
		TopP:              params.TopP,
		RepetitionPenalty: params.RepetitionPenalty,
		Stop:              params.StopSequences,
	}

	start := time.Now()
	responseBody, err := c.makeRequest(ctx, endpointURL+completionsPath, request)
	if err != nil {
		return nil, fmt.Errorf("endpoint request failed: %w", err)
	}

	var completion chatResponse
	if err := json.Unmarshal(responseBody, &completion); err != nil {
		return nil, fmt.Errorf("failed to parse endpoint response: %w", err)
	}

	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("no choices in endpoint response")
	}

	return &types.InferenceResponse{
		Content: completion.Choices[0].Message.Content,
		Usage: types.TokenUsage{
			PromptTokens:     completion.Usage.PromptTokens,
			CompletionTokens: completion.Usage.CompletionTokens,
			TotalTokens:      completion.Usage.TotalTokens,
		},
		Latency:  time.Since(start),
		Endpoint: endpointURL,
	}, nil
}

// makeRequest makes an HTTP request to a pool endpoint
func (c *Client) makeRequest(ctx context.Context, url string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("endpoint error (status %d): %s", resp.StatusCode, string(responseBody))
	}

	return responseBody, nil
}
