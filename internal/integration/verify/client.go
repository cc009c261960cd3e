package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tandemlabs/tandem-ai/pkg/contracts"
)

// Package verify provides the client for the external claim verifier, the
// optional collaborator that fact-checks numeric claims extracted from the
// final turn of a reasoning session.
//
// Verification is best effort: a verifier failure is reported to the
// degradation tracker by the caller and never aborts a session.

// DefaultTimeout bounds a single verification call.
const DefaultTimeout = 10 * time.Second

// ErrNotConfigured is returned when the verifier URL is empty.
var ErrNotConfigured = fmt.Errorf("verifier not configured")

// Client talks to the external claim verifier.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a verifier client. An empty URL disables verification.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
}

// Configured reports whether the verifier has a URL.
func (c *Client) Configured() bool { return c.baseURL != "" }

// Verify checks one claim against the verifier. It returns whether the
// claim passed.
func (c *Client) Verify(ctx context.Context, claim string) (bool, error) {
	if !c.Configured() {
		return false, ErrNotConfigured
	}

	body, err := json.Marshal(contracts.VerifyRequest{Claim: claim})
	if err != nil {
		return false, fmt.Errorf("failed to marshal claim: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("failed to create verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("verifier call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return false, fmt.Errorf("verifier error (status %d): %s", resp.StatusCode, string(payload))
	}

	var result contracts.VerifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, fmt.Errorf("failed to decode verifier response: %w", err)
	}
	return result.Verified, nil
}
