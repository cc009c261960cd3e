package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/tandemlabs/tandem-ai/pkg/contracts"
)

// Package retrieval provides the clients for the two optional context
// collaborators: a text-retrieval search service and a structured
// indicator feed.
//
// Responsibilities:
//   - Search the retrieval service for background text chunks
//   - Fetch the current structured indicators (code, value, year)
//   - Cache both behind a small TTL cache so repeated scenario requests
//     do not hammer the collaborators
//
// Both collaborators are optional. An unconfigured URL means the
// corresponding method reports ErrNotConfigured and the caller builds
// context without that source; a configured-but-failing collaborator is
// a degradation the caller reports to the tracker.
//
// Integration Points:
//   - Context builder: turn-1 background assembly
//   - Orchestrator health check: Configured flags
//   - pkg/contracts: wire shapes shared with the collaborator services

// DefaultTimeout bounds a single collaborator call.
const DefaultTimeout = 15 * time.Second

// ErrNotConfigured is returned when the collaborator URL is empty.
var ErrNotConfigured = fmt.Errorf("collaborator not configured")

// Chunk is one retrieved background text fragment.
type Chunk struct {
	Text   string  `json:"text"`
	Source string  `json:"source"`
	Score  float64 `json:"score"`
}

// Indicator is one structured data point from the indicator feed.
type Indicator struct {
	Code  string  `json:"code"`
	Value float64 `json:"value"`
	Year  int     `json:"year"`
}

// ─── TTL cache ────────────────────────────────────────────────────────────────

type cacheEntry struct {
	value     interface{}
	expiresAt time.Time
}

// ttlCache is a simple TTL-based in-memory cache.
type ttlCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
}

func newTTLCache(ttl time.Duration) *ttlCache {
	c := &ttlCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
	}
	// Background GC to evict expired entries every 2×TTL
	go func() {
		ticker := time.NewTicker(2 * ttl)
		defer ticker.Stop()
		for range ticker.C {
			c.evict()
		}
	}()
	return c
}

func (c *ttlCache) get(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

func (c *ttlCache) set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: value, expiresAt: time.Now().Add(c.ttl)}
}

func (c *ttlCache) evict() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
}

// ─── Client ───────────────────────────────────────────────────────────────────

// Client talks to the retrieval search service and the indicator feed.
type Client struct {
	searchURL     string
	indicatorsURL string
	defaultTopK   int
	httpClient    *http.Client
	cache         *ttlCache
}

// NewClient creates a retrieval client. Empty URLs disable the
// corresponding collaborator; cacheTTL <= 0 disables caching.
func NewClient(searchURL, indicatorsURL string, defaultTopK int, cacheTTL time.Duration) *Client {
	if defaultTopK <= 0 {
		defaultTopK = 5
	}
	c := &Client{
		searchURL:     searchURL,
		indicatorsURL: indicatorsURL,
		defaultTopK:   defaultTopK,
		httpClient:    &http.Client{Timeout: DefaultTimeout},
	}
	if cacheTTL > 0 {
		c.cache = newTTLCache(cacheTTL)
	}
	return c
}

// SearchConfigured reports whether the search collaborator has a URL.
func (c *Client) SearchConfigured() bool { return c.searchURL != "" }

// IndicatorsConfigured reports whether the indicator feed has a URL.
func (c *Client) IndicatorsConfigured() bool { return c.indicatorsURL != "" }

// Search returns the topK most relevant background chunks for query.
func (c *Client) Search(ctx context.Context, query string, topK int) ([]Chunk, error) {
	if !c.SearchConfigured() {
		return nil, ErrNotConfigured
	}
	if topK <= 0 {
		topK = c.defaultTopK
	}

	cacheKey := fmt.Sprintf("search:%d:%s", topK, query)
	if c.cache != nil {
		if cached, ok := c.cache.get(cacheKey); ok {
			return cached.([]Chunk), nil
		}
	}

	body, err := json.Marshal(contracts.SearchRequest{Query: query, TopK: topK})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search request: %w", err)
	}

	var result contracts.SearchResponse
	if err := c.postJSON(ctx, c.searchURL, body, &result); err != nil {
		return nil, fmt.Errorf("retrieval search failed: %w", err)
	}

	chunks := make([]Chunk, len(result.Chunks))
	for i, ch := range result.Chunks {
		chunks[i] = Chunk(ch)
	}

	if c.cache != nil {
		c.cache.set(cacheKey, chunks)
	}
	return chunks, nil
}

// Indicators returns the current structured indicator set.
func (c *Client) Indicators(ctx context.Context) ([]Indicator, error) {
	if !c.IndicatorsConfigured() {
		return nil, ErrNotConfigured
	}

	if c.cache != nil {
		if cached, ok := c.cache.get("indicators"); ok {
			return cached.([]Indicator), nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.indicatorsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create indicators request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("indicator fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("indicator feed error (status %d): %s", resp.StatusCode, string(payload))
	}

	var result contracts.IndicatorsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode indicators: %w", err)
	}

	indicators := make([]Indicator, len(result.Indicators))
	for i, ind := range result.Indicators {
		indicators[i] = Indicator(ind)
	}

	if c.cache != nil {
		c.cache.set("indicators", indicators)
	}
	return indicators, nil
}

func (c *Client) postJSON(ctx context.Context, url string, body []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(payload))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
