package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tandemlabs/tandem-ai/pkg/contracts"
)

func TestSearchSuccess(t *testing.T) {
	var gotReq contracts.SearchRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		json.NewEncoder(w).Encode(contracts.SearchResponse{Chunks: []contracts.Chunk{
			{Text: "Fuel imports rose 4% in 2024.", Source: "trade-report", Score: 0.91},
			{Text: "Levy proposals stalled twice before.", Source: "hansard", Score: 0.74},
		}})
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 5, 0)
	chunks, err := client.Search(context.Background(), "fuel levy", 3)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	if gotReq.Query != "fuel levy" || gotReq.TopK != 3 {
		t.Errorf("Unexpected request: %+v", gotReq)
	}
	if len(chunks) != 2 {
		t.Fatalf("Expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].Source != "trade-report" || chunks[0].Score != 0.91 {
		t.Errorf("Unexpected first chunk: %+v", chunks[0])
	}
}

func TestSearchDefaultTopK(t *testing.T) {
	var gotReq contracts.SearchRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(contracts.SearchResponse{})
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 7, 0)
	if _, err := client.Search(context.Background(), "q", 0); err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if gotReq.TopK != 7 {
		t.Errorf("Expected default top_k 7, got %d", gotReq.TopK)
	}
}

func TestSearchNotConfigured(t *testing.T) {
	client := NewClient("", "", 5, 0)
	if _, err := client.Search(context.Background(), "q", 5); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Expected ErrNotConfigured, got %v", err)
	}
	if client.SearchConfigured() {
		t.Error("SearchConfigured should be false for an empty URL")
	}
}

func TestSearchServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "index rebuilding", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 5, 0)
	if _, err := client.Search(context.Background(), "q", 5); err == nil {
		t.Error("Expected error for 503 response")
	}
}

func TestSearchUsesCache(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(contracts.SearchResponse{Chunks: []contracts.Chunk{{Text: "cached", Score: 1}}})
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 5, time.Minute)
	for i := 0; i < 3; i++ {
		chunks, err := client.Search(context.Background(), "same query", 5)
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		if len(chunks) != 1 || chunks[0].Text != "cached" {
			t.Fatalf("Unexpected chunks: %+v", chunks)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("Expected 1 upstream call with caching, got %d", got)
	}

	// A different query misses the cache.
	if _, err := client.Search(context.Background(), "other query", 5); err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("Expected cache miss for a new query, got %d calls", got)
	}
}

func TestIndicators(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Method != http.MethodGet {
			t.Errorf("Expected GET, got %s", r.Method)
		}
		json.NewEncoder(w).Encode(contracts.IndicatorsResponse{Indicators: []contracts.Indicator{
			{Code: "GDP_GROWTH", Value: 2.1, Year: 2025},
			{Code: "CPI", Value: 3.4, Year: 2025},
		}})
	}))
	defer server.Close()

	client := NewClient("", server.URL, 5, time.Minute)
	for i := 0; i < 2; i++ {
		indicators, err := client.Indicators(context.Background())
		if err != nil {
			t.Fatalf("Indicators failed: %v", err)
		}
		if len(indicators) != 2 {
			t.Fatalf("Expected 2 indicators, got %d", len(indicators))
		}
		if indicators[0].Code != "GDP_GROWTH" || indicators[0].Value != 2.1 || indicators[0].Year != 2025 {
			t.Errorf("Unexpected indicator: %+v", indicators[0])
		}
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("Expected 1 upstream call with caching, got %d", got)
	}
}

func TestIndicatorsNotConfigured(t *testing.T) {
	client := NewClient("http://search", "", 5, 0)
	if _, err := client.Indicators(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Expected ErrNotConfigured, got %v", err)
	}
}
