package dispatch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tandemlabs/tandem-ai/internal/audit"
	"github.com/tandemlabs/tandem-ai/internal/llm/types"
)

const goodContent = "The first quarter review shows steady demand, stable pricing, and a modest improvement in supplier reliability across every region we track."

// fakeClient scripts per-call replies and records which endpoint served each
// call.
type fakeClient struct {
	mu     sync.Mutex
	calls  []string
	script func(call int, endpoint string) (*types.InferenceResponse, error)
}

func (f *fakeClient) Complete(ctx context.Context, endpointURL string, messages []types.Message, params types.GenerationParams) (*types.InferenceResponse, error) {
	f.mu.Lock()
	call := len(f.calls)
	f.calls = append(f.calls, endpointURL)
	f.mu.Unlock()
	return f.script(call, endpointURL)
}

func (f *fakeClient) endpoints() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func okResponse(endpoint, content string) *types.InferenceResponse {
	return &types.InferenceResponse{
		Content:  content,
		Usage:    types.TokenUsage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
		Latency:  5 * time.Millisecond,
		Endpoint: endpoint,
	}
}

func testAudit(t *testing.T) audit.Logger {
	t.Helper()
	dir := t.TempDir()
	logger, err := audit.NewLogger(&audit.Config{
		AuditLogPath: filepath.Join(dir, "audit.log"),
		AppLogPath:   filepath.Join(dir, "app.log"),
		MaxSize:      10,
		MaxBackups:   1,
		MaxAge:       1,
		LogLevel:     "error",
	})
	if err != nil {
		t.Fatalf("Failed to create audit logger: %v", err)
	}
	t.Cleanup(func() { logger.Close() })
	return logger
}

func testDispatchConfig(endpoints ...string) Config {
	return Config{
		Endpoints: endpoints,
		Params: types.GenerationParams{
			Model:       "tandem-worker",
			MaxTokens:   256,
			Temperature: 0.7,
			TopP:        0.9,
		},
		MaxRetries:       3,
		FailureThreshold: 3,
		Quality: QualityConfig{
			MinResponseChars: 50,
			MinResponseWords: 10,
			MaxSymbolRatio:   0.05,
			MaxForeignRatio:  0.30,
		},
		ReasoningStart: "<think>",
		ReasoningEnd:   "</think>",
	}
}

func userMessages() []types.Message {
	return []types.Message{{Role: "user", Content: "review the scenario"}}
}

func endpointByAddress(t *testing.T, health []EndpointStatus, address string) EndpointStatus {
	t.Helper()
	for _, ep := range health {
		if ep.Address == address {
			return ep
		}
	}
	t.Fatalf("endpoint %s not found in health report", address)
	return EndpointStatus{}
}

func TestNewDispatcherRequiresEndpoints(t *testing.T) {
	_, err := NewDispatcher(testDispatchConfig(), &fakeClient{}, testAudit(t))
	if err == nil {
		t.Fatal("Expected error for empty endpoint list, got none")
	}
}

func TestSendSuccess(t *testing.T) {
	client := &fakeClient{script: func(call int, endpoint string) (*types.InferenceResponse, error) {
		return okResponse(endpoint, goodContent), nil
	}}

	d, err := NewDispatcher(testDispatchConfig("http://a:8001"), client, testAudit(t))
	if err != nil {
		t.Fatalf("NewDispatcher() error: %v", err)
	}

	resp, err := d.Send(context.Background(), userMessages())
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	if resp.Content != goodContent {
		t.Errorf("Expected content unchanged, got '%s'", resp.Content)
	}
	if resp.Endpoint != "http://a:8001" {
		t.Errorf("Expected endpoint http://a:8001, got %s", resp.Endpoint)
	}

	stats := d.Stats(context.Background())
	if stats.TotalRequests != 1 {
		t.Errorf("Expected 1 total request, got %d", stats.TotalRequests)
	}
	if stats.TotalTokens != 30 {
		t.Errorf("Expected 30 total tokens, got %d", stats.TotalTokens)
	}

	ep := endpointByAddress(t, d.Health(context.Background()), "http://a:8001")
	if ep.State != StateHealthy {
		t.Errorf("Expected healthy endpoint, got %s", ep.State)
	}
	if ep.ConsecutiveFailures != 0 {
		t.Errorf("Expected 0 consecutive failures, got %d", ep.ConsecutiveFailures)
	}
}

func TestRotationAcrossEndpoints(t *testing.T) {
	client := &fakeClient{script: func(call int, endpoint string) (*types.InferenceResponse, error) {
		return okResponse(endpoint, goodContent), nil
	}}

	d, err := NewDispatcher(testDispatchConfig("http://a:8001", "http://b:8001", "http://c:8001"), client, testAudit(t))
	if err != nil {
		t.Fatalf("NewDispatcher() error: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := d.Send(context.Background(), userMessages()); err != nil {
			t.Fatalf("Send() %d error: %v", i, err)
		}
	}

	want := []string{"http://a:8001", "http://b:8001", "http://c:8001"}
	got := client.endpoints()
	if len(got) != len(want) {
		t.Fatalf("Expected %d calls, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Call %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestRetryRoutesToDifferentEndpoint(t *testing.T) {
	client := &fakeClient{script: func(call int, endpoint string) (*types.InferenceResponse, error) {
		if endpoint == "http://a:8001" {
			return nil, errors.New("connection refused")
		}
		return okResponse(endpoint, goodContent), nil
	}}

	d, err := NewDispatcher(testDispatchConfig("http://a:8001", "http://b:8001"), client, testAudit(t))
	if err != nil {
		t.Fatalf("NewDispatcher() error: %v", err)
	}

	resp, err := d.Send(context.Background(), userMessages())
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if resp.Endpoint != "http://b:8001" {
		t.Errorf("Expected retry to land on http://b:8001, got %s", resp.Endpoint)
	}

	calls := client.endpoints()
	if len(calls) != 2 || calls[0] != "http://a:8001" || calls[1] != "http://b:8001" {
		t.Errorf("Expected calls [a, b], got %v", calls)
	}

	health := d.Health(context.Background())
	if ep := endpointByAddress(t, health, "http://a:8001"); ep.State != StateDegraded {
		t.Errorf("Expected endpoint a degraded, got %s", ep.State)
	}
	if ep := endpointByAddress(t, health, "http://b:8001"); ep.State != StateHealthy {
		t.Errorf("Expected endpoint b healthy, got %s", ep.State)
	}
}

func TestFailureThresholdBenchesEndpoint(t *testing.T) {
	client := &fakeClient{script: func(call int, endpoint string) (*types.InferenceResponse, error) {
		if endpoint == "http://a:8001" {
			return nil, errors.New("connection refused")
		}
		return okResponse(endpoint, goodContent), nil
	}}

	d, err := NewDispatcher(testDispatchConfig("http://a:8001", "http://b:8001"), client, testAudit(t))
	if err != nil {
		t.Fatalf("NewDispatcher() error: %v", err)
	}

	// Three sends each fail once on a, pushing it to the threshold
	for i := 0; i < 3; i++ {
		if _, err := d.Send(context.Background(), userMessages()); err != nil {
			t.Fatalf("Send() %d error: %v", i, err)
		}
	}

	ep := endpointByAddress(t, d.Health(context.Background()), "http://a:8001")
	if ep.State != StateUnhealthy {
		t.Fatalf("Expected endpoint a unhealthy after 3 failures, got %s", ep.State)
	}

	// The next send must not touch the benched endpoint
	before := len(client.endpoints())
	if _, err := d.Send(context.Background(), userMessages()); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	for _, addr := range client.endpoints()[before:] {
		if addr == "http://a:8001" {
			t.Error("Benched endpoint received a request")
		}
	}
}

func TestAllUnhealthyResetsAndProceeds(t *testing.T) {
	client := &fakeClient{script: func(call int, endpoint string) (*types.InferenceResponse, error) {
		return nil, errors.New("always down")
	}}

	cfg := testDispatchConfig("http://a:8001")
	cfg.FailureThreshold = 2
	cfg.MaxRetries = 3

	d, err := NewDispatcher(cfg, client, testAudit(t))
	if err != nil {
		t.Fatalf("NewDispatcher() error: %v", err)
	}

	done := make(chan struct{})
	var sendErr error
	go func() {
		_, sendErr = d.Send(context.Background(), userMessages())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Send() deadlocked with an all-unhealthy pool")
	}

	if sendErr == nil {
		t.Fatal("Expected terminal dispatch error, got none")
	}

	var dispatchErr *DispatchError
	if !errors.As(sendErr, &dispatchErr) {
		t.Fatalf("Expected *DispatchError, got %T: %v", sendErr, sendErr)
	}
	if dispatchErr.Attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", dispatchErr.Attempts)
	}

	stats := d.Stats(context.Background())
	if stats.PoolResets != 1 {
		t.Errorf("Expected 1 pool reset, got %d", stats.PoolResets)
	}
	if stats.TotalRequests != 3 {
		t.Errorf("Expected 3 total requests, got %d", stats.TotalRequests)
	}
}

func TestSuccessResetsFailureCounter(t *testing.T) {
	client := &fakeClient{script: func(call int, endpoint string) (*types.InferenceResponse, error) {
		if call == 0 {
			return nil, errors.New("transient")
		}
		return okResponse(endpoint, goodContent), nil
	}}

	d, err := NewDispatcher(testDispatchConfig("http://a:8001"), client, testAudit(t))
	if err != nil {
		t.Fatalf("NewDispatcher() error: %v", err)
	}

	if _, err := d.Send(context.Background(), userMessages()); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	ep := endpointByAddress(t, d.Health(context.Background()), "http://a:8001")
	if ep.ConsecutiveFailures != 0 {
		t.Errorf("Expected failure counter reset on success, got %d", ep.ConsecutiveFailures)
	}
	if ep.State != StateHealthy {
		t.Errorf("Expected healthy endpoint after recovery, got %s", ep.State)
	}
	if ep.Errors != 1 {
		t.Errorf("Expected 1 recorded error, got %d", ep.Errors)
	}
	if ep.Requests != 2 {
		t.Errorf("Expected 2 recorded requests, got %d", ep.Requests)
	}

	// A second success keeps the counter at zero
	if _, err := d.Send(context.Background(), userMessages()); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	ep = endpointByAddress(t, d.Health(context.Background()), "http://a:8001")
	if ep.ConsecutiveFailures != 0 {
		t.Errorf("Expected counter to stay zero, got %d", ep.ConsecutiveFailures)
	}
}

func TestQualityRejectionCountsAsFailure(t *testing.T) {
	client := &fakeClient{script: func(call int, endpoint string) (*types.InferenceResponse, error) {
		if call == 0 {
			return okResponse(endpoint, "too short"), nil
		}
		return okResponse(endpoint, goodContent), nil
	}}

	d, err := NewDispatcher(testDispatchConfig("http://a:8001", "http://b:8001"), client, testAudit(t))
	if err != nil {
		t.Fatalf("NewDispatcher() error: %v", err)
	}

	resp, err := d.Send(context.Background(), userMessages())
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if resp.Content != goodContent {
		t.Errorf("Expected the retried response, got '%s'", resp.Content)
	}

	ep := endpointByAddress(t, d.Health(context.Background()), "http://a:8001")
	if ep.Errors != 1 {
		t.Errorf("Expected rejection to count as an endpoint error, got %d", ep.Errors)
	}
	if ep.ConsecutiveFailures != 1 {
		t.Errorf("Expected 1 consecutive failure, got %d", ep.ConsecutiveFailures)
	}
}

func TestReasoningSeparation(t *testing.T) {
	withTrace := "<think>the user wants a market summary, start with demand</think>" + goodContent

	client := &fakeClient{script: func(call int, endpoint string) (*types.InferenceResponse, error) {
		return okResponse(endpoint, withTrace), nil
	}}

	d, err := NewDispatcher(testDispatchConfig("http://a:8001"), client, testAudit(t))
	if err != nil {
		t.Fatalf("NewDispatcher() error: %v", err)
	}

	resp, err := d.Send(context.Background(), userMessages())
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	if strings.Contains(resp.Content, "<think>") || strings.Contains(resp.Content, "</think>") {
		t.Errorf("Expected markers stripped from content, got '%s'", resp.Content)
	}
	if resp.Content != goodContent {
		t.Errorf("Expected clean content, got '%s'", resp.Content)
	}
	if resp.Reasoning != "the user wants a market summary, start with demand" {
		t.Errorf("Expected reasoning separated, got '%s'", resp.Reasoning)
	}
}

func TestDuplicateParagraphsRemoved(t *testing.T) {
	duplicated := goodContent + "\n\n" + "Inventory levels remain within the planned operating band for the quarter." + "\n\n" + goodContent

	client := &fakeClient{script: func(call int, endpoint string) (*types.InferenceResponse, error) {
		return okResponse(endpoint, duplicated), nil
	}}

	d, err := NewDispatcher(testDispatchConfig("http://a:8001"), client, testAudit(t))
	if err != nil {
		t.Fatalf("NewDispatcher() error: %v", err)
	}

	resp, err := d.Send(context.Background(), userMessages())
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	if count := strings.Count(resp.Content, "first quarter review"); count != 1 {
		t.Errorf("Expected duplicate paragraph removed, found %d occurrences", count)
	}
}

func TestSendExhaustion(t *testing.T) {
	client := &fakeClient{script: func(call int, endpoint string) (*types.InferenceResponse, error) {
		return nil, fmt.Errorf("endpoint %s down", endpoint)
	}}

	d, err := NewDispatcher(testDispatchConfig("http://a:8001", "http://b:8001"), client, testAudit(t))
	if err != nil {
		t.Fatalf("NewDispatcher() error: %v", err)
	}

	_, err = d.Send(context.Background(), userMessages())
	if err == nil {
		t.Fatal("Expected terminal error, got none")
	}

	var dispatchErr *DispatchError
	if !errors.As(err, &dispatchErr) {
		t.Fatalf("Expected *DispatchError, got %T", err)
	}
	if dispatchErr.Attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", dispatchErr.Attempts)
	}
	if dispatchErr.LastErr == nil {
		t.Error("Expected last error preserved")
	}
}

func TestSendCancelledContext(t *testing.T) {
	client := &fakeClient{script: func(call int, endpoint string) (*types.InferenceResponse, error) {
		return okResponse(endpoint, goodContent), nil
	}}

	d, err := NewDispatcher(testDispatchConfig("http://a:8001"), client, testAudit(t))
	if err != nil {
		t.Fatalf("NewDispatcher() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := d.Send(ctx, userMessages()); err == nil {
		t.Fatal("Expected error for cancelled context, got none")
	}
	if len(client.endpoints()) != 0 {
		t.Error("Expected no endpoint calls after cancellation")
	}
}
