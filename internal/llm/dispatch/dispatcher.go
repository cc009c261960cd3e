package dispatch

import (
	"context"

	"github.com/tandemlabs/tandem-ai/internal/llm/types"
)

// Package dispatch provides the health-aware endpoint pool dispatcher.
//
// The dispatcher is the single path every inference request takes to reach a
// pool endpoint. It owns endpoint selection, retry routing, response quality
// screening, and the pool's running statistics.
//
// Responsibilities:
//   - Rotate requests across a fixed pool of interchangeable endpoints
//   - Skip endpoints whose consecutive-failure count reached the threshold
//   - Reset the whole pool and proceed when every endpoint is benched
//   - Retry failed calls on a different healthy endpoint, up to max_retries
//   - Screen responses through the quality gate before accepting them
//   - Separate internal reasoning traces from user-facing content
//   - Deduplicate exact-duplicate paragraphs in accepted content
//   - Track request, error, and token totals per endpoint and pool-wide
//
// Selection Algorithm:
//   pickHealthy() advances a rotating cursor, skipping unhealthy endpoints,
//   for at most one full lap. If the lap finds nothing, every failure counter
//   is cleared and the next endpoint is taken anyway, so a pick always
//   succeeds and no endpoint is starved.
//
// Endpoint Health States:
//   healthy   - zero consecutive failures
//   degraded  - some failures, below the threshold
//   unhealthy - consecutive failures at or above the threshold
//
// Integration Points:
//   - Session Driver: every turn and synthesis call goes through Send
//   - Orchestrator: exposes pool health for the service health report
//   - Audit Logger: terminal failures, pool resets, quality rejections
//   - Metrics: request counters, latency, token totals, endpoint gauges

// HealthState describes one endpoint's position in the failure lifecycle.
type HealthState string

const (
	StateHealthy   HealthState = "healthy"
	StateDegraded  HealthState = "degraded"
	StateUnhealthy HealthState = "unhealthy"
)

// EndpointStatus is a point-in-time snapshot of one pool endpoint.
type EndpointStatus struct {
	Address             string      `json:"address"`
	State               HealthState `json:"state"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
	Requests            int64       `json:"requests"`
	Errors              int64       `json:"errors"`
	Tokens              int64       `json:"tokens"`
}

// Stats is a point-in-time snapshot of the whole pool.
type Stats struct {
	TotalRequests int64            `json:"total_requests"`
	TotalTokens   int64            `json:"total_tokens"`
	PoolResets    int64            `json:"pool_resets"`
	Endpoints     []EndpointStatus `json:"endpoints"`
}

// CompletionClient sends one chat-completions request to a specific endpoint.
// Implemented by endpoint.Client; tests substitute fakes.
type CompletionClient interface {
	Complete(ctx context.Context, endpointURL string, messages []types.Message, params types.GenerationParams) (*types.InferenceResponse, error)
}

// Dispatcher defines the interface for pool dispatch.
type Dispatcher interface {
	// Send dispatches one conversation to a healthy endpoint and returns the
	// screened response. Retries route to different endpoints; exhaustion
	// returns a *DispatchError.
	Send(ctx context.Context, messages []types.Message) (*types.InferenceResponse, error)

	// Stats returns the pool's running statistics.
	Stats(ctx context.Context) Stats

	// Health returns a per-endpoint health snapshot.
	Health(ctx context.Context) []EndpointStatus
}

// Config holds the dispatcher's static configuration.
type Config struct {
	Endpoints        []string
	Params           types.GenerationParams
	MaxRetries       int
	FailureThreshold int
	Quality          QualityConfig
	ReasoningStart   string
	ReasoningEnd     string
}

// NewDispatcher creates a pool dispatcher.
// The concrete implementation is in dispatcher_impl.go.
