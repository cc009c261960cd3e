package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tandemlabs/tandem-ai/internal/audit"
	"github.com/tandemlabs/tandem-ai/internal/llm/types"
	"github.com/tandemlabs/tandem-ai/internal/metrics"
)

// Package dispatch — concrete Dispatcher implementation with rotating cursor
// selection and mutex-guarded shared counters.

// DispatchError is the terminal error returned when every attempt failed.
type DispatchError struct {
	Attempts int
	LastErr  error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch failed after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *DispatchError) Unwrap() error { return e.LastErr }

// endpointState tracks one endpoint's counters. Guarded by poolDispatcher.mu.
type endpointState struct {
	address             string
	consecutiveFailures int
	requests            int64
	errors              int64
	tokens              int64
}

func (s *endpointState) healthState(threshold int) HealthState {
	switch {
	case s.consecutiveFailures >= threshold:
		return StateUnhealthy
	case s.consecutiveFailures > 0:
		return StateDegraded
	default:
		return StateHealthy
	}
}

// poolDispatcher implements Dispatcher.
type poolDispatcher struct {
	cfg    Config
	client CompletionClient
	audit  audit.Logger

	mu            sync.Mutex
	cursor        int
	endpoints     []*endpointState
	totalRequests int64
	totalTokens   int64
	poolResets    int64
}

// NewDispatcher creates a pool dispatcher over cfg.Endpoints.
func NewDispatcher(cfg Config, client CompletionClient, auditLog audit.Logger) (Dispatcher, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("dispatcher requires at least one endpoint")
	}
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 3
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}

	states := make([]*endpointState, len(cfg.Endpoints))
	for i, addr := range cfg.Endpoints {
		states[i] = &endpointState{address: addr}
		metrics.EndpointHealthy.WithLabelValues(addr).Set(1)
	}

	return &poolDispatcher{
		cfg:       cfg,
		client:    client,
		audit:     auditLog,
		endpoints: states,
	}, nil
}

// Send dispatches one conversation, routing retries across the pool.
func (d *poolDispatcher) Send(ctx context.Context, messages []types.Message) (*types.InferenceResponse, error) {
	var lastErr error

	for attempt := 0; attempt < d.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}

		target := d.pickHealthy(ctx)

		start := time.Now()
		resp, err := d.client.Complete(ctx, target, messages, d.cfg.Params)
		metrics.DispatchDuration.WithLabelValues(target).Observe(time.Since(start).Seconds())

		if err != nil {
			lastErr = err
			d.recordFailure(target)
			metrics.DispatchRequestsTotal.WithLabelValues(target, "error").Inc()
			continue
		}

		// Separate the reasoning trace before screening so the gate judges
		// exactly the content a caller would receive.
		content, reasoning := separateReasoning(resp.Content, d.cfg.ReasoningStart, d.cfg.ReasoningEnd)

		if failedCheck, reason := checkQuality(d.cfg.Quality, content); failedCheck != "" {
			lastErr = fmt.Errorf("quality gate %s: %s", failedCheck, reason)
			d.recordFailure(target)
			metrics.DispatchRequestsTotal.WithLabelValues(target, "rejected").Inc()
			metrics.QualityRejectionsTotal.WithLabelValues(failedCheck).Inc()
			d.audit.Log(ctx, audit.NewEvent(audit.EventQualityReject).
				WithEndpoint(target).
				WithAction("quality_gate").
				WithDescription(reason).
				WithResult(audit.ResultFailure).
				WithMetadata("check", failedCheck))
			continue
		}

		d.recordSuccess(target, resp.Usage)
		metrics.DispatchRequestsTotal.WithLabelValues(target, "success").Inc()
		metrics.DispatchTokensTotal.WithLabelValues(target, "input").Add(float64(resp.Usage.PromptTokens))
		metrics.DispatchTokensTotal.WithLabelValues(target, "output").Add(float64(resp.Usage.CompletionTokens))

		return &types.InferenceResponse{
			Content:   dedupeParagraphs(content),
			Reasoning: reasoning,
			Usage:     resp.Usage,
			Latency:   resp.Latency,
			Endpoint:  target,
		}, nil
	}

	dispatchErr := &DispatchError{Attempts: d.cfg.MaxRetries, LastErr: lastErr}
	d.audit.Log(ctx, audit.NewEvent(audit.EventDispatchFailed).
		WithAction("dispatch").
		WithDescription(fmt.Sprintf("all %d attempts failed", d.cfg.MaxRetries)).
		WithError(dispatchErr, "DISPATCH_EXHAUSTED"))
	return nil, dispatchErr
}

// Stats returns the pool's running statistics.
func (d *poolDispatcher) Stats(ctx context.Context) Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	return Stats{
		TotalRequests: d.totalRequests,
		TotalTokens:   d.totalTokens,
		PoolResets:    d.poolResets,
		Endpoints:     d.snapshotLocked(),
	}
}

// Health returns a per-endpoint health snapshot.
func (d *poolDispatcher) Health(ctx context.Context) []EndpointStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshotLocked()
}

// snapshotLocked copies endpoint state. Callers hold d.mu.
func (d *poolDispatcher) snapshotLocked() []EndpointStatus {
	out := make([]EndpointStatus, len(d.endpoints))
	for i, ep := range d.endpoints {
		out[i] = EndpointStatus{
			Address:             ep.address,
			State:               ep.healthState(d.cfg.FailureThreshold),
			ConsecutiveFailures: ep.consecutiveFailures,
			Requests:            ep.requests,
			Errors:              ep.errors,
			Tokens:              ep.tokens,
		}
	}
	return out
}

// pickHealthy advances the cursor to the next endpoint below the failure
// threshold, scanning at most one full lap. If the whole pool is benched it
// clears every counter and takes the next endpoint anyway, so a pick always
// succeeds.
func (d *poolDispatcher) pickHealthy(ctx context.Context) string {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := len(d.endpoints)
	for i := 0; i < n; i++ {
		idx := d.cursor % n
		d.cursor++
		if d.endpoints[idx].consecutiveFailures < d.cfg.FailureThreshold {
			d.endpoints[idx].requests++
			d.totalRequests++
			return d.endpoints[idx].address
		}
	}

	// Whole pool benched: reset and proceed
	for _, ep := range d.endpoints {
		ep.consecutiveFailures = 0
		metrics.EndpointHealthy.WithLabelValues(ep.address).Set(1)
	}
	d.poolResets++
	metrics.PoolResetsTotal.Inc()
	d.audit.Log(ctx, audit.NewEvent(audit.EventPoolReset).
		WithAction("pool_reset").
		WithDescription("all endpoints unhealthy, counters cleared").
		WithResult(audit.ResultSuccess))

	idx := d.cursor % n
	d.cursor++
	d.endpoints[idx].requests++
	d.totalRequests++
	return d.endpoints[idx].address
}

// recordFailure bumps an endpoint's consecutive-failure and error counters.
func (d *poolDispatcher) recordFailure(address string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, ep := range d.endpoints {
		if ep.address != address {
			continue
		}
		ep.consecutiveFailures++
		ep.errors++
		if ep.consecutiveFailures >= d.cfg.FailureThreshold {
			metrics.EndpointHealthy.WithLabelValues(address).Set(0)
		}
		return
	}
}

// recordSuccess clears an endpoint's failure counter and adds token usage.
// Already-zero counters stay zero, so repeated successes are idempotent.
func (d *poolDispatcher) recordSuccess(address string, usage types.TokenUsage) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, ep := range d.endpoints {
		if ep.address != address {
			continue
		}
		ep.consecutiveFailures = 0
		ep.tokens += int64(usage.TotalTokens)
		d.totalTokens += int64(usage.TotalTokens)
		metrics.EndpointHealthy.WithLabelValues(address).Set(1)
		return
	}
}
