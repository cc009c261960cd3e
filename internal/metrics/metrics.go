package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Service metrics for production monitoring
var (
	// Scenario metrics
	ScenariosTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tandem_ai_scenarios_total",
			Help: "Total number of scenarios processed",
		},
		[]string{"mode", "outcome"},
	)

	ScenarioDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tandem_ai_scenario_duration_seconds",
			Help:    "Scenario processing duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17min
		},
		[]string{"mode"},
	)

	FinalConfidence = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tandem_ai_final_confidence",
			Help:    "Final confidence of completed scenario results",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 9), // 0.1 to 0.9
		},
	)

	// Dispatch metrics
	DispatchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tandem_ai_dispatch_requests_total",
			Help: "Total number of requests sent to pool endpoints",
		},
		[]string{"endpoint", "status"},
	)

	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tandem_ai_dispatch_duration_seconds",
			Help:    "Endpoint request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1min
		},
		[]string{"endpoint"},
	)

	DispatchTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tandem_ai_dispatch_tokens_total",
			Help: "Total number of tokens consumed through the pool",
		},
		[]string{"endpoint", "type"}, // type: input/output
	)

	QualityRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tandem_ai_quality_rejections_total",
			Help: "Total number of responses rejected by the quality gate",
		},
		[]string{"check"},
	)

	EndpointHealthy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tandem_ai_endpoint_healthy",
			Help: "Whether an endpoint is currently healthy (1=healthy, 0=unhealthy)",
		},
		[]string{"endpoint"},
	)

	PoolResetsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tandem_ai_pool_resets_total",
			Help: "Total number of all-unhealthy pool counter resets",
		},
	)

	// Engine metrics
	EngineCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tandem_ai_engine_calls_total",
			Help: "Total number of engine calls",
		},
		[]string{"engine", "status"},
	)

	SessionTurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tandem_ai_session_turns_total",
			Help: "Total number of analysis session turns",
		},
		[]string{"status"},
	)

	// Arbitration metrics
	ArbitrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tandem_ai_arbitrations_total",
			Help: "Total number of arbitration decisions",
		},
		[]string{"outcome"},
	)

	ArbitrationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tandem_ai_arbitration_duration_seconds",
			Help:    "Arbitration duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10), // 1ms to ~1s
		},
	)

	// Degradation metrics
	DegradationEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tandem_ai_degradation_events_total",
			Help: "Total number of recorded degradation events",
		},
		[]string{"kind", "severity"},
	)

	// Persistence metrics
	RunsPersistedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tandem_ai_runs_persisted_total",
			Help: "Total number of run-history store writes",
		},
		[]string{"status"}, // status: saved/failed
	)

	// WebSocket metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tandem_ai_websocket_connections",
			Help: "Current number of active WebSocket connections",
		},
	)

	WebSocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tandem_ai_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // direction: inbound/outbound
	)
)
