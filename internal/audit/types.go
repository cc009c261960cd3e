package audit

import "time"

// EventType represents the type of audit event
type EventType string

const (
	// Scenario lifecycle events
	EventScenarioStarted   EventType = "scenario.started"
	EventScenarioCompleted EventType = "scenario.completed"
	EventScenarioFailed    EventType = "scenario.failed"

	// Analysis session events
	EventTurnCompleted      EventType = "session.turn_completed"
	EventSessionSynthesized EventType = "session.synthesized"
	EventClaimVerified      EventType = "session.claim_verified"

	// Engine events
	EventEngineCallStarted   EventType = "engine.call_started"
	EventEngineCallCompleted EventType = "engine.call_completed"
	EventEngineCallFailed    EventType = "engine.call_failed"

	// Arbitration events
	EventArbitrationCompleted EventType = "arbitration.completed"

	// Degradation events
	EventDegradationRecorded EventType = "degradation.recorded"
	EventFactsOnlyMode       EventType = "degradation.facts_only_mode"

	// Run-history events
	EventRunPersistFailed EventType = "history.persist_failed"

	// Endpoint pool events
	EventDispatchFailed EventType = "pool.dispatch_failed"
	EventPoolReset      EventType = "pool.counters_reset"
	EventQualityReject  EventType = "pool.quality_rejected"

	// Configuration events
	EventConfigLoaded  EventType = "config.loaded"
	EventConfigChanged EventType = "config.changed"

	// System events
	EventServerStarted  EventType = "system.server_started"
	EventServerShutdown EventType = "system.server_shutdown"
	EventHealthCheck    EventType = "system.health_check"
)

// Result represents the outcome of an audited action
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultPending Result = "pending"
	ResultSkipped Result = "skipped"
)

// Event represents a single audit event
type Event struct {
	// Core fields
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id"`
	EventType     EventType `json:"event_type"`
	Result        Result    `json:"result"`

	// Subject information
	Scenario string `json:"scenario,omitempty"`
	Engine   string `json:"engine,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`

	// Action details
	Action      string                 `json:"action,omitempty"`
	Description string                 `json:"description,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`

	// Error information
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`

	// Duration tracking
	DurationMs int64 `json:"duration_ms,omitempty"`
}

// NewEvent creates a new audit event with default values
func NewEvent(eventType EventType) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Result:    ResultPending,
		Metadata:  make(map[string]interface{}),
	}
}

// WithCorrelationID sets the correlation ID for event tracking
func (e *Event) WithCorrelationID(id string) *Event {
	e.CorrelationID = id
	return e
}

// WithScenario sets the scenario being analyzed
func (e *Event) WithScenario(id string) *Event {
	e.Scenario = id
	return e
}

// WithEngine sets the engine the event refers to
func (e *Event) WithEngine(engine string) *Event {
	e.Engine = engine
	return e
}

// WithEndpoint sets the pool endpoint the event refers to
func (e *Event) WithEndpoint(addr string) *Event {
	e.Endpoint = addr
	return e
}

// WithAction sets the action being performed
func (e *Event) WithAction(action string) *Event {
	e.Action = action
	return e
}

// WithDescription sets a human-readable description
func (e *Event) WithDescription(desc string) *Event {
	e.Description = desc
	return e
}

// WithResult sets the result of the event
func (e *Event) WithResult(result Result) *Event {
	e.Result = result
	return e
}

// WithError sets error information
func (e *Event) WithError(err error, code string) *Event {
	if err != nil {
		e.Error = err.Error()
		e.ErrorCode = code
		e.Result = ResultFailure
	}
	return e
}

// WithDuration sets the duration in milliseconds
func (e *Event) WithDuration(duration time.Duration) *Event {
	e.DurationMs = duration.Milliseconds()
	return e
}

// WithMetadata adds metadata to the event
func (e *Event) WithMetadata(key string, value interface{}) *Event {
	e.Metadata[key] = value
	return e
}
