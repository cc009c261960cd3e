package orchestrator

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Progress event types published by the orchestrator and the session
// driver.
const (
	EventScenarioStarted      = "scenario_started"
	EventScenarioCompleted    = "scenario_completed"
	EventEngineCompleted      = "engine_completed"
	EventEngineFailed         = "engine_failed"
	EventArbitrationCompleted = "arbitration_completed"
	EventTurnCompleted        = "turn_completed"
	EventSessionSynthesized   = "session_synthesized"
)

// Event is one progress notification streamed to subscribers.
type Event struct {
	Type       string         `json:"type"`
	ScenarioID string         `json:"scenario_id,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// Subscriber receives orchestrator events in real time.
type Subscriber struct {
	ID string
	Ch chan Event
}

// Hub fans progress events out to subscribers. Sends never block: a
// subscriber that falls behind loses events rather than stalling an
// analysis. Its Publish signature satisfies the session driver's
// EventSink, so one hub carries both orchestrator and turn events.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]*Subscriber
	closed bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]*Subscriber)}
}

// Subscribe registers a channel to receive events. The channel is closed
// by Unsubscribe or Close; on a closed hub it is returned already closed.
func (h *Hub) Subscribe() *Subscriber {
	sub := &Subscriber{ID: uuid.New().String(), Ch: make(chan Event, 64)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.Ch)
		return sub
	}
	h.subs[sub.ID] = sub
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(sub.Ch)
	}
}

// Publish sends an event to every subscriber, dropping it for any whose
// buffer is full. Sends stay under mu so a concurrent Unsubscribe cannot
// close a channel mid-send.
func (h *Hub) Publish(eventType, scenarioID string, payload map[string]any) {
	event := Event{
		Type:       eventType,
		ScenarioID: scenarioID,
		Timestamp:  time.Now().UTC(),
		Payload:    payload,
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		select {
		case sub.Ch <- event:
		default:
		}
	}
}

// Close closes every subscriber channel; later publishes are dropped.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.Ch)
	}
}
