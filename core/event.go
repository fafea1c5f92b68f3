package core

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hupe1980/agenthive/logging"
)

// EventKind identifies the category of a runtime event.
type EventKind string

const (
	// EventInitialized signals an agent completed initialization.
	EventInitialized EventKind = "initialized"
	// EventStarted signals an agent began running.
	EventStarted EventKind = "started"
	// EventStopped signals an agent paused message consumption.
	EventStopped EventKind = "stopped"
	// EventRestarted signals an agent completed a stop/start cycle.
	EventRestarted EventKind = "restarted"
	// EventDestroyed signals an agent reached its terminal state.
	EventDestroyed EventKind = "destroyed"
	// EventError signals a failure absorbed by an agent (message handler
	// error, listener panic, task failure).
	EventError EventKind = "error"
	// EventMessageProcessed signals an inbound message was handled.
	EventMessageProcessed EventKind = "message-processed"
	// EventTaskCompleted signals a monitored task reached a terminal outcome.
	EventTaskCompleted EventKind = "task-completed"
)

// Event is a notification emitted by an agent to zero or more listeners. After
// emission it should be treated as immutable. It captures:
//   - Correlation (ID, AgentID)
//   - Category (Kind)
//   - Optional structured payload
//   - High precision UTC timestamp
//
// Delivery is fire-and-forget from the emitter's perspective: listeners run
// synchronously and a failing listener must not abort delivery to the rest.
type Event struct {
	ID        string         `json:"id"`
	Kind      EventKind      `json:"kind"`
	AgentID   string         `json:"agent_id"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewEvent creates a bare event of the given kind attributed to an agent.
// Prefer helper constructors for common semantic categories (error, message
// processed, task completed).
func NewEvent(kind EventKind, agentID string) Event {
	return Event{
		ID:        NewID(),
		Kind:      kind,
		AgentID:   agentID,
		Timestamp: time.Now().UTC(),
	}
}

// NewErrorEvent constructs an error event carrying the failure text under the
// "error" payload key.
func NewErrorEvent(agentID string, err error) Event {
	e := NewEvent(EventError, agentID)
	if err != nil {
		e.Payload = map[string]any{"error": err.Error()}
	}
	return e
}

// NewMessageProcessedEvent records the successful handling of a message.
func NewMessageProcessedEvent(agentID, messageID string) Event {
	e := NewEvent(EventMessageProcessed, agentID)
	e.Payload = map[string]any{"message_id": messageID}
	return e
}

// NewTaskCompletedEvent records the terminal outcome of a monitored task.
func NewTaskCompletedEvent(agentID, taskID string, success bool) Event {
	e := NewEvent(EventTaskCompleted, agentID)
	e.Payload = map[string]any{"task_id": taskID, "success": success}
	return e
}

// NewID generates a new unique identifier.
//
// This function creates a UUID-based unique identifier that can be used for
// message, event and task tracking and correlation throughout the runtime.
//
// Returns a string representation of a new UUID.
func NewID() string { return uuid.NewString() }

// UnixSeconds returns the timestamp as fractional seconds since Unix epoch.
// Useful for metrics & numeric serialization paths.
func (e Event) UnixSeconds() float64 { return float64(e.Timestamp.UnixNano()) / 1e9 }

// Listener consumes events delivered by an Emitter. Listeners run on the
// emitting goroutine and must be fast, fire-and-forget hooks; a slow listener
// delays delivery to subsequent listeners.
type Listener func(Event)

// Emitter fans events out to registered listeners. Fan-out is synchronous and
// guarded per listener: a panicking listener is logged and skipped without
// preventing delivery to the remaining listeners.
type Emitter struct {
	*loggerAdapter

	mu        sync.RWMutex
	listeners map[string]Listener
}

// NewEmitter constructs an Emitter. A nil logger silences panic reports.
func NewEmitter(logger logging.Logger) *Emitter {
	return &Emitter{
		loggerAdapter: newLoggerAdapter(logger),
		listeners:     map[string]Listener{},
	}
}

// AddListener registers a listener and returns its registration id for later
// removal. A nil listener is ignored and yields an empty id.
func (e *Emitter) AddListener(l Listener) string {
	if l == nil {
		return ""
	}
	id := NewID()
	e.mu.Lock()
	e.listeners[id] = l
	e.mu.Unlock()
	return id
}

// RemoveListener deregisters the listener with the given registration id.
// Removing an unknown id is a no-op.
func (e *Emitter) RemoveListener(id string) {
	e.mu.Lock()
	delete(e.listeners, id)
	e.mu.Unlock()
}

// ListenerCount reports the number of registered listeners.
func (e *Emitter) ListenerCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners)
}

// Emit delivers the event to every registered listener. Listeners observed at
// emission time receive the event even if deregistered concurrently.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	listeners := make([]Listener, 0, len(e.listeners))
	for _, l := range e.listeners {
		listeners = append(listeners, l)
	}
	e.mu.RUnlock()

	for _, l := range listeners {
		e.notify(l, ev)
	}
}

func (e *Emitter) notify(l Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.LogError("event listener panic", "kind", string(ev.Kind), "agent_id", ev.AgentID, "panic", fmt.Sprintf("%v", r))
		}
	}()
	l(ev)
}
