package telemetry

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a run lifecycle event.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// RunID is the associated run ID, if applicable.
	RunID string `json:"run_id,omitempty"`

	// StepID is the associated step ID, if applicable.
	StepID string `json:"step_id,omitempty"`

	// SubstepID is the associated sub-step ID, if applicable.
	SubstepID string `json:"substep_id,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for common event types.
const (
	EventTypeRunStarted       = "run.started"
	EventTypeRunCompleted     = "run.completed"
	EventTypeRunFailed        = "run.failed"
	EventTypeSubstepStarted   = "substep.started"
	EventTypeSubstepCompleted = "substep.completed"
	EventTypeSubstepFailed    = "substep.failed"
	EventTypeSubstepRetrying  = "substep.retrying"
	EventTypeSubstepSkipped   = "substep.skipped"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventPublisher delivers run lifecycle events to subscribers. Delivery is
// synchronous and in publication order, matching the engine's single thread
// of control.
type EventPublisher struct {
	config      EventsConfig
	mu          sync.RWMutex
	subscribers []EventSubscriber
	history     []Event
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) *EventPublisher {
	return &EventPublisher{config: cfg}
}

// Subscribe registers a subscriber for all future events.
func (ep *EventPublisher) Subscribe(sub EventSubscriber) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.subscribers = append(ep.subscribers, sub)
}

// Publish delivers an event to every subscriber and records it in the
// bounded history buffer.
func (ep *EventPublisher) Publish(event Event) {
	if !ep.config.Enabled {
		return
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	ep.mu.Lock()
	ep.history = append(ep.history, event)
	if max := ep.config.BufferSize; max > 0 && len(ep.history) > max {
		ep.history = ep.history[len(ep.history)-max:]
	}
	subs := make([]EventSubscriber, len(ep.subscribers))
	copy(subs, ep.subscribers)
	ep.mu.Unlock()

	for _, sub := range subs {
		sub(event)
	}
}

// History returns a copy of the buffered events.
func (ep *EventPublisher) History() []Event {
	ep.mu.RLock()
	defer ep.mu.RUnlock()
	out := make([]Event, len(ep.history))
	copy(out, ep.history)
	return out
}

// PublishRunStarted publishes a run started event.
func (ep *EventPublisher) PublishRunStarted(runID string, stepCount int) {
	ep.Publish(Event{
		Type:    EventTypeRunStarted,
		RunID:   runID,
		Message: fmt.Sprintf("run %s started with %d steps", runID, stepCount),
		Level:   EventLevelInfo,
		Data:    map[string]interface{}{"steps": stepCount},
	})
}

// PublishRunCompleted publishes a run completed event.
func (ep *EventPublisher) PublishRunCompleted(runID, status string, duration time.Duration) {
	level := EventLevelInfo
	if status != "succeeded" {
		level = EventLevelError
	}
	ep.Publish(Event{
		Type:    EventTypeRunCompleted,
		RunID:   runID,
		Message: fmt.Sprintf("run %s completed with status %s", runID, status),
		Level:   level,
		Data: map[string]interface{}{
			"status":   status,
			"duration": duration.Seconds(),
		},
	})
}

// PublishSubstepStarted publishes a sub-step started event.
func (ep *EventPublisher) PublishSubstepStarted(runID, stepID, substepID, plugin string) {
	ep.Publish(Event{
		Type:      EventTypeSubstepStarted,
		RunID:     runID,
		StepID:    stepID,
		SubstepID: substepID,
		Message:   fmt.Sprintf("substep %s:%s started (plugin %s)", stepID, substepID, plugin),
		Level:     EventLevelInfo,
		Data:      map[string]interface{}{"plugin": plugin},
	})
}

// PublishSubstepCompleted publishes a sub-step completed event.
func (ep *EventPublisher) PublishSubstepCompleted(runID, stepID, substepID string, duration time.Duration) {
	ep.Publish(Event{
		Type:      EventTypeSubstepCompleted,
		RunID:     runID,
		StepID:    stepID,
		SubstepID: substepID,
		Message:   fmt.Sprintf("substep %s:%s completed", stepID, substepID),
		Level:     EventLevelInfo,
		Data:      map[string]interface{}{"duration": duration.Seconds()},
	})
}

// PublishSubstepFailed publishes a sub-step failed event.
func (ep *EventPublisher) PublishSubstepFailed(runID, stepID, substepID, reason string) {
	ep.Publish(Event{
		Type:      EventTypeSubstepFailed,
		RunID:     runID,
		StepID:    stepID,
		SubstepID: substepID,
		Message:   fmt.Sprintf("substep %s:%s failed: %s", stepID, substepID, reason),
		Level:     EventLevelError,
		Data:      map[string]interface{}{"reason": reason},
	})
}

// PublishSubstepRetrying publishes a retry event.
func (ep *EventPublisher) PublishSubstepRetrying(runID, stepID, substepID string, attempt int, delay time.Duration) {
	ep.Publish(Event{
		Type:      EventTypeSubstepRetrying,
		RunID:     runID,
		StepID:    stepID,
		SubstepID: substepID,
		Message:   fmt.Sprintf("substep %s:%s retrying (attempt %d)", stepID, substepID, attempt),
		Level:     EventLevelWarning,
		Data: map[string]interface{}{
			"attempt": attempt,
			"delay":   delay.Seconds(),
		},
	})
}

// PublishSubstepSkipped publishes a skip event for deselected sub-steps.
func (ep *EventPublisher) PublishSubstepSkipped(runID, stepID, substepID string) {
	ep.Publish(Event{
		Type:      EventTypeSubstepSkipped,
		RunID:     runID,
		StepID:    stepID,
		SubstepID: substepID,
		Message:   fmt.Sprintf("substep %s:%s skipped", stepID, substepID),
		Level:     EventLevelInfo,
	})
}
