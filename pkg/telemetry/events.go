package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a telemetry event emitted by the planning and
// execution pipeline.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// RunID is the associated run ID, if applicable.
	RunID string `json:"run_id,omitempty"`

	// ActionID is the associated plan action ID, if applicable.
	ActionID string `json:"action_id,omitempty"`

	// EntityID is the associated entity's logical id, if applicable.
	EntityID string `json:"entity_id,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for common event types.
const (
	EventTypeRunStarted      = "run.started"
	EventTypeRunCompleted    = "run.completed"
	EventTypeRunFailed       = "run.failed"
	EventTypeStageStarted    = "stage.started"
	EventTypeActionStarted   = "action.started"
	EventTypeActionRetried   = "action.retried"
	EventTypeActionCompleted = "action.completed"
	EventTypeActionFailed    = "action.failed"
	EventTypeActionSkipped   = "action.skipped"
	EventTypeFindingReported = "finding.reported"
	EventTypeError           = "error"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher manages event publishing and subscriptions.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config:      cfg,
		buffer:      make(chan Event, cfg.BufferSize),
		subscribers: make([]subscriberEntry, 0),
		filters:     make([]EventFilter, 0),
		ctx:         ctx,
		cancel:      cancel,
	}

	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil
		}
	}
	ep.mu.RUnlock()

	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishRunStarted publishes a run started event.
func (ep *EventPublisher) PublishRunStarted(runID, planID string) error {
	return ep.Publish(Event{
		Type:    EventTypeRunStarted,
		Source:  "executor",
		RunID:   runID,
		Message: fmt.Sprintf("Run %s started for plan %s", runID, planID),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"plan_id": planID,
		},
	})
}

// PublishRunCompleted publishes a run completed event.
func (ep *EventPublisher) PublishRunCompleted(runID, status string, duration time.Duration) error {
	level := EventLevelInfo
	eventType := EventTypeRunCompleted
	if status == "failed" {
		level = EventLevelError
		eventType = EventTypeRunFailed
	}
	return ep.Publish(Event{
		Type:    eventType,
		Source:  "executor",
		RunID:   runID,
		Message: fmt.Sprintf("Run %s completed with status: %s", runID, status),
		Level:   level,
		Data: map[string]interface{}{
			"status":   status,
			"duration": duration.Seconds(),
		},
	})
}

// PublishStageStarted publishes a stage started event.
func (ep *EventPublisher) PublishStageStarted(runID string, stage, actions int) error {
	return ep.Publish(Event{
		Type:    EventTypeStageStarted,
		Source:  "executor",
		RunID:   runID,
		Message: fmt.Sprintf("Stage %d started with %d actions", stage, actions),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"stage":   stage,
			"actions": actions,
		},
	})
}

// PublishActionStarted publishes an action started event.
func (ep *EventPublisher) PublishActionStarted(runID, actionID, entityID, operation string) error {
	return ep.Publish(Event{
		Type:     EventTypeActionStarted,
		Source:   "executor",
		RunID:    runID,
		ActionID: actionID,
		EntityID: entityID,
		Message:  fmt.Sprintf("Action started: %s %s", operation, entityID),
		Level:    EventLevelInfo,
		Data: map[string]interface{}{
			"operation": operation,
		},
	})
}

// PublishActionRetried publishes an action retry event.
func (ep *EventPublisher) PublishActionRetried(runID, actionID, entityID string, attempt int, reason string) error {
	return ep.Publish(Event{
		Type:     EventTypeActionRetried,
		Source:   "executor",
		RunID:    runID,
		ActionID: actionID,
		EntityID: entityID,
		Message:  fmt.Sprintf("Action on %s retrying (attempt %d): %s", entityID, attempt, reason),
		Level:    EventLevelWarning,
		Data: map[string]interface{}{
			"attempt": attempt,
			"reason":  reason,
		},
	})
}

// PublishActionCompleted publishes an action completed event.
func (ep *EventPublisher) PublishActionCompleted(runID, actionID, entityID string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:     EventTypeActionCompleted,
		Source:   "executor",
		RunID:    runID,
		ActionID: actionID,
		EntityID: entityID,
		Message:  fmt.Sprintf("Action completed for %s", entityID),
		Level:    EventLevelInfo,
		Data: map[string]interface{}{
			"duration": duration.Seconds(),
		},
	})
}

// PublishActionFailed publishes an action failed event.
func (ep *EventPublisher) PublishActionFailed(runID, actionID, entityID, reason string) error {
	return ep.Publish(Event{
		Type:     EventTypeActionFailed,
		Source:   "executor",
		RunID:    runID,
		ActionID: actionID,
		EntityID: entityID,
		Message:  fmt.Sprintf("Action failed for %s: %s", entityID, reason),
		Level:    EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishActionSkipped publishes an action skipped event.
func (ep *EventPublisher) PublishActionSkipped(runID, actionID, entityID, reason string) error {
	return ep.Publish(Event{
		Type:     EventTypeActionSkipped,
		Source:   "executor",
		RunID:    runID,
		ActionID: actionID,
		EntityID: entityID,
		Message:  fmt.Sprintf("Action skipped for %s: %s", entityID, reason),
		Level:    EventLevelWarning,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishFinding publishes a compliance finding event.
func (ep *EventPublisher) PublishFinding(ruleID, severity, entityID, message string) error {
	level := EventLevelInfo
	switch severity {
	case "warn":
		level = EventLevelWarning
	case "critical":
		level = EventLevelError
	}
	return ep.Publish(Event{
		Type:     EventTypeFindingReported,
		Source:   "rules",
		EntityID: entityID,
		Message:  message,
		Level:    level,
		Data: map[string]interface{}{
			"rule":     ruleID,
			"severity": severity,
		},
	})
}

// Subscribe adds a new event subscriber.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents processes events from the buffer asynchronously.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	for {
		select {
		case event := <-ep.buffer:
			ep.deliverEvent(event)
		case <-ep.ctx.Done():
			// Drain remaining events before shutting down.
			for {
				select {
				case event := <-ep.buffer:
					ep.deliverEvent(event)
				default:
					return
				}
			}
		}
	}
}

// deliverEvent delivers an event to all subscribers.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown gracefully shuts down the event publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// Common event filters.

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByRunID creates a filter that only allows events for a specific run.
func FilterByRunID(runID string) EventFilter {
	return func(event Event) bool {
		return event.RunID == runID
	}
}

// FilterByEntityID creates a filter that only allows events for a specific entity.
func FilterByEntityID(entityID string) EventFilter {
	return func(event Event) bool {
		return event.EntityID == entityID
	}
}
