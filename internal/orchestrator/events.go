// Package orchestrator owns the feature lifecycle: it schedules eligible
// features up to the concurrency budget, supervises agent runs, and fans
// progress out to subscribers.
package orchestrator

import (
	"log"
	"sync/atomic"
	"time"
)

// EventType classifies orchestrator events.
type EventType string

const (
	// EventStream carries accumulated assistant text for a feature run.
	EventStream EventType = "stream"
	// EventToolUse reports a tool invocation by the agent.
	EventToolUse EventType = "tool_use"
	// EventComplete reports the final result text of a run.
	EventComplete EventType = "complete"
	// EventError carries a non-fatal error or child stderr line.
	EventError EventType = "error"

	// EventFeatureStarted fires when a run begins.
	EventFeatureStarted EventType = "feature_started"
	// EventFeatureCompleted fires when a run finishes successfully.
	EventFeatureCompleted EventType = "feature_completed"
	// EventFeatureErrored fires when a run fails.
	EventFeatureErrored EventType = "feature_errored"
	// EventFeatureAborted fires when a run is cancelled.
	EventFeatureAborted EventType = "feature_aborted"

	// EventPlanApprovalRequired fires when a plan-gated run produced a plan
	// and paused for review.
	EventPlanApprovalRequired EventType = "plan_approval_required"

	// EventAutoModeTaskStarted fires when a background task begins.
	EventAutoModeTaskStarted EventType = "auto_mode_task_started"
	// EventAutoModeTaskComplete fires when a background task finishes.
	EventAutoModeTaskComplete EventType = "auto_mode_task_complete"
	// EventSpecRegenProgress reports spec-regeneration progress text.
	EventSpecRegenProgress EventType = "spec_regeneration_progress"
	// EventSuggestionsError reports a failed suggestion run.
	EventSuggestionsError EventType = "suggestions_error"
	// EventSuggestionsReady carries generated feature suggestions.
	EventSuggestionsReady EventType = "suggestions_ready"

	// EventBoardRefresh asks board views to reload the feature list.
	EventBoardRefresh EventType = "board_refresh"
)

// Event is one orchestrator notification.
type Event struct {
	Type      EventType `json:"type"`
	FeatureID string    `json:"featureId,omitempty"`
	Text      string    `json:"text,omitempty"`
	Tool      string    `json:"tool,omitempty"`
	Err       string    `json:"error,omitempty"`
	Time      time.Time `json:"time"`
}

// EventEmitter fans events out to the subscriber channel. Emission never
// blocks the scheduler for long: a full channel gets a short drain window,
// then the event is dropped and counted.
type EventEmitter struct {
	events       chan Event
	droppedCount atomic.Uint64
}

// NewEventEmitter creates an EventEmitter with the given buffer size.
func NewEventEmitter(bufferSize int) *EventEmitter {
	return &EventEmitter{events: make(chan Event, bufferSize)}
}

// Emit sends an event, dropping it if the subscriber stays stalled past the
// drain window.
func (e *EventEmitter) Emit(event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	select {
	case e.events <- event:
		return
	default:
	}

	select {
	case e.events <- event:
	case <-time.After(100 * time.Millisecond):
		count := e.droppedCount.Add(1)
		if count%10 == 1 {
			log.Printf("[orchestrator] WARNING: event channel full, dropped event (total dropped: %d): type=%s", count, event.Type)
		}
	}
}

// DroppedCount returns the number of dropped events.
func (e *EventEmitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// Events returns the read side of the event channel.
func (e *EventEmitter) Events() <-chan Event {
	return e.events
}

// Close closes the event channel. Call only after all producers stopped.
func (e *EventEmitter) Close() {
	close(e.events)
}
