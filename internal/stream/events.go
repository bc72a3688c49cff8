// Package stream defines the wire-level event model, the event publisher and
// the in-process stream broker that carries workflow progress to observers.
package stream

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/avelis/stepstream/internal/domain"
	"github.com/avelis/stepstream/internal/fault"
)

// EventType tags a stream event with its lifecycle meaning.
type EventType string

const (
	EventWorkflowStarted   EventType = "workflow_started"
	EventWorkflowProgress  EventType = "workflow_progress"
	EventWorkflowCompleted EventType = "workflow_completed"
	EventWorkflowFailed    EventType = "workflow_failed"
	EventWorkflowPaused    EventType = "workflow_paused"
	EventWorkflowResumed   EventType = "workflow_resumed"
	EventStepStarted       EventType = "step_started"
	EventStepCompleted     EventType = "step_completed"
	EventStepFailed        EventType = "step_failed"
	// EventMessage is a plain progress message.
	EventMessage EventType = "event"
	// EventStructured carries a JSON-encoded StructuredPayload in Data.
	EventStructured EventType = "structured_event"
	// EventError carries a StandardError in Data.
	EventError EventType = "error"
)

// Event is one immutable record on a session's stream. Data holds an
// EventData for lifecycle events; for EventStructured it is the JSON-encoded
// StructuredPayload string (consumers perform a second parse pass).
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId"`
	StepIndex *int      `json:"stepIndex,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// EventData is the payload of lifecycle events.
type EventData struct {
	Message  string                    `json:"message,omitempty"`
	Step     string                    `json:"step,omitempty"`
	Progress *domain.ExecutionProgress `json:"progress,omitempty"`
	Error    *fault.StandardError      `json:"error,omitempty"`
}

// Structured payload kinds.
const (
	PayloadReasoning  = "reasoning"
	PayloadAction     = "action"
	PayloadScreenshot = "screenshot"
)

// StructuredPayload is the typed sub-payload of an EventStructured event.
type StructuredPayload struct {
	Type       string `json:"type"`
	Content    string `json:"content,omitempty"`
	Confidence string `json:"confidence,omitempty"`
	Action     string `json:"action,omitempty"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
	Screenshot string `json:"screenshot,omitempty"`
}

// newEvent stamps a fresh unique id and the current timestamp.
func newEvent(typ EventType, sessionID string, stepIndex *int, data any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      typ,
		SessionID: sessionID,
		StepIndex: stepIndex,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// EncodePayload renders a structured payload into the wire form expected in
// an EventStructured event's data field.
func EncodePayload(p StructuredPayload) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode structured payload: %w", err)
	}
	return string(raw), nil
}
