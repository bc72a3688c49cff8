// Package taskexec defines the task-execution collaborator contract and the
// notification events executors emit while working through a step.
package taskexec

import (
	"context"
)

// StepRequest identifies one step dispatched for execution.
type StepRequest struct {
	SessionID   string
	StepIndex   int
	StepContent string
	StreamID    string
}

// EventKind tags executor notifications.
type EventKind string

const (
	EventStepCompleted   EventKind = "step_completed"
	EventStepFailed      EventKind = "step_failed"
	EventAIReasoning     EventKind = "ai_reasoning"
	EventCommandExecuted EventKind = "command_executed"
	EventProgress        EventKind = "progress"
)

// Event is a notification emitted by an executor during step processing.
type Event struct {
	Kind       EventKind
	SessionID  string
	StreamID   string
	StepIndex  int
	Message    string
	Confidence string
	Action     string
	Success    bool
	Error      string
	Screenshot string
	Progress   int
}

// EventSink receives executor notifications.
type EventSink func(Event)

// Executor is the task-execution collaborator. Step success or failure is
// signaled through ProcessStep's return value; Events carry visibility-only
// notifications.
type Executor interface {
	// CreateSession allocates executor-side resources for a workflow session
	// and returns the executor session id.
	CreateSession(ctx context.Context, sessionID string) (string, error)

	// DestroySession releases executor-side resources.
	DestroySession(ctx context.Context, executorSessionID string) error

	// ProcessStep runs one step to completion.
	ProcessStep(ctx context.Context, req StepRequest) error

	// PauseExecution halts execution at the given step index.
	PauseExecution(ctx context.Context, sessionID string, stepIndex int) error

	// ResumeExecution continues execution at the given step index.
	ResumeExecution(ctx context.Context, sessionID string, stepIndex int) error

	// CancelExecution aborts execution at the given step index.
	CancelExecution(ctx context.Context, sessionID string, stepIndex int) error

	// SetEventSink registers the callback receiving executor notifications.
	SetEventSink(sink EventSink)
}
