package domain

import (
	"time"
)

// WorkflowConfig carries per-workflow execution options submitted by the
// caller alongside the step list.
type WorkflowConfig struct {
	StreamingEnabled bool           `json:"streamingEnabled"`
	AIConnectionID   string         `json:"aiConnectionId,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// WorkflowSession is the unified session record owned by the session
// coordinator. The orchestrator holds a linked ProcessorSession keyed by the
// same id.
type WorkflowSession struct {
	SessionID         string         `json:"sessionId"`
	ExecutorSessionID string         `json:"executorSessionId"`
	StreamID          string         `json:"streamId,omitempty"`
	AIConnectionID    string         `json:"aiConnectionId,omitempty"`
	Status            SessionStatus  `json:"status"`
	CreatedAt         time.Time      `json:"createdAt"`
	LastActivity      time.Time      `json:"lastActivity"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	Steps             []string       `json:"steps"`
}

// Touch records activity on the session.
func (s *WorkflowSession) Touch() {
	s.LastActivity = time.Now().UTC()
}

// ProcessorSession is the orchestrator-local view of a running workflow. It
// exists if and only if the linked WorkflowSession exists for the same id
// during its active lifetime.
type ProcessorSession struct {
	SessionID        string
	LinkedSessionID  string
	Status           SessionStatus
	CurrentStepIndex int
	TotalSteps       int
	StreamingEnabled bool
	StreamID         string
	Progress         ExecutionProgress
	History          []StepExecutionSummary
	CreatedAt        time.Time
	LastActivity     time.Time
}

// Touch records activity on both the session and its progress record.
func (s *ProcessorSession) Touch() {
	now := time.Now().UTC()
	s.LastActivity = now
	s.Progress.LastActivity = now
}
