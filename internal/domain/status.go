// Package domain defines the session, progress and status types shared by the
// orchestrator, the coordinator and the streaming pipeline.
package domain

// SessionStatus is the lifecycle state of a workflow session.
type SessionStatus string

const (
	StatusInitializing SessionStatus = "INITIALIZING"
	StatusActive       SessionStatus = "ACTIVE"
	StatusBusy         SessionStatus = "BUSY"
	StatusPaused       SessionStatus = "PAUSED"
	StatusCompleted    SessionStatus = "COMPLETED"
	StatusFailed       SessionStatus = "FAILED"
	StatusCancelled    SessionStatus = "CANCELLED"
	StatusCleanup      SessionStatus = "CLEANUP"
)

// validTransitions encodes the forward-only state machine. ACTIVE and PAUSED
// are the only mutually reachable pair.
var validTransitions = map[SessionStatus][]SessionStatus{
	StatusInitializing: {StatusActive, StatusFailed, StatusCleanup},
	StatusActive:       {StatusBusy, StatusPaused, StatusCompleted, StatusFailed, StatusCancelled},
	StatusBusy:         {StatusActive, StatusPaused, StatusCompleted, StatusFailed, StatusCancelled},
	StatusPaused:       {StatusActive, StatusCancelled, StatusFailed},
	StatusCompleted:    {StatusCleanup},
	StatusFailed:       {StatusCleanup},
	StatusCancelled:    {StatusCleanup},
	StatusCleanup:      {},
}

// CanTransition reports whether moving from one status to another is allowed.
func CanTransition(from, to SessionStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status ends the session's active lifetime.
// Operations addressed to a session in a terminal state behave as if the
// session did not exist.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusCleanup:
		return true
	}
	return false
}
