// Package orchestrator owns workflow session lifecycle: it sequences step
// execution against the task executor, tracks progress, and publishes
// lifecycle events to the session's stream.
package orchestrator

import (
	"fmt"
	"sync"

	"github.com/avelis/stepstream/internal/domain"
	"github.com/avelis/stepstream/internal/fault"
)

// Registry is the in-memory map of orchestration sessions. It owns its lock
// and exposes only atomic operations; the raw map is never handed out.
type Registry struct {
	mu        sync.RWMutex
	sessions  map[string]*domain.ProcessorSession
	maxActive int
}

// NewRegistry creates a registry enforcing the given active-session limit.
func NewRegistry(maxActive int) *Registry {
	return &Registry{
		sessions:  make(map[string]*domain.ProcessorSession),
		maxActive: maxActive,
	}
}

// Create inserts a session if absent. The duplicate check, the concurrency
// limit check and the insert happen under one lock acquisition so two
// concurrent creates cannot both succeed.
func (r *Registry) Create(sess *domain.ProcessorSession) *fault.StandardError {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[sess.SessionID]; exists {
		return fault.New(moduleID, fault.CodeSessionExists,
			fmt.Sprintf("session %s already exists", sess.SessionID),
			map[string]any{"sessionId": sess.SessionID})
	}
	if r.activeLocked() >= r.maxActive {
		return fault.New(moduleID, fault.CodeConcurrentLimitExceeded,
			fmt.Sprintf("maximum concurrent sessions (%d) exceeded", r.maxActive),
			map[string]any{"sessionId": sess.SessionID, "limit": r.maxActive})
	}
	r.sessions[sess.SessionID] = sess
	return nil
}

// Get returns a deep-enough snapshot of a session.
func (r *Registry) Get(sessionID string) (domain.ProcessorSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[sessionID]
	if !ok {
		return domain.ProcessorSession{}, false
	}
	cp := *sess
	cp.History = append([]domain.StepExecutionSummary(nil), sess.History...)
	return cp, true
}

// Update applies fn to a session under the registry lock. Returns false if
// the session is unknown.
func (r *Registry) Update(sessionID string, fn func(*domain.ProcessorSession)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[sessionID]
	if !ok {
		return false
	}
	fn(sess)
	return true
}

// Transition moves a session to the given status when the state machine
// allows it. Returns false if the session is unknown or the move is illegal.
func (r *Registry) Transition(sessionID string, to domain.SessionStatus) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[sessionID]
	if !ok || !domain.CanTransition(sess.Status, to) {
		return false
	}
	sess.Status = to
	sess.Touch()
	return true
}

// Remove deletes a session.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

// List returns all registered session ids.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the total number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ActiveCount returns the number of sessions not in a terminal state.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeLocked()
}

func (r *Registry) activeLocked() int {
	n := 0
	for _, sess := range r.sessions {
		if !sess.Status.IsTerminal() {
			n++
		}
	}
	return n
}
