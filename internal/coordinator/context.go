package coordinator

import (
	"fmt"
	"sync"
)

// sessionContext is the per-session state the AI context manager tracks.
type sessionContext struct {
	executorSessionID string
	steps             []string
}

// ContextManager is the in-memory AI context-manager collaborator. It links a
// workflow session to its executor session and holds the step list the AI
// backend reasons over.
type ContextManager struct {
	mu       sync.Mutex
	contexts map[string]*sessionContext
}

// NewContextManager creates an empty context manager.
func NewContextManager() *ContextManager {
	return &ContextManager{contexts: make(map[string]*sessionContext)}
}

// CreateSession allocates context state for a session.
func (m *ContextManager) CreateSession(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.contexts[sessionID]; ok {
		return fmt.Errorf("context for session %s already exists", sessionID)
	}
	m.contexts[sessionID] = &sessionContext{}
	return nil
}

// LinkExecutorSession associates the executor session with the workflow session.
func (m *ContextManager) LinkExecutorSession(sessionID, executorSessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, ok := m.contexts[sessionID]
	if !ok {
		return fmt.Errorf("context for session %s not found", sessionID)
	}
	ctx.executorSessionID = executorSessionID
	return nil
}

// SetSteps stores the workflow's step list in the session context.
func (m *ContextManager) SetSteps(sessionID string, steps []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, ok := m.contexts[sessionID]
	if !ok {
		return fmt.Errorf("context for session %s not found", sessionID)
	}
	ctx.steps = append([]string(nil), steps...)
	return nil
}

// DestroySession releases context state. Destroying an absent session is a
// no-op so rollback paths can call it unconditionally.
func (m *ContextManager) DestroySession(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.contexts, sessionID)
	return nil
}

// ExecutorSessionID returns the linked executor session id for a session.
func (m *ContextManager) ExecutorSessionID(sessionID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, ok := m.contexts[sessionID]
	if !ok {
		return "", false
	}
	return ctx.executorSessionID, true
}
