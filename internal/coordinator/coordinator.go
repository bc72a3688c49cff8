// Package coordinator owns the unified WorkflowSession records shared by all
// collaborators of a workflow run. Sessions are in-memory and ephemeral.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avelis/stepstream/internal/domain"
)

// Coordinator creates and tracks workflow sessions.
type Coordinator struct {
	mu       sync.RWMutex
	sessions map[string]*domain.WorkflowSession
	log      *slog.Logger
}

// New creates an empty coordinator.
func New(log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		sessions: make(map[string]*domain.WorkflowSession),
		log:      log,
	}
}

// CreateWorkflowSession allocates a new session for the given steps.
func (c *Coordinator) CreateWorkflowSession(_ context.Context, steps []string, cfg domain.WorkflowConfig) (*domain.WorkflowSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UTC()
	sess := &domain.WorkflowSession{
		SessionID:      "wf-" + uuid.NewString(),
		AIConnectionID: cfg.AIConnectionID,
		Status:         domain.StatusInitializing,
		CreatedAt:      now,
		LastActivity:   now,
		Metadata:       cfg.Metadata,
		Steps:          append([]string(nil), steps...),
	}
	c.sessions[sess.SessionID] = sess
	c.log.Debug("workflow session created", "session_id", sess.SessionID, "steps", len(steps))
	return sess, nil
}

// DestroyWorkflowSession removes a session. Destroying an unknown session is
// an error so callers notice double-teardown bugs.
func (c *Coordinator) DestroyWorkflowSession(_ context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.sessions[sessionID]; !ok {
		return fmt.Errorf("workflow session %s not found", sessionID)
	}
	delete(c.sessions, sessionID)
	c.log.Debug("workflow session destroyed", "session_id", sessionID)
	return nil
}

// GetWorkflowSession returns a session snapshot, or nil if unknown.
func (c *Coordinator) GetWorkflowSession(sessionID string) *domain.WorkflowSession {
	c.mu.RLock()
	defer c.mu.RUnlock()

	sess, ok := c.sessions[sessionID]
	if !ok {
		return nil
	}
	cp := *sess
	cp.Steps = append([]string(nil), sess.Steps...)
	return &cp
}

// UpdateSession applies fn to a session under the coordinator's lock.
func (c *Coordinator) UpdateSession(sessionID string, fn func(*domain.WorkflowSession)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, ok := c.sessions[sessionID]
	if !ok {
		return fmt.Errorf("workflow session %s not found", sessionID)
	}
	fn(sess)
	sess.Touch()
	return nil
}

// ListActiveWorkflowSessions returns the ids of sessions not in a terminal state.
func (c *Coordinator) ListActiveWorkflowSessions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, 0, len(c.sessions))
	for id, sess := range c.sessions {
		if !sess.Status.IsTerminal() {
			ids = append(ids, id)
		}
	}
	return ids
}
