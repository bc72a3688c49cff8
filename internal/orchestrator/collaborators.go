package orchestrator

import (
	"context"

	"github.com/avelis/stepstream/internal/domain"
	"github.com/avelis/stepstream/internal/store"
)

// SessionCoordinator owns the unified WorkflowSession records.
type SessionCoordinator interface {
	CreateWorkflowSession(ctx context.Context, steps []string, cfg domain.WorkflowConfig) (*domain.WorkflowSession, error)
	DestroyWorkflowSession(ctx context.Context, sessionID string) error
	GetWorkflowSession(sessionID string) *domain.WorkflowSession
	UpdateSession(sessionID string, fn func(*domain.WorkflowSession)) error
	ListActiveWorkflowSessions() []string
}

// ContextManager tracks per-session AI context state.
type ContextManager interface {
	CreateSession(sessionID string) error
	LinkExecutorSession(sessionID, executorSessionID string) error
	SetSteps(sessionID string, steps []string) error
	DestroySession(sessionID string) error
}

// AIValidator answers whether an AI connection is usable.
type AIValidator interface {
	ValidateConnection(ctx context.Context, connectionID string) (bool, error)
}

// Archiver records finished runs and steps. Archiving is best-effort.
type Archiver interface {
	ArchiveRun(ctx context.Context, run store.RunRecord) error
	ArchiveStep(ctx context.Context, sessionID string, step domain.StepExecutionSummary) error
}
