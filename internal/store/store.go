// Package store provides the best-effort run history archive. Sessions are
// ephemeral and live in memory; the archive only records what happened for
// post-hoc inspection and never participates in workflow control flow.
package store

import (
	"context"
	"time"

	"github.com/avelis/stepstream/internal/domain"
	"github.com/avelis/stepstream/internal/stream"
)

// RunRecord is one archived workflow run.
type RunRecord struct {
	SessionID      string
	Status         string
	TotalSteps     int
	CompletedSteps int
	StartedAt      time.Time
	FinishedAt     time.Time
	Error          string
}

// Repository defines the interface for persisting run history.
type Repository interface {
	// ArchiveRun records a finished workflow run.
	ArchiveRun(ctx context.Context, run RunRecord) error

	// ArchiveStep records one executed step of a run.
	ArchiveStep(ctx context.Context, sessionID string, step domain.StepExecutionSummary) error

	// RecordEvent records a published stream event.
	RecordEvent(ctx context.Context, streamID string, ev stream.Event) error

	// ListRecentRuns returns the most recently finished runs, newest first.
	ListRecentRuns(ctx context.Context, limit int) ([]RunRecord, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
