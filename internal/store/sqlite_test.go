package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/avelis/stepstream/internal/domain"
	"github.com/avelis/stepstream/internal/stream"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("NewSQLite error = %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSQLiteStore_ArchiveRunRoundTrip(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	started := time.Now().UTC().Add(-time.Minute).Truncate(time.Second)
	run := RunRecord{
		SessionID:      "wf-1",
		Status:         "COMPLETED",
		TotalSteps:     3,
		CompletedSteps: 3,
		StartedAt:      started,
		FinishedAt:     started.Add(30 * time.Second),
	}
	if err := repo.ArchiveRun(ctx, run); err != nil {
		t.Fatalf("ArchiveRun error = %v", err)
	}

	runs, err := repo.ListRecentRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListRecentRuns error = %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	got := runs[0]
	if got.SessionID != "wf-1" || got.Status != "COMPLETED" || got.CompletedSteps != 3 {
		t.Errorf("run did not round-trip: %+v", got)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("expected started at %s, got %s", started, got.StartedAt)
	}
}

func TestSQLiteStore_ArchiveRunUpsert(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	run := RunRecord{SessionID: "wf-1", Status: "FAILED", TotalSteps: 2,
		StartedAt: time.Now(), FinishedAt: time.Now(), Error: "step 1 failed"}
	if err := repo.ArchiveRun(ctx, run); err != nil {
		t.Fatalf("ArchiveRun error = %v", err)
	}
	run.Status = "COMPLETED"
	run.CompletedSteps = 2
	run.Error = ""
	if err := repo.ArchiveRun(ctx, run); err != nil {
		t.Fatalf("second ArchiveRun error = %v", err)
	}

	runs, err := repo.ListRecentRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListRecentRuns error = %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected the run to be upserted, got %d rows", len(runs))
	}
	if runs[0].Status != "COMPLETED" || runs[0].Error != "" {
		t.Errorf("expected updated row, got %+v", runs[0])
	}
}

func TestSQLiteStore_ListRecentRunsNewestFirst(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	for i, id := range []string{"wf-old", "wf-mid", "wf-new"} {
		run := RunRecord{
			SessionID:  id,
			Status:     "COMPLETED",
			TotalSteps: 1,
			StartedAt:  base,
			FinishedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := repo.ArchiveRun(ctx, run); err != nil {
			t.Fatalf("ArchiveRun(%s) error = %v", id, err)
		}
	}

	runs, err := repo.ListRecentRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRecentRuns error = %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected limit of 2, got %d", len(runs))
	}
	if runs[0].SessionID != "wf-new" || runs[1].SessionID != "wf-mid" {
		t.Errorf("expected newest first, got %s then %s", runs[0].SessionID, runs[1].SessionID)
	}
}

func TestSQLiteStore_ArchiveStepAndRecordEvent(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	step := domain.StepExecutionSummary{
		StepIndex:   0,
		StepContent: "open the page",
		Status:      domain.StepStatusCompleted,
		StartedAt:   time.Now(),
		FinishedAt:  time.Now(),
		Duration:    1200 * time.Millisecond,
	}
	if err := repo.ArchiveStep(ctx, "wf-1", step); err != nil {
		t.Fatalf("ArchiveStep error = %v", err)
	}
	// Re-archiving the same step index is an update, not an error.
	step.Status = domain.StepStatusFailed
	step.Error = "element not found"
	if err := repo.ArchiveStep(ctx, "wf-1", step); err != nil {
		t.Fatalf("second ArchiveStep error = %v", err)
	}

	ev := stream.Event{
		ID:        "ev-1",
		Type:      stream.EventStepStarted,
		SessionID: "wf-1",
		Timestamp: time.Now().UTC(),
		Data:      stream.EventData{Message: "open the page"},
	}
	if err := repo.RecordEvent(ctx, "stream-1", ev); err != nil {
		t.Fatalf("RecordEvent error = %v", err)
	}
	// Duplicate event ids are ignored.
	if err := repo.RecordEvent(ctx, "stream-1", ev); err != nil {
		t.Fatalf("duplicate RecordEvent error = %v", err)
	}
}

func TestSQLiteStore_Ping(t *testing.T) {
	repo := newTestStore(t)
	if err := repo.Ping(context.Background()); err != nil {
		t.Errorf("Ping error = %v", err)
	}
}
