package coordinator

import (
	"context"
	"testing"

	"github.com/avelis/stepstream/internal/domain"
)

func TestCoordinator_SessionLifecycle(t *testing.T) {
	c := New(nil)
	ctx := context.Background()

	sess, err := c.CreateWorkflowSession(ctx, []string{"step one", "step two"}, domain.WorkflowConfig{
		StreamingEnabled: true,
		AIConnectionID:   "conn-1",
	})
	if err != nil {
		t.Fatalf("CreateWorkflowSession error = %v", err)
	}
	if sess.SessionID == "" {
		t.Fatal("expected a generated session id")
	}
	if sess.Status != domain.StatusInitializing {
		t.Errorf("expected INITIALIZING, got %s", sess.Status)
	}
	if sess.AIConnectionID != "conn-1" {
		t.Errorf("expected ai connection to be carried, got %q", sess.AIConnectionID)
	}

	got := c.GetWorkflowSession(sess.SessionID)
	if got == nil {
		t.Fatal("expected session to be retrievable")
	}
	if len(got.Steps) != 2 {
		t.Errorf("expected 2 steps, got %d", len(got.Steps))
	}

	if err := c.DestroyWorkflowSession(ctx, sess.SessionID); err != nil {
		t.Fatalf("DestroyWorkflowSession error = %v", err)
	}
	if c.GetWorkflowSession(sess.SessionID) != nil {
		t.Error("expected session to be gone after destroy")
	}
	if err := c.DestroyWorkflowSession(ctx, sess.SessionID); err == nil {
		t.Error("expected error destroying an unknown session")
	}
}

func TestCoordinator_GetReturnsSnapshot(t *testing.T) {
	c := New(nil)
	sess, _ := c.CreateWorkflowSession(context.Background(), []string{"a"}, domain.WorkflowConfig{})

	snap := c.GetWorkflowSession(sess.SessionID)
	snap.Status = domain.StatusFailed
	snap.Steps[0] = "mutated"

	fresh := c.GetWorkflowSession(sess.SessionID)
	if fresh.Status != domain.StatusInitializing {
		t.Errorf("mutation of a snapshot leaked into the store: %s", fresh.Status)
	}
	if fresh.Steps[0] != "a" {
		t.Errorf("step mutation leaked into the store: %q", fresh.Steps[0])
	}
}

func TestCoordinator_UpdateSession(t *testing.T) {
	c := New(nil)
	sess, _ := c.CreateWorkflowSession(context.Background(), []string{"a"}, domain.WorkflowConfig{})

	before := c.GetWorkflowSession(sess.SessionID).LastActivity
	err := c.UpdateSession(sess.SessionID, func(s *domain.WorkflowSession) {
		s.Status = domain.StatusActive
		s.StreamID = "stream-1"
	})
	if err != nil {
		t.Fatalf("UpdateSession error = %v", err)
	}

	got := c.GetWorkflowSession(sess.SessionID)
	if got.Status != domain.StatusActive || got.StreamID != "stream-1" {
		t.Errorf("update not applied: %+v", got)
	}
	if got.LastActivity.Before(before) {
		t.Error("expected last activity to be refreshed")
	}

	if err := c.UpdateSession("missing", func(*domain.WorkflowSession) {}); err == nil {
		t.Error("expected error updating an unknown session")
	}
}

func TestCoordinator_ListActiveWorkflowSessions(t *testing.T) {
	c := New(nil)
	ctx := context.Background()

	live, _ := c.CreateWorkflowSession(ctx, []string{"a"}, domain.WorkflowConfig{})
	done, _ := c.CreateWorkflowSession(ctx, []string{"a"}, domain.WorkflowConfig{})
	c.UpdateSession(done.SessionID, func(s *domain.WorkflowSession) {
		s.Status = domain.StatusCompleted
	})

	ids := c.ListActiveWorkflowSessions()
	if len(ids) != 1 || ids[0] != live.SessionID {
		t.Errorf("expected only the live session, got %v", ids)
	}
}

func TestContextManager(t *testing.T) {
	m := NewContextManager()

	if err := m.CreateSession("wf-1"); err != nil {
		t.Fatalf("CreateSession error = %v", err)
	}
	if err := m.CreateSession("wf-1"); err == nil {
		t.Error("expected error for duplicate context")
	}

	if err := m.LinkExecutorSession("wf-1", "exec-1"); err != nil {
		t.Fatalf("LinkExecutorSession error = %v", err)
	}
	if err := m.SetSteps("wf-1", []string{"a", "b"}); err != nil {
		t.Fatalf("SetSteps error = %v", err)
	}
	if id, ok := m.ExecutorSessionID("wf-1"); !ok || id != "exec-1" {
		t.Errorf("expected exec-1, got %q ok=%v", id, ok)
	}

	if err := m.LinkExecutorSession("missing", "exec-2"); err == nil {
		t.Error("expected error linking an unknown session")
	}
	if err := m.SetSteps("missing", nil); err == nil {
		t.Error("expected error setting steps on an unknown session")
	}

	// Destroy is a no-op on absent sessions so rollback can call it blindly.
	if err := m.DestroySession("wf-1"); err != nil {
		t.Fatalf("DestroySession error = %v", err)
	}
	if err := m.DestroySession("wf-1"); err != nil {
		t.Errorf("expected repeated destroy to succeed, got %v", err)
	}
	if _, ok := m.ExecutorSessionID("wf-1"); ok {
		t.Error("expected context to be gone")
	}
}
