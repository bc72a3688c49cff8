package orchestrator

import (
	"fmt"
	"sync"
	"testing"

	"github.com/avelis/stepstream/internal/domain"
	"github.com/avelis/stepstream/internal/fault"
)

func newSession(id string) *domain.ProcessorSession {
	return &domain.ProcessorSession{SessionID: id, Status: domain.StatusActive}
}

func TestRegistry_CreateDuplicate(t *testing.T) {
	r := NewRegistry(5)

	if err := r.Create(newSession("wf-1")); err != nil {
		t.Fatalf("Create error = %v", err)
	}
	err := r.Create(newSession("wf-1"))
	if err == nil || err.Code != fault.CodeSessionExists {
		t.Errorf("expected %s, got %v", fault.CodeSessionExists, err)
	}
	if r.Count() != 1 {
		t.Errorf("expected 1 session, got %d", r.Count())
	}
}

func TestRegistry_ConcurrencyLimitCountsOnlyActive(t *testing.T) {
	r := NewRegistry(2)

	if err := r.Create(newSession("wf-1")); err != nil {
		t.Fatalf("Create error = %v", err)
	}
	if err := r.Create(newSession("wf-2")); err != nil {
		t.Fatalf("Create error = %v", err)
	}
	err := r.Create(newSession("wf-3"))
	if err == nil || err.Code != fault.CodeConcurrentLimitExceeded {
		t.Errorf("expected %s, got %v", fault.CodeConcurrentLimitExceeded, err)
	}

	// Terminal sessions free their slot even before removal.
	r.Update("wf-1", func(s *domain.ProcessorSession) { s.Status = domain.StatusCompleted })
	if err := r.Create(newSession("wf-3")); err != nil {
		t.Errorf("expected terminal session to free a slot, got %v", err)
	}
	if r.ActiveCount() != 2 {
		t.Errorf("expected 2 active sessions, got %d", r.ActiveCount())
	}
	if r.Count() != 3 {
		t.Errorf("expected 3 total sessions, got %d", r.Count())
	}
}

func TestRegistry_ConcurrentCreatesRespectLimit(t *testing.T) {
	const limit = 10
	r := NewRegistry(limit)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < limit*3; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if err := r.Create(newSession(fmt.Sprintf("wf-%d", n))); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if succeeded != limit {
		t.Errorf("expected exactly %d creates to succeed, got %d", limit, succeeded)
	}
	if r.ActiveCount() != limit {
		t.Errorf("expected %d active sessions, got %d", limit, r.ActiveCount())
	}
}

func TestRegistry_ConcurrentDuplicateCreate(t *testing.T) {
	r := NewRegistry(10)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Create(newSession("wf-same")); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 {
		t.Errorf("expected exactly one create to win, got %d", succeeded)
	}
}

func TestRegistry_GetReturnsSnapshot(t *testing.T) {
	r := NewRegistry(5)
	sess := newSession("wf-1")
	sess.History = []domain.StepExecutionSummary{{StepIndex: 0, Status: domain.StepStatusRunning}}
	if err := r.Create(sess); err != nil {
		t.Fatalf("Create error = %v", err)
	}

	snap, ok := r.Get("wf-1")
	if !ok {
		t.Fatal("expected session")
	}
	snap.Status = domain.StatusFailed
	snap.History[0].Status = domain.StepStatusFailed

	fresh, _ := r.Get("wf-1")
	if fresh.Status != domain.StatusActive {
		t.Error("status mutation leaked into the registry")
	}
	if fresh.History[0].Status != domain.StepStatusRunning {
		t.Error("history mutation leaked into the registry")
	}
}

func TestRegistry_RemoveAndList(t *testing.T) {
	r := NewRegistry(5)
	r.Create(newSession("wf-1"))
	r.Create(newSession("wf-2"))

	if got := len(r.List()); got != 2 {
		t.Errorf("expected 2 listed sessions, got %d", got)
	}

	r.Remove("wf-1")
	if _, ok := r.Get("wf-1"); ok {
		t.Error("expected session to be removed")
	}
	if r.Count() != 1 {
		t.Errorf("expected 1 session, got %d", r.Count())
	}

	if r.Update("wf-1", func(*domain.ProcessorSession) {}) {
		t.Error("expected Update of a removed session to report false")
	}
}

func TestRegistry_TransitionEnforcesStateMachine(t *testing.T) {
	r := NewRegistry(5)
	if err := r.Create(newSession("wf-1")); err != nil {
		t.Fatalf("Create error = %v", err)
	}

	if !r.Transition("wf-1", domain.StatusPaused) {
		t.Fatal("ACTIVE -> PAUSED should be allowed")
	}
	if !r.Transition("wf-1", domain.StatusActive) {
		t.Fatal("PAUSED -> ACTIVE should be allowed")
	}
	if !r.Transition("wf-1", domain.StatusCompleted) {
		t.Fatal("ACTIVE -> COMPLETED should be allowed")
	}

	// Terminal states only move forward into cleanup.
	if r.Transition("wf-1", domain.StatusActive) {
		t.Error("COMPLETED -> ACTIVE must be rejected")
	}
	if sess, _ := r.Get("wf-1"); sess.Status != domain.StatusCompleted {
		t.Errorf("rejected transition must not change status, got %s", sess.Status)
	}

	if r.Transition("wf-missing", domain.StatusPaused) {
		t.Error("transition on an unknown session must report false")
	}
}
