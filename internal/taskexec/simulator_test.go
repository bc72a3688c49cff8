package taskexec

import (
	"context"
	"sync"
	"testing"
	"time"
)

type sinkRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *sinkRecorder) record(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *sinkRecorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

func TestSimulator_SessionLifecycle(t *testing.T) {
	s := NewSimulator(time.Millisecond, nil)
	ctx := context.Background()

	execID, err := s.CreateSession(ctx, "wf-1")
	if err != nil {
		t.Fatalf("CreateSession error = %v", err)
	}
	if execID == "" {
		t.Fatal("expected an executor session id")
	}

	if err := s.DestroySession(ctx, execID); err != nil {
		t.Fatalf("DestroySession error = %v", err)
	}
	if err := s.DestroySession(ctx, execID); err == nil {
		t.Error("expected error destroying an unknown executor session")
	}
}

func TestSimulator_ProcessStepEmitsEvents(t *testing.T) {
	s := NewSimulator(time.Millisecond, nil)
	rec := &sinkRecorder{}
	s.SetEventSink(rec.record)

	req := StepRequest{SessionID: "wf-1", StepIndex: 0, StepContent: "open the page", StreamID: "stream-1"}
	if err := s.ProcessStep(context.Background(), req); err != nil {
		t.Fatalf("ProcessStep error = %v", err)
	}

	want := []EventKind{EventAIReasoning, EventCommandExecuted, EventStepCompleted}
	got := rec.kinds()
	if len(got) != len(want) {
		t.Fatalf("expected %d events, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: got %s, want %s", i, got[i], want[i])
		}
	}
	rec.mu.Lock()
	action := rec.events[1]
	rec.mu.Unlock()
	if !action.Success || action.StreamID != "stream-1" || action.StepIndex != 0 {
		t.Errorf("unexpected action event: %+v", action)
	}
}

func TestSimulator_FailPrefixFailsStep(t *testing.T) {
	s := NewSimulator(time.Millisecond, nil)
	rec := &sinkRecorder{}
	s.SetEventSink(rec.record)

	req := StepRequest{SessionID: "wf-1", StepIndex: 1, StepContent: "fail:element not found", StreamID: "stream-1"}
	err := s.ProcessStep(context.Background(), req)
	if err == nil {
		t.Fatal("expected the step to fail")
	}
	if err.Error() != "element not found" {
		t.Errorf("expected the failure reason as the error, got %q", err.Error())
	}

	got := rec.kinds()
	if len(got) != 2 || got[1] != EventCommandExecuted {
		t.Fatalf("expected reasoning then failed action, got %v", got)
	}
	rec.mu.Lock()
	action := rec.events[1]
	rec.mu.Unlock()
	if action.Success || action.Error != "element not found" {
		t.Errorf("unexpected failed action event: %+v", action)
	}
}

func TestSimulator_ProcessStepHonorsContext(t *testing.T) {
	s := NewSimulator(time.Minute, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- s.ProcessStep(ctx, StepRequest{SessionID: "wf-1", StepContent: "slow step"})
	}()
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("ProcessStep did not honor context cancellation")
	}
}

func TestSimulator_PauseResumeCancel(t *testing.T) {
	s := NewSimulator(time.Millisecond, nil)
	ctx := context.Background()

	if err := s.PauseExecution(ctx, "wf-1", 2); err != nil {
		t.Errorf("PauseExecution error = %v", err)
	}
	if err := s.ResumeExecution(ctx, "wf-1", 2); err != nil {
		t.Errorf("ResumeExecution error = %v", err)
	}
	if err := s.CancelExecution(ctx, "wf-1", 2); err != nil {
		t.Errorf("CancelExecution error = %v", err)
	}
}
