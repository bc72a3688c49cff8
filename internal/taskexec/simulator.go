package taskexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// failPrefix marks a step the simulator should fail, for local testing of the
// stop-on-first-failure path.
const failPrefix = "fail:"

// Simulator is a local Executor that emits plausible reasoning and action
// events without driving a real browser. It stands in for the production
// executor during development and in tests.
type Simulator struct {
	stepDuration time.Duration
	log          *slog.Logger

	mu       sync.Mutex
	sink     EventSink
	sessions map[string]string // executorSessionID -> sessionID
	paused   map[string]bool
}

// NewSimulator creates a simulator whose steps take roughly stepDuration.
func NewSimulator(stepDuration time.Duration, log *slog.Logger) *Simulator {
	if log == nil {
		log = slog.Default()
	}
	return &Simulator{
		stepDuration: stepDuration,
		log:          log,
		sessions:     make(map[string]string),
		paused:       make(map[string]bool),
	}
}

var _ Executor = (*Simulator)(nil)

// SetEventSink registers the notification callback.
func (s *Simulator) SetEventSink(sink EventSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
}

// CreateSession allocates a simulated executor session.
func (s *Simulator) CreateSession(_ context.Context, sessionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	execID := "exec-" + uuid.NewString()
	s.sessions[execID] = sessionID
	s.log.Debug("simulated executor session created", "executor_session_id", execID, "session_id", sessionID)
	return execID, nil
}

// DestroySession releases a simulated executor session.
func (s *Simulator) DestroySession(_ context.Context, executorSessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[executorSessionID]; !ok {
		return fmt.Errorf("executor session %s not found", executorSessionID)
	}
	delete(s.sessions, executorSessionID)
	return nil
}

// ProcessStep simulates one step: a reasoning event, a pause, then an action
// event. Steps prefixed "fail:" fail after emitting a failed action.
func (s *Simulator) ProcessStep(ctx context.Context, req StepRequest) error {
	s.emit(Event{
		Kind:       EventAIReasoning,
		SessionID:  req.SessionID,
		StreamID:   req.StreamID,
		StepIndex:  req.StepIndex,
		Message:    "Planning: " + req.StepContent,
		Confidence: "high",
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.stepDuration):
	}

	if strings.HasPrefix(req.StepContent, failPrefix) {
		reason := strings.TrimPrefix(req.StepContent, failPrefix)
		s.emit(Event{
			Kind:      EventCommandExecuted,
			SessionID: req.SessionID,
			StreamID:  req.StreamID,
			StepIndex: req.StepIndex,
			Action:    "execute",
			Success:   false,
			Error:     reason,
		})
		return errors.New(reason)
	}

	s.emit(Event{
		Kind:      EventCommandExecuted,
		SessionID: req.SessionID,
		StreamID:  req.StreamID,
		StepIndex: req.StepIndex,
		Action:    "execute",
		Success:   true,
		Message:   req.StepContent,
	})
	s.emit(Event{
		Kind:      EventStepCompleted,
		SessionID: req.SessionID,
		StreamID:  req.StreamID,
		StepIndex: req.StepIndex,
		Message:   req.StepContent,
	})
	return nil
}

// PauseExecution records the pause; the simulator has no mid-step work to halt.
func (s *Simulator) PauseExecution(_ context.Context, sessionID string, stepIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused[sessionID] = true
	s.log.Debug("simulated execution paused", "session_id", sessionID, "step_index", stepIndex)
	return nil
}

// ResumeExecution clears the pause flag.
func (s *Simulator) ResumeExecution(_ context.Context, sessionID string, stepIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.paused, sessionID)
	s.log.Debug("simulated execution resumed", "session_id", sessionID, "step_index", stepIndex)
	return nil
}

// CancelExecution clears session-scoped state.
func (s *Simulator) CancelExecution(_ context.Context, sessionID string, stepIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.paused, sessionID)
	s.log.Debug("simulated execution cancelled", "session_id", sessionID, "step_index", stepIndex)
	return nil
}

func (s *Simulator) emit(ev Event) {
	s.mu.Lock()
	sink := s.sink
	s.mu.Unlock()
	if sink != nil {
		sink(ev)
	}
}
