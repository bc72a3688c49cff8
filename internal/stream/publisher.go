package stream

import (
	"context"
	"log/slog"
	"unicode/utf8"

	"github.com/avelis/stepstream/internal/domain"
	"github.com/avelis/stepstream/internal/fault"
	"github.com/avelis/stepstream/internal/taskexec"
)

const moduleID = "stream-publisher"

// stepMessageLimit caps step descriptions embedded in events.
const stepMessageLimit = 100

// EventLog records published events for post-hoc inspection. Recording is
// best-effort and never fails a publish.
type EventLog interface {
	RecordEvent(ctx context.Context, streamID string, ev Event) error
}

// Publisher translates orchestration-level facts into stream events and hands
// them to the transport. A nil transport or empty stream id means streaming
// is disabled for the session; publishes are then skipped, not failed.
type Publisher struct {
	transport Transport
	eventLog  EventLog
	log       *slog.Logger
}

// NewPublisher creates a publisher over the given transport. transport and
// eventLog may be nil.
func NewPublisher(transport Transport, eventLog EventLog, log *slog.Logger) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{transport: transport, eventLog: eventLog, log: log}
}

// Truncate shortens a step description for event payloads. Limits are
// counted in runes so multibyte content is never split mid-character.
func Truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "..."
}

func (p *Publisher) publish(streamID string, ev Event) error {
	if p.transport == nil || streamID == "" {
		p.log.Debug("no stream transport configured, skipping event",
			"event_type", string(ev.Type), "session_id", ev.SessionID)
		return nil
	}
	if err := p.transport.PublishEvent(streamID, ev); err != nil {
		return fault.Wrap(moduleID, fault.CodeStreamPublishFailed,
			"failed to publish "+string(ev.Type)+" event", err)
	}
	if p.eventLog != nil {
		if err := p.eventLog.RecordEvent(context.Background(), streamID, ev); err != nil {
			p.log.Warn("failed to archive event", "event_id", ev.ID, "error", err)
		}
	}
	return nil
}

// WorkflowStarted announces the beginning of a workflow run.
func (p *Publisher) WorkflowStarted(streamID, sessionID string, totalSteps int) error {
	return p.publish(streamID, newEvent(EventWorkflowStarted, sessionID, nil, EventData{
		Message: "Workflow execution started",
		Progress: &domain.ExecutionProgress{
			TotalSteps: totalSteps,
		},
	}))
}

// StepStarted announces a step beginning execution.
func (p *Publisher) StepStarted(streamID, sessionID string, stepIndex int, stepContent string) error {
	idx := stepIndex
	return p.publish(streamID, newEvent(EventStepStarted, sessionID, &idx, EventData{
		Message: Truncate(stepContent, stepMessageLimit),
		Step:    Truncate(stepContent, stepMessageLimit),
	}))
}

// StepCompleted announces a step finishing successfully.
func (p *Publisher) StepCompleted(streamID, sessionID string, stepIndex int, progress domain.ExecutionProgress) error {
	idx := stepIndex
	return p.publish(streamID, newEvent(EventStepCompleted, sessionID, &idx, EventData{
		Message:  "Step completed",
		Progress: &progress,
	}))
}

// StepFailed announces a step failure.
func (p *Publisher) StepFailed(streamID, sessionID string, stepIndex int, stdErr *fault.StandardError) error {
	idx := stepIndex
	return p.publish(streamID, newEvent(EventStepFailed, sessionID, &idx, EventData{
		Message: "Step failed",
		Error:   stdErr,
	}))
}

// WorkflowProgress publishes a progress snapshot.
func (p *Publisher) WorkflowProgress(streamID, sessionID string, progress domain.ExecutionProgress) error {
	return p.publish(streamID, newEvent(EventWorkflowProgress, sessionID, nil, EventData{
		Progress: &progress,
	}))
}

// WorkflowCompleted announces successful completion of all steps.
func (p *Publisher) WorkflowCompleted(streamID, sessionID string, progress domain.ExecutionProgress) error {
	return p.publish(streamID, newEvent(EventWorkflowCompleted, sessionID, nil, EventData{
		Message:  "Workflow completed",
		Progress: &progress,
	}))
}

// WorkflowFailed announces terminal workflow failure.
func (p *Publisher) WorkflowFailed(streamID, sessionID string, stepIndex int, stdErr *fault.StandardError) error {
	idx := stepIndex
	return p.publish(streamID, newEvent(EventWorkflowFailed, sessionID, &idx, EventData{
		Message: "Workflow failed",
		Error:   stdErr,
	}))
}

// WorkflowPaused announces a pause.
func (p *Publisher) WorkflowPaused(streamID, sessionID string, stepIndex int) error {
	idx := stepIndex
	return p.publish(streamID, newEvent(EventWorkflowPaused, sessionID, &idx, EventData{
		Message: "Workflow paused",
	}))
}

// WorkflowResumed announces a resume.
func (p *Publisher) WorkflowResumed(streamID, sessionID string, stepIndex int) error {
	idx := stepIndex
	return p.publish(streamID, newEvent(EventWorkflowResumed, sessionID, &idx, EventData{
		Message: "Workflow resumed",
	}))
}

// Structured publishes a typed sub-payload as a structured event. The payload
// travels JSON-encoded inside data, so consumers perform a second parse pass.
func (p *Publisher) Structured(streamID, sessionID string, stepIndex int, payload StructuredPayload) error {
	encoded, err := EncodePayload(payload)
	if err != nil {
		return fault.Wrap(moduleID, fault.CodeEventDeliveryFailed, "failed to encode structured payload", err)
	}
	idx := stepIndex
	return p.publish(streamID, newEvent(EventStructured, sessionID, &idx, encoded))
}

// HandleExecutorEvent is the sink for task-executor notifications. Events the
// orchestrator reports through its own lifecycle events are re-logged here;
// reasoning, command and progress notifications are forwarded to the stream.
// Unknown kinds are logged at debug level and dropped.
func (p *Publisher) HandleExecutorEvent(ev taskexec.Event) {
	switch ev.Kind {
	case taskexec.EventStepCompleted, taskexec.EventStepFailed:
		// The orchestrator publishes the user-visible step lifecycle events.
		p.log.Debug("executor step notification",
			"kind", string(ev.Kind), "session_id", ev.SessionID, "step_index", ev.StepIndex)
	case taskexec.EventAIReasoning:
		if err := p.Structured(ev.StreamID, ev.SessionID, ev.StepIndex, StructuredPayload{
			Type:       PayloadReasoning,
			Content:    ev.Message,
			Confidence: ev.Confidence,
		}); err != nil {
			p.log.Warn("failed to forward reasoning event", "session_id", ev.SessionID, "error", err)
		}
	case taskexec.EventCommandExecuted:
		if err := p.Structured(ev.StreamID, ev.SessionID, ev.StepIndex, StructuredPayload{
			Type:    PayloadAction,
			Action:  ev.Action,
			Success: ev.Success,
			Error:   ev.Error,
			Content: ev.Message,
		}); err != nil {
			p.log.Warn("failed to forward action event", "session_id", ev.SessionID, "error", err)
		}
	case taskexec.EventProgress:
		if err := p.publish(ev.StreamID, newEvent(EventMessage, ev.SessionID, nil, EventData{
			Message: ev.Message,
		})); err != nil {
			p.log.Warn("failed to forward progress event", "session_id", ev.SessionID, "error", err)
		}
	default:
		p.log.Debug("dropping unknown executor event", "kind", string(ev.Kind), "session_id", ev.SessionID)
	}
}
