package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/avelis/stepstream/internal/domain"
	"github.com/avelis/stepstream/internal/fault"
	"github.com/avelis/stepstream/internal/store"
	"github.com/avelis/stepstream/internal/stream"
	"github.com/avelis/stepstream/internal/taskexec"
)

const moduleID = "workflow-orchestrator"

// stepNameLimit caps step names carried in progress records.
const stepNameLimit = 100

// Config holds orchestrator limits.
type Config struct {
	MaxConcurrentSessions int
	MaxWorkflowSteps      int
	MaxStepLength         int
	// StepEstimate is the nominal per-step duration used for the estimated
	// total returned from ProcessSteps before any step has run.
	StepEstimate time.Duration
}

// Dependencies is the typed collaborator set assembled by the composition
// root. Archiver may be nil; everything else is required.
type Dependencies struct {
	Coordinator SessionCoordinator
	Context     ContextManager
	Executor    taskexec.Executor
	Transport   stream.Transport
	Publisher   *stream.Publisher
	AI          AIValidator
	Archiver    Archiver
	Errors      *fault.Handler
	Logger      *slog.Logger
}

// Orchestrator sequences workflow steps and owns session lifecycle.
type Orchestrator struct {
	cfg       Config
	registry  *Registry
	coord     SessionCoordinator
	ctxmgr    ContextManager
	executor  taskexec.Executor
	transport stream.Transport
	publisher *stream.Publisher
	ai        AIValidator
	archive   Archiver
	errs      *fault.Handler
	log       *slog.Logger

	onSessionCreated func(sessionID string)

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// loopMu guards looping and stepCancels: at most one step loop runs per
	// session, and pause/resume decisions are made under this lock.
	loopMu      sync.Mutex
	looping     map[string]bool
	stepCancels map[string]context.CancelFunc
}

// New assembles an orchestrator. The executor's event sink is wired to the
// publisher here so executor notifications reach the stream.
func New(cfg Config, deps Dependencies) *Orchestrator {
	if cfg.StepEstimate <= 0 {
		cfg.StepEstimate = 30 * time.Second
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:         cfg,
		registry:    NewRegistry(cfg.MaxConcurrentSessions),
		coord:       deps.Coordinator,
		ctxmgr:      deps.Context,
		executor:    deps.Executor,
		transport:   deps.Transport,
		publisher:   deps.Publisher,
		ai:          deps.AI,
		archive:     deps.Archiver,
		errs:        deps.Errors,
		log:         log,
		baseCtx:     ctx,
		cancel:      cancel,
		looping:     make(map[string]bool),
		stepCancels: make(map[string]context.CancelFunc),
	}
	if o.errs == nil {
		o.errs = fault.NewHandler(log)
	}
	if o.executor != nil && o.publisher != nil {
		o.executor.SetEventSink(o.publisher.HandleExecutorEvent)
	}
	return o
}

// SetOnSessionCreated registers the lifecycle callback fired after a session
// reaches ACTIVE. Must be called before the orchestrator is used.
func (o *Orchestrator) SetOnSessionCreated(fn func(sessionID string)) {
	o.onSessionCreated = fn
}

// Close stops all background step loops and waits for them to exit.
func (o *Orchestrator) Close() {
	o.cancel()
	o.wg.Wait()
}

// CreateSession registers the orchestration session for an existing workflow
// session id. The session starts INITIALIZING and transitions to ACTIVE
// before the lifecycle callback fires.
func (o *Orchestrator) CreateSession(sessionID string, cfg *domain.WorkflowConfig) (string, error) {
	now := time.Now().UTC()
	streaming := cfg != nil && cfg.StreamingEnabled
	sess := &domain.ProcessorSession{
		SessionID:        sessionID,
		LinkedSessionID:  sessionID,
		Status:           domain.StatusInitializing,
		StreamingEnabled: streaming,
		CreatedAt:        now,
		LastActivity:     now,
	}
	if err := o.registry.Create(sess); err != nil {
		return "", o.errs.Handle(err)
	}
	o.registry.Update(sessionID, func(s *domain.ProcessorSession) {
		s.Status = domain.StatusActive
		s.Touch()
	})
	o.log.Info("session created", "session_id", sessionID, "streaming", streaming)
	if o.onSessionCreated != nil {
		o.onSessionCreated(sessionID)
	}
	return sessionID, nil
}

// SessionExists reports whether a session is registered and not terminal.
func (o *Orchestrator) SessionExists(sessionID string) bool {
	sess, ok := o.registry.Get(sessionID)
	return ok && !sess.Status.IsTerminal()
}

// GetSessionStatus returns the status of a registered session.
func (o *Orchestrator) GetSessionStatus(sessionID string) (domain.SessionStatus, error) {
	sess, ok := o.registry.Get(sessionID)
	if !ok {
		return "", o.notFound(sessionID)
	}
	return sess.Status, nil
}

// ProcessRequest is a workflow submission.
type ProcessRequest struct {
	Steps  []string               `json:"steps"`
	Config *domain.WorkflowConfig `json:"config"`
}

// ProcessResponse is returned once workflow setup completes; execution
// continues in the background and is observed via the event stream.
type ProcessResponse struct {
	SessionID         string               `json:"sessionId"`
	StreamID          string               `json:"streamId,omitempty"`
	InitialStatus     domain.SessionStatus `json:"initialStatus"`
	EstimatedDuration time.Duration        `json:"estimatedDuration"`
	CreatedAt         time.Time            `json:"createdAt"`
}

func (o *Orchestrator) validateRequest(req ProcessRequest) *fault.StandardError {
	if req.Config == nil {
		return fault.New(moduleID, fault.CodeMissingConfig, "workflow configuration is required", nil)
	}
	if len(req.Steps) == 0 {
		return fault.New(moduleID, fault.CodeInvalidSteps, "workflow must contain at least one step", nil)
	}
	if len(req.Steps) > o.cfg.MaxWorkflowSteps {
		return fault.New(moduleID, fault.CodeStepCountExceeded,
			fmt.Sprintf("workflow has %d steps, maximum is %d", len(req.Steps), o.cfg.MaxWorkflowSteps),
			map[string]any{"steps": len(req.Steps), "limit": o.cfg.MaxWorkflowSteps})
	}
	for i, step := range req.Steps {
		if n := utf8.RuneCountInString(step); n > o.cfg.MaxStepLength {
			return fault.New(moduleID, fault.CodeStepContentTooLong,
				fmt.Sprintf("step %d is %d characters, maximum is %d", i, n, o.cfg.MaxStepLength),
				map[string]any{"stepIndex": i, "length": n, "limit": o.cfg.MaxStepLength})
		}
	}
	return nil
}

// ProcessSteps validates the request, performs all-or-nothing session setup
// across the collaborators, starts background execution at step 0 and
// returns. Progress is observed via the event stream.
func (o *Orchestrator) ProcessSteps(ctx context.Context, req ProcessRequest) (*ProcessResponse, error) {
	if err := o.validateRequest(req); err != nil {
		return nil, o.errs.Handle(err)
	}

	ws, err := o.coord.CreateWorkflowSession(ctx, req.Steps, *req.Config)
	if err != nil {
		return nil, o.errs.Handle(fault.Wrap(moduleID, fault.CodeSessionCreationFailed,
			"failed to create workflow session", err))
	}
	sessionID := ws.SessionID

	// Partial setup must not leak resources: each initialization step pushes
	// its own undo, replayed in reverse on failure.
	var undo []func()
	rollback := func() {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
	}
	undo = append(undo, func() {
		if derr := o.coord.DestroyWorkflowSession(context.Background(), sessionID); derr != nil {
			o.log.Warn("rollback: failed to destroy workflow session", "session_id", sessionID, "error", derr)
		}
	})

	initFailed := func(stage string, cause error) error {
		rollback()
		return o.errs.Handle(fault.Wrap(moduleID, fault.CodeModuleInitFailed,
			"failed to initialize "+stage+" for session "+sessionID, cause))
	}

	// Collaborators initialize in a fixed order: context, executor, stream,
	// AI connection.
	if err := o.ctxmgr.CreateSession(sessionID); err != nil {
		return nil, initFailed("context manager", err)
	}
	undo = append(undo, func() {
		if derr := o.ctxmgr.DestroySession(sessionID); derr != nil {
			o.log.Warn("rollback: failed to destroy session context", "session_id", sessionID, "error", derr)
		}
	})

	execID, err := o.executor.CreateSession(ctx, sessionID)
	if err != nil {
		return nil, initFailed("task executor", err)
	}
	undo = append(undo, func() {
		if derr := o.executor.DestroySession(context.Background(), execID); derr != nil {
			o.log.Warn("rollback: failed to destroy executor session", "session_id", sessionID, "error", derr)
		}
	})
	if err := o.ctxmgr.LinkExecutorSession(sessionID, execID); err != nil {
		return nil, initFailed("executor link", err)
	}

	streamID := ""
	if req.Config.StreamingEnabled && o.transport != nil {
		streamID, err = o.transport.CreateStream(sessionID)
		if err != nil {
			return nil, initFailed("stream", err)
		}
		sid := streamID
		undo = append(undo, func() {
			if derr := o.transport.DestroyStream(sid); derr != nil {
				o.log.Warn("rollback: failed to destroy stream", "stream_id", sid, "error", derr)
			}
		})
	}

	if req.Config.AIConnectionID != "" && o.ai != nil {
		ok, err := o.ai.ValidateConnection(ctx, req.Config.AIConnectionID)
		if err != nil {
			return nil, initFailed("AI connection", err)
		}
		if !ok {
			return nil, initFailed("AI connection", fmt.Errorf("connection %s is not serving", req.Config.AIConnectionID))
		}
	}

	if err := o.ctxmgr.SetSteps(sessionID, req.Steps); err != nil {
		return nil, initFailed("step context", err)
	}

	if err := o.coord.UpdateSession(sessionID, func(s *domain.WorkflowSession) {
		s.ExecutorSessionID = execID
		s.StreamID = streamID
		s.Status = domain.StatusActive
	}); err != nil {
		return nil, initFailed("workflow session", err)
	}

	if _, err := o.CreateSession(sessionID, req.Config); err != nil {
		rollback()
		return nil, err
	}
	undo = append(undo, func() { o.registry.Remove(sessionID) })

	total := len(req.Steps)
	o.registry.Update(sessionID, func(s *domain.ProcessorSession) {
		s.TotalSteps = total
		s.StreamID = streamID
		s.Progress.TotalSteps = total
	})

	if streamID != "" {
		if perr := o.publisher.WorkflowStarted(streamID, sessionID, total); perr != nil {
			rollback()
			return nil, o.errs.Handle(fault.Wrap(moduleID, fault.CodeStreamPublishFailed,
				"failed to announce workflow start", perr))
		}
	}

	o.startLoop(sessionID)

	o.log.Info("workflow accepted", "session_id", sessionID, "steps", total, "stream_id", streamID)
	return &ProcessResponse{
		SessionID:         sessionID,
		StreamID:          streamID,
		InitialStatus:     domain.StatusActive,
		EstimatedDuration: time.Duration(total) * o.cfg.StepEstimate,
		CreatedAt:         ws.CreatedAt,
	}, nil
}

// startLoop launches the background step loop unless one is already running
// for the session.
func (o *Orchestrator) startLoop(sessionID string) {
	o.loopMu.Lock()
	defer o.loopMu.Unlock()
	if o.looping[sessionID] {
		return
	}
	o.looping[sessionID] = true
	stepCtx, cancel := context.WithCancel(o.baseCtx)
	o.stepCancels[sessionID] = cancel
	o.wg.Add(1)
	go o.runSteps(stepCtx, sessionID)
}

// stopLoop is called by the step loop when it wants to exit. It returns true
// when the exit may proceed; if the session went back to ACTIVE in the
// meantime (a resume racing a pause) the loop keeps running instead.
func (o *Orchestrator) stopLoop(sessionID string, pauseExit bool) bool {
	o.loopMu.Lock()
	defer o.loopMu.Unlock()
	if pauseExit {
		if sess, ok := o.registry.Get(sessionID); ok && sess.Status != domain.StatusPaused {
			return false
		}
	}
	delete(o.looping, sessionID)
	if cancel, ok := o.stepCancels[sessionID]; ok {
		cancel()
		delete(o.stepCancels, sessionID)
	}
	return true
}

// runSteps is the sequential step loop: one step at a time, stop on first
// failure, exit on pause or cancel.
func (o *Orchestrator) runSteps(ctx context.Context, sessionID string) {
	defer o.wg.Done()

	for {
		sess, ok := o.registry.Get(sessionID)
		if !ok {
			o.stopLoop(sessionID, false)
			return
		}
		switch {
		case sess.Status == domain.StatusPaused:
			if o.stopLoop(sessionID, true) {
				return
			}
			continue
		case sess.Status.IsTerminal():
			o.stopLoop(sessionID, false)
			return
		}

		ws := o.coord.GetWorkflowSession(sess.LinkedSessionID)
		if ws == nil {
			o.log.Error("linked workflow session missing", "session_id", sessionID)
			o.stopLoop(sessionID, false)
			return
		}
		steps := ws.Steps
		i := sess.CurrentStepIndex

		if i >= len(steps) {
			o.completeWorkflow(sessionID, sess.StreamID)
			o.stopLoop(sessionID, false)
			return
		}

		step := steps[i]
		startedAt := time.Now().UTC()
		o.registry.Update(sessionID, func(s *domain.ProcessorSession) {
			if s.Status == domain.StatusActive {
				s.Status = domain.StatusBusy
			}
			s.Progress.CurrentStepIndex = i
			s.Progress.CurrentStepName = stream.Truncate(step, stepNameLimit)
			s.History = append(s.History, domain.StepExecutionSummary{
				StepIndex:   i,
				StepContent: step,
				Status:      domain.StepStatusRunning,
				StartedAt:   startedAt,
			})
			s.Touch()
		})

		if perr := o.publisher.StepStarted(sess.StreamID, sessionID, i, step); perr != nil {
			// The workflow keeps running without its visibility channel; the
			// failure is classified and logged, never swallowed.
			o.errs.Handle(fault.Wrap(moduleID, fault.CodeStreamPublishFailed, "step event publish failed", perr))
		}

		err := o.executor.ProcessStep(ctx, taskexec.StepRequest{
			SessionID:   sessionID,
			StepIndex:   i,
			StepContent: step,
			StreamID:    sess.StreamID,
		})
		duration := time.Since(startedAt)

		if err != nil {
			if cur, ok := o.registry.Get(sessionID); !ok || cur.Status == domain.StatusCancelled {
				// Cancellation already tore the session down; the executor
				// error is just the interrupted step surfacing.
				o.stopLoop(sessionID, false)
				return
			}
			o.failWorkflow(sessionID, sess.StreamID, i, step, startedAt, duration, err)
			o.stopLoop(sessionID, false)
			return
		}

		var progress domain.ExecutionProgress
		o.registry.Update(sessionID, func(s *domain.ProcessorSession) {
			last := len(s.History) - 1
			s.History[last].Status = domain.StepStatusCompleted
			s.History[last].FinishedAt = startedAt.Add(duration)
			s.History[last].Duration = duration
			s.Progress.RecordStepCompleted(duration)
			s.Progress.CurrentStepIndex = i + 1
			s.CurrentStepIndex = i + 1
			if s.Status == domain.StatusBusy {
				s.Status = domain.StatusActive
			}
			s.Touch()
			progress = s.Progress
		})
		o.archiveStep(sessionID, i, step, domain.StepStatusCompleted, startedAt, duration, "")

		if perr := o.publisher.StepCompleted(sess.StreamID, sessionID, i, progress); perr != nil {
			o.errs.Handle(fault.Wrap(moduleID, fault.CodeStreamPublishFailed, "step event publish failed", perr))
		}
		if perr := o.publisher.WorkflowProgress(sess.StreamID, sessionID, progress); perr != nil {
			o.errs.Handle(fault.Wrap(moduleID, fault.CodeStreamPublishFailed, "progress publish failed", perr))
		}
	}
}

func (o *Orchestrator) completeWorkflow(sessionID, streamID string) {
	var progress domain.ExecutionProgress
	o.registry.Update(sessionID, func(s *domain.ProcessorSession) {
		s.Status = domain.StatusCompleted
		s.Progress.OverallProgress = 100
		s.Touch()
		progress = s.Progress
	})
	if err := o.coord.UpdateSession(sessionID, func(s *domain.WorkflowSession) {
		s.Status = domain.StatusCompleted
	}); err != nil {
		o.log.Warn("failed to mark workflow session completed", "session_id", sessionID, "error", err)
	}
	if perr := o.publisher.WorkflowCompleted(streamID, sessionID, progress); perr != nil {
		o.errs.Handle(fault.Wrap(moduleID, fault.CodeStreamPublishFailed, "completion publish failed", perr))
	}
	o.archiveRun(sessionID, string(domain.StatusCompleted), "")
	o.log.Info("workflow completed", "session_id", sessionID, "steps", progress.CompletedSteps)
	o.teardown(sessionID)
}

func (o *Orchestrator) failWorkflow(sessionID, streamID string, stepIndex int, step string, startedAt time.Time, duration time.Duration, cause error) {
	stdErr := o.errs.Handle(fault.Wrap(moduleID, fault.CodeStepExecutionFailed,
		fmt.Sprintf("step %d failed: %s", stepIndex, stream.Truncate(step, stepNameLimit)), cause))

	o.registry.Update(sessionID, func(s *domain.ProcessorSession) {
		last := len(s.History) - 1
		if last >= 0 && s.History[last].StepIndex == stepIndex {
			s.History[last].Status = domain.StepStatusFailed
			s.History[last].FinishedAt = startedAt.Add(duration)
			s.History[last].Duration = duration
			s.History[last].Error = cause.Error()
		}
		s.Status = domain.StatusFailed
		s.Touch()
	})
	if err := o.coord.UpdateSession(sessionID, func(s *domain.WorkflowSession) {
		s.Status = domain.StatusFailed
	}); err != nil {
		o.log.Warn("failed to mark workflow session failed", "session_id", sessionID, "error", err)
	}
	o.archiveStep(sessionID, stepIndex, step, domain.StepStatusFailed, startedAt, duration, cause.Error())

	if perr := o.publisher.WorkflowFailed(streamID, sessionID, stepIndex, stdErr); perr != nil {
		o.errs.Handle(fault.Wrap(moduleID, fault.CodeStreamPublishFailed, "failure publish failed", perr))
	}
	o.archiveRun(sessionID, string(domain.StatusFailed), stdErr.Message)
	o.teardown(sessionID)
}

// teardown releases all collaborator resources for a session and removes it
// from the registry.
func (o *Orchestrator) teardown(sessionID string) {
	sess, ok := o.registry.Get(sessionID)
	if !ok {
		return
	}
	o.registry.Update(sessionID, func(s *domain.ProcessorSession) {
		s.Status = domain.StatusCleanup
	})

	if sess.StreamID != "" && o.transport != nil {
		if err := o.transport.DestroyStream(sess.StreamID); err != nil {
			o.log.Warn("failed to destroy stream", "stream_id", sess.StreamID, "error", err)
		}
	}
	if ws := o.coord.GetWorkflowSession(sess.LinkedSessionID); ws != nil && ws.ExecutorSessionID != "" {
		if err := o.executor.DestroySession(context.Background(), ws.ExecutorSessionID); err != nil {
			o.log.Warn("failed to destroy executor session", "session_id", sessionID, "error", err)
		}
	}
	if err := o.ctxmgr.DestroySession(sessionID); err != nil {
		o.log.Warn("failed to destroy session context", "session_id", sessionID, "error", err)
	}
	if err := o.coord.DestroyWorkflowSession(context.Background(), sessionID); err != nil {
		o.log.Warn("failed to destroy workflow session", "session_id", sessionID, "error", err)
	}
	o.registry.Remove(sessionID)
}

func (o *Orchestrator) archiveRun(sessionID, status, errMsg string) {
	if o.archive == nil {
		return
	}
	sess, ok := o.registry.Get(sessionID)
	if !ok {
		return
	}
	rec := store.RunRecord{
		SessionID:      sessionID,
		Status:         status,
		TotalSteps:     sess.TotalSteps,
		CompletedSteps: sess.Progress.CompletedSteps,
		StartedAt:      sess.CreatedAt,
		FinishedAt:     time.Now().UTC(),
		Error:          errMsg,
	}
	if err := o.archive.ArchiveRun(context.Background(), rec); err != nil {
		o.log.Warn("failed to archive run", "session_id", sessionID, "error", err)
	}
}

func (o *Orchestrator) archiveStep(sessionID string, stepIndex int, step, status string, startedAt time.Time, duration time.Duration, errMsg string) {
	if o.archive == nil {
		return
	}
	summary := domain.StepExecutionSummary{
		StepIndex:   stepIndex,
		StepContent: step,
		Status:      status,
		StartedAt:   startedAt,
		FinishedAt:  startedAt.Add(duration),
		Duration:    duration,
		Error:       errMsg,
	}
	if err := o.archive.ArchiveStep(context.Background(), sessionID, summary); err != nil {
		o.log.Warn("failed to archive step", "session_id", sessionID, "step_index", stepIndex, "error", err)
	}
}

func (o *Orchestrator) notFound(sessionID string) *fault.StandardError {
	return o.errs.Handle(fault.New(moduleID, fault.CodeSessionNotFound,
		fmt.Sprintf("workflow session %s not found", sessionID),
		map[string]any{"sessionId": sessionID}))
}

// PauseExecution halts step sequencing after the in-flight step and tells the
// executor to pause at the current index.
func (o *Orchestrator) PauseExecution(ctx context.Context, sessionID string) error {
	sess, ok := o.registry.Get(sessionID)
	if !ok || sess.Status.IsTerminal() {
		return o.notFound(sessionID)
	}
	if sess.Status == domain.StatusPaused {
		return nil
	}

	if !o.registry.Transition(sessionID, domain.StatusPaused) {
		return o.errs.Handle(fault.New(moduleID, fault.CodeInvalidSessionState,
			fmt.Sprintf("session %s cannot pause from %s", sessionID, sess.Status), nil))
	}
	if err := o.executor.PauseExecution(ctx, sessionID, sess.CurrentStepIndex); err != nil {
		return o.errs.Handle(fault.Wrap(moduleID, fault.CodeStepExecutionFailed,
			"executor failed to pause", err))
	}
	if perr := o.publisher.WorkflowPaused(sess.StreamID, sessionID, sess.CurrentStepIndex); perr != nil {
		o.errs.Handle(fault.Wrap(moduleID, fault.CodeStreamPublishFailed, "pause publish failed", perr))
	}
	o.log.Info("workflow paused", "session_id", sessionID, "step_index", sess.CurrentStepIndex)
	return nil
}

// ResumeExecution returns a paused session to ACTIVE and restarts the step
// loop at the current index.
func (o *Orchestrator) ResumeExecution(ctx context.Context, sessionID string) error {
	sess, ok := o.registry.Get(sessionID)
	if !ok || sess.Status.IsTerminal() {
		return o.notFound(sessionID)
	}
	if sess.Status != domain.StatusPaused {
		return o.errs.Handle(fault.New(moduleID, fault.CodeInvalidSessionState,
			fmt.Sprintf("session %s is %s, not PAUSED", sessionID, sess.Status), nil))
	}

	if !o.registry.Transition(sessionID, domain.StatusActive) {
		return o.notFound(sessionID)
	}
	if err := o.executor.ResumeExecution(ctx, sessionID, sess.CurrentStepIndex); err != nil {
		return o.errs.Handle(fault.Wrap(moduleID, fault.CodeStepExecutionFailed,
			"executor failed to resume", err))
	}
	if perr := o.publisher.WorkflowResumed(sess.StreamID, sessionID, sess.CurrentStepIndex); perr != nil {
		o.errs.Handle(fault.Wrap(moduleID, fault.CodeStreamPublishFailed, "resume publish failed", perr))
	}
	o.startLoop(sessionID)
	o.log.Info("workflow resumed", "session_id", sessionID, "step_index", sess.CurrentStepIndex)
	return nil
}

// CancelExecution aborts a workflow, tears down its collaborator resources
// and removes the session.
func (o *Orchestrator) CancelExecution(ctx context.Context, sessionID string) error {
	sess, ok := o.registry.Get(sessionID)
	if !ok || sess.Status.IsTerminal() {
		return o.notFound(sessionID)
	}

	o.registry.Update(sessionID, func(s *domain.ProcessorSession) {
		s.Status = domain.StatusCancelled
		last := len(s.History) - 1
		if last >= 0 && s.History[last].Status == domain.StepStatusRunning {
			s.History[last].Status = domain.StepStatusCancelled
		}
		s.Touch()
	})

	// Interrupt the in-flight step before asking the executor to cancel.
	o.loopMu.Lock()
	if cancel, ok := o.stepCancels[sessionID]; ok {
		cancel()
	}
	o.loopMu.Unlock()

	if err := o.executor.CancelExecution(ctx, sessionID, sess.CurrentStepIndex); err != nil {
		o.log.Warn("executor cancel failed", "session_id", sessionID, "error", err)
	}
	o.archiveRun(sessionID, string(domain.StatusCancelled), "")
	o.teardown(sessionID)
	o.log.Info("workflow cancelled", "session_id", sessionID, "step_index", sess.CurrentStepIndex)
	return nil
}

// GetExecutionProgress returns a snapshot of the session's progress.
func (o *Orchestrator) GetExecutionProgress(sessionID string) (domain.ExecutionProgress, error) {
	sess, ok := o.registry.Get(sessionID)
	if !ok {
		return domain.ExecutionProgress{}, o.notFound(sessionID)
	}
	return sess.Progress, nil
}

// GetStepHistory returns the executed-step summaries for a session.
func (o *Orchestrator) GetStepHistory(sessionID string) ([]domain.StepExecutionSummary, error) {
	sess, ok := o.registry.Get(sessionID)
	if !ok {
		return nil, o.notFound(sessionID)
	}
	return sess.History, nil
}

// HealthStatus is the orchestrator's self-report.
type HealthStatus struct {
	IsHealthy      bool     `json:"isHealthy"`
	ActiveSessions int      `json:"activeSessions"`
	TotalSessions  int      `json:"totalSessions"`
	Errors         []string `json:"errors,omitempty"`
}

// HealthCheck reports dependency wiring problems and registry consistency
// violations.
func (o *Orchestrator) HealthCheck() HealthStatus {
	var errs []string
	if o.coord == nil {
		errs = append(errs, "session coordinator not configured")
	}
	if o.ctxmgr == nil {
		errs = append(errs, "context manager not configured")
	}
	if o.executor == nil {
		errs = append(errs, "task executor not configured")
	}
	if o.publisher == nil {
		errs = append(errs, "event publisher not configured")
	}
	active := o.registry.ActiveCount()
	if active > o.cfg.MaxConcurrentSessions {
		errs = append(errs, fmt.Sprintf("active sessions (%d) exceed configured maximum (%d)", active, o.cfg.MaxConcurrentSessions))
	}
	return HealthStatus{
		IsHealthy:      len(errs) == 0,
		ActiveSessions: active,
		TotalSessions:  o.registry.Count(),
		Errors:         errs,
	}
}
