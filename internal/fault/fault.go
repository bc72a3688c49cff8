// Package fault defines the structured error taxonomy shared across the
// orchestrator and the streaming pipeline. Every error that crosses a module
// boundary is normalized to a StandardError exactly once, at the point of
// first detection.
package fault

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Category groups error codes by the kind of failure they describe.
type Category string

const (
	// CategoryValidation marks bad input; never retried, never recoverable.
	CategoryValidation Category = "VALIDATION"
	// CategoryExecution marks step or session lifecycle failures.
	CategoryExecution Category = "EXECUTION"
	// CategorySystem marks capacity or dependency failures requiring operator attention.
	CategorySystem Category = "SYSTEM"
	// CategoryIntegration marks streaming and event-transport failures.
	CategoryIntegration Category = "INTEGRATION"
)

// Severity ranks how urgently an error needs attention.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Error codes recognized by the classification tables. Codes outside this set
// fall back to defaultClassification.
const (
	CodeInvalidSteps       = "INVALID_STEPS"
	CodeStepCountExceeded  = "STEP_COUNT_EXCEEDED"
	CodeStepContentTooLong = "STEP_CONTENT_TOO_LONG"
	CodeMissingConfig      = "MISSING_CONFIG"
	CodeSessionExists      = "SESSION_ALREADY_EXISTS"

	CodeSessionNotFound       = "WORKFLOW_SESSION_NOT_FOUND"
	CodeSessionCreationFailed = "WORKFLOW_SESSION_CREATION_FAILED"
	CodeStepExecutionFailed   = "STEP_EXECUTION_FAILED"
	CodeStepExecutionTimeout  = "STEP_EXECUTION_TIMEOUT"
	CodeWorkflowCancelled     = "WORKFLOW_CANCELLED"
	CodeInvalidSessionState   = "INVALID_SESSION_STATE"

	CodeConcurrentLimitExceeded = "CONCURRENT_LIMIT_EXCEEDED"
	CodeModuleInitFailed        = "MODULE_INITIALIZATION_FAILED"
	CodeDependencyUnresolved    = "DEPENDENCY_UNRESOLVED"

	CodeStreamCreationFailed = "STREAM_CREATION_FAILED"
	CodeStreamPublishFailed  = "STREAM_PUBLISH_FAILED"
	CodeEventDeliveryFailed  = "EVENT_DELIVERY_FAILED"
	CodeReconnectionFailed   = "RECONNECTION_FAILED"
)

// classification is one row of the code lookup tables.
type classification struct {
	category    Category
	severity    Severity
	recoverable bool
	retryable   bool
	action      string
}

var defaultClassification = classification{
	category:    CategoryExecution,
	severity:    SeverityMedium,
	recoverable: false,
	retryable:   false,
	action:      "Inspect logs for the underlying cause",
}

var classifications = map[string]classification{
	CodeInvalidSteps:       {CategoryValidation, SeverityLow, false, false, "Provide a non-empty list of steps"},
	CodeStepCountExceeded:  {CategoryValidation, SeverityLow, false, false, "Reduce the number of steps in the workflow"},
	CodeStepContentTooLong: {CategoryValidation, SeverityLow, false, false, "Shorten the offending step description"},
	CodeMissingConfig:      {CategoryValidation, SeverityLow, false, false, "Include a workflow configuration in the request"},
	CodeSessionExists:      {CategoryValidation, SeverityLow, false, false, "Use a unique session id or destroy the existing session"},

	CodeSessionNotFound:       {CategoryExecution, SeverityMedium, false, false, "Verify the session id; the session may have completed or been cancelled"},
	CodeSessionCreationFailed: {CategoryExecution, SeverityCritical, true, true, "Retry session creation; check collaborator health if it persists"},
	CodeStepExecutionFailed:   {CategoryExecution, SeverityHigh, true, true, "Review the failed step; resubmit the workflow after fixing it"},
	CodeStepExecutionTimeout:  {CategoryExecution, SeverityHigh, true, true, "Retry the workflow; consider simplifying the step"},
	CodeWorkflowCancelled:     {CategoryExecution, SeverityLow, false, false, "No action required; the workflow was cancelled on request"},
	CodeInvalidSessionState:   {CategoryExecution, SeverityMedium, false, false, "The session is in a terminal state; submit a new workflow"},

	CodeConcurrentLimitExceeded: {CategorySystem, SeverityCritical, false, true, "Wait for an active session to finish before retrying"},
	CodeModuleInitFailed:        {CategorySystem, SeverityCritical, false, false, "Check collaborator availability and restart the service"},
	CodeDependencyUnresolved:    {CategorySystem, SeverityCritical, false, false, "A required collaborator is missing; fix the service wiring"},

	CodeStreamCreationFailed: {CategoryIntegration, SeverityMedium, true, true, "Retry with streaming enabled or run without a stream"},
	CodeStreamPublishFailed:  {CategoryIntegration, SeverityMedium, true, true, "Check the stream transport; events may be delayed"},
	CodeEventDeliveryFailed:  {CategoryIntegration, SeverityMedium, true, true, "Check the stream transport; events may be delayed"},
	CodeReconnectionFailed:   {CategoryIntegration, SeverityMedium, true, true, "Re-establish the stream connection manually"},
}

func classify(code string) classification {
	if c, ok := classifications[code]; ok {
		return c
	}
	return defaultClassification
}

// Categorize returns the category for an error code.
func Categorize(code string) Category { return classify(code).category }

// SeverityOf returns the severity for an error code.
func SeverityOf(code string) Severity { return classify(code).severity }

// IsRecoverable reports whether errors with this code leave the system in a
// state it can recover from without operator intervention.
func IsRecoverable(code string) bool { return classify(code).recoverable }

// IsRetryable reports whether the failed operation may be retried as-is.
func IsRetryable(code string) bool { return classify(code).retryable }

// SuggestedAction returns a human-readable remediation hint for a code.
func SuggestedAction(code string) string { return classify(code).action }

// StandardError is the normalized error shape propagated across module
// boundaries. It is immutable after creation.
type StandardError struct {
	ID              string         `json:"id"`
	Category        Category       `json:"category"`
	Severity        Severity       `json:"severity"`
	Code            string         `json:"code"`
	Message         string         `json:"message"`
	Details         map[string]any `json:"details,omitempty"`
	Cause           *StandardError `json:"cause,omitempty"`
	Timestamp       time.Time      `json:"timestamp"`
	Module          string         `json:"moduleId"`
	Recoverable     bool           `json:"recoverable"`
	Retryable       bool           `json:"retryable"`
	SuggestedAction string         `json:"suggestedAction"`
}

// Error implements the error interface.
func (e *StandardError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s/%s] %s: %s: %s", e.Category, e.Severity, e.Code, e.Message, e.Cause.Error())
	}
	return fmt.Sprintf("[%s/%s] %s: %s", e.Category, e.Severity, e.Code, e.Message)
}

// Unwrap exposes the cause chain to errors.Is/As.
func (e *StandardError) Unwrap() error {
	if e.Cause == nil {
		return nil
	}
	return e.Cause
}

// New builds a StandardError for the given module and code, consulting the
// classification tables for everything the caller does not supply.
func New(module, code, message string, details map[string]any) *StandardError {
	c := classify(code)
	return &StandardError{
		ID:              uuid.NewString(),
		Category:        c.category,
		Severity:        c.severity,
		Code:            code,
		Message:         message,
		Details:         details,
		Timestamp:       time.Now().UTC(),
		Module:          module,
		Recoverable:     c.recoverable,
		Retryable:       c.retryable,
		SuggestedAction: c.action,
	}
}

// Wrap normalizes an arbitrary error to a StandardError. It is idempotent: a
// StandardError anywhere in err's chain is returned unchanged rather than
// double-wrapped. A nil err yields nil.
func Wrap(module, code, message string, err error) *StandardError {
	if err == nil {
		return nil
	}
	var std *StandardError
	if errors.As(err, &std) {
		return std
	}
	wrapped := New(module, code, message, map[string]any{"error": err.Error()})
	return wrapped
}

// Chain builds a StandardError whose cause is another StandardError, keeping
// the original classification visible through the wrapping chain.
func Chain(module, code, message string, cause *StandardError) *StandardError {
	e := New(module, code, message, nil)
	e.Cause = cause
	return e
}
