package fault

import (
	"log/slog"
)

// Handler routes normalized errors to the logging channel matching their
// severity. It is the single hook point for cross-cutting concerns such as
// metrics or alerting.
type Handler struct {
	log *slog.Logger
}

// NewHandler creates a Handler writing through the given logger.
func NewHandler(log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{log: log}
}

// Handle logs the error on the channel matching its severity and returns it
// unchanged so callers can re-throw in one expression.
func (h *Handler) Handle(err *StandardError) *StandardError {
	if err == nil {
		return nil
	}
	attrs := []any{
		"error_id", err.ID,
		"code", err.Code,
		"category", string(err.Category),
		"module", err.Module,
		"recoverable", err.Recoverable,
		"retryable", err.Retryable,
	}
	if err.Cause != nil {
		attrs = append(attrs, "cause", err.Cause.Code)
	}
	switch err.Severity {
	case SeverityCritical, SeverityHigh:
		h.log.Error(err.Message, attrs...)
	case SeverityMedium:
		h.log.Warn(err.Message, attrs...)
	default:
		h.log.Info(err.Message, attrs...)
	}
	return err
}
