// Package api exposes the workflow control surface over HTTP and bridges
// stream subscriptions onto WebSocket connections.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/avelis/stepstream/internal/fault"
	"github.com/avelis/stepstream/internal/orchestrator"
	"github.com/avelis/stepstream/internal/store"
)

// maxRequestBodySize caps workflow submissions (1MB).
const maxRequestBodySize = 1 << 20

// Handler serves the workflow REST API.
type Handler struct {
	orch *orchestrator.Orchestrator
	repo store.Repository
	log  *slog.Logger
}

// NewHandler creates the API handler. repo may be nil when history is
// disabled.
func NewHandler(orch *orchestrator.Orchestrator, repo store.Repository, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{orch: orch, repo: repo, log: log}
}

// RegisterRoutes mounts the workflow API.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/workflows", func(r chi.Router) {
		r.Post("/", h.handleSubmit)
		r.Get("/", h.handleListRuns)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Post("/pause", h.handlePause)
			r.Post("/resume", h.handleResume)
			r.Post("/cancel", h.handleCancel)
			r.Get("/progress", h.handleProgress)
			r.Get("/history", h.handleHistory)
		})
	})
	r.Get("/api/orchestrator/health", h.handleHealth)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req orchestrator.ProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, fault.New("api", fault.CodeInvalidSteps, "invalid request body", nil))
		return
	}

	resp, err := h.orch.ProcessSteps(r.Context(), req)
	if err != nil {
		h.writeFaultOr500(w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, resp)
}

func (h *Handler) handlePause(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := h.orch.PauseExecution(r.Context(), sessionID); err != nil {
		h.writeFaultOr500(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"sessionId": sessionID, "status": "paused"})
}

func (h *Handler) handleResume(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := h.orch.ResumeExecution(r.Context(), sessionID); err != nil {
		h.writeFaultOr500(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"sessionId": sessionID, "status": "resumed"})
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := h.orch.CancelExecution(r.Context(), sessionID); err != nil {
		h.writeFaultOr500(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"sessionId": sessionID, "status": "cancelled"})
}

func (h *Handler) handleProgress(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	progress, err := h.orch.GetExecutionProgress(sessionID)
	if err != nil {
		h.writeFaultOr500(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, progress)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	history, err := h.orch.GetStepHistory(sessionID)
	if err != nil {
		h.writeFaultOr500(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, history)
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		h.writeJSON(w, http.StatusOK, []store.RunRecord{})
		return
	}
	runs, err := h.repo.ListRecentRuns(r.Context(), 50)
	if err != nil {
		h.log.Error("failed to list runs", "error", err)
		http.Error(w, "failed to list runs", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []store.RunRecord{}
	}
	h.writeJSON(w, http.StatusOK, runs)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	health := h.orch.HealthCheck()
	status := http.StatusOK
	if !health.IsHealthy {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, health)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Debug("failed to encode response", "error", err)
	}
}

func (h *Handler) writeFaultOr500(w http.ResponseWriter, err error) {
	var std *fault.StandardError
	if errors.As(err, &std) {
		h.writeError(w, std)
		return
	}
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func (h *Handler) writeError(w http.ResponseWriter, std *fault.StandardError) {
	status := http.StatusInternalServerError
	switch {
	case std.Code == fault.CodeSessionNotFound:
		status = http.StatusNotFound
	case std.Code == fault.CodeConcurrentLimitExceeded:
		status = http.StatusTooManyRequests
	case std.Category == fault.CategoryValidation:
		status = http.StatusBadRequest
	case std.Category == fault.CategoryIntegration:
		status = http.StatusBadGateway
	}
	h.writeJSON(w, status, map[string]any{"error": std})
}
