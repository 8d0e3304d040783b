package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sentinelstack/sentinel-observer/internal/models"
)

// Engine is the control surface the handlers drive. The scheduler satisfies
// it; tests substitute a fake.
type Engine interface {
	Start()
	Stop()
	Status() models.ObserverStatus
	RecentAnomalies() []models.Anomaly
	PendingWorkflows() []models.Workflow
	ActivityLog(limit int) []models.ActivityLogEntry
	Approve(ctx context.Context, id, reason string) (models.Workflow, error)
	Reject(id, reason string) (models.Workflow, error)
}

// Handlers exposes the observer over HTTP.
type Handlers struct {
	logger *slog.Logger
	engine Engine
}

// NewHandlers wires the HTTP handlers to the engine.
func NewHandlers(logger *slog.Logger, engine Engine) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{logger: logger, engine: engine}
}

// Routes mounts every observer endpoint on the router.
func (h *Handlers) Routes(r chi.Router) {
	r.Get("/health", h.handleHealth)

	r.Route("/api/observer", func(r chi.Router) {
		r.Post("/start", h.handleStart)
		r.Post("/stop", h.handleStop)
		r.Get("/status", h.handleStatus)
		r.Get("/anomalies", h.handleAnomalies)
		r.Get("/activity", h.handleActivity)
		r.Get("/workflows/pending", h.handlePendingWorkflows)
		r.Post("/workflows/{id}/approve", h.handleApprove)
		r.Post("/workflows/{id}/reject", h.handleReject)
	})
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) handleStart(w http.ResponseWriter, r *http.Request) {
	h.engine.Start()
	writeJSON(w, http.StatusOK, map[string]string{"state": "running"})
}

func (h *Handlers) handleStop(w http.ResponseWriter, r *http.Request) {
	h.engine.Stop()
	writeJSON(w, http.StatusOK, map[string]string{"state": "stopped"})
}

func (h *Handlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Status())
}

func (h *Handlers) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	anomalies := h.engine.RecentAnomalies()
	if limit := queryLimit(r, 0); limit > 0 && len(anomalies) > limit {
		anomalies = anomalies[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"anomalies": anomalies,
		"count":     len(anomalies),
	})
}

func (h *Handlers) handleActivity(w http.ResponseWriter, r *http.Request) {
	entries := h.engine.ActivityLog(queryLimit(r, 50))
	writeJSON(w, http.StatusOK, map[string]any{
		"activity": entries,
		"count":    len(entries),
	})
}

func (h *Handlers) handlePendingWorkflows(w http.ResponseWriter, r *http.Request) {
	pending := h.engine.PendingWorkflows()
	writeJSON(w, http.StatusOK, map[string]any{
		"workflows": pending,
		"count":     len(pending),
	})
}

func queryLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

type decisionRequest struct {
	Reason string `json:"reason"`
}

func (h *Handlers) handleApprove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	reason := decodeReason(r, "approved via API")

	// An approved workflow runs to completion even if the approver's
	// connection drops mid-execution.
	wf, err := h.engine.Approve(context.WithoutCancel(r.Context()), id, reason)
	if err != nil {
		h.writeError(w, "approve", id, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (h *Handlers) handleReject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	reason := decodeReason(r, "rejected via API")

	wf, err := h.engine.Reject(id, reason)
	if err != nil {
		h.writeError(w, "reject", id, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func decodeReason(r *http.Request, fallback string) string {
	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.Reason != "" {
		return req.Reason
	}
	return fallback
}

func (h *Handlers) writeError(w http.ResponseWriter, op, id string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrInvalidTransition):
		status = http.StatusConflict
	}
	h.logger.Warn("decision request failed",
		slog.String("op", op),
		slog.String("workflow_id", id),
		slog.Any("error", err))
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
