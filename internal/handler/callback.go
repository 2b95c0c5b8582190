// Package handler contains the HTTP handlers of the panelcheck API.
//
// This file implements the status callbacks the inspection backends call
// when a job finishes.
//
// Routes:
//   - POST /inspect/update-status  -> InternalStatus
//   - POST /scopito/update-status  -> ScopitoStatus
//
// Both routes are guarded by the shared callback token when one is
// configured.
package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/DukeRupert/panelcheck/internal/domain"
	"github.com/DukeRupert/panelcheck/internal/queue"
)

// CallbackHandler receives job completion reports from the backends.
type CallbackHandler struct {
	status *queue.StatusService
	logger *slog.Logger
}

// NewCallbackHandler creates a new CallbackHandler.
func NewCallbackHandler(status *queue.StatusService, logger *slog.Logger) *CallbackHandler {
	return &CallbackHandler{
		status: status,
		logger: logger,
	}
}

// RegisterRoutes registers the callback routes behind requireToken.
func (h *CallbackHandler) RegisterRoutes(mux *http.ServeMux, requireToken func(http.Handler) http.Handler) {
	mux.Handle("POST /inspect/update-status", requireToken(http.HandlerFunc(h.InternalStatus)))
	mux.Handle("POST /scopito/update-status", requireToken(http.HandlerFunc(h.ScopitoStatus)))
}

// callbackResponse is the success body of both callbacks.
type callbackResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	JobID     int64  `json:"jobId"`
	NextJobID int64  `json:"nextJobId,omitempty"`
}

type internalStatusRequest struct {
	ProjectID    *int64 `json:"projectId"`
	Status       string `json:"status"`
	ErrorMessage string `json:"errorMessage"`
}

// InternalStatus handles POST /inspect/update-status.
//
// Responses: 200 when the job was finalized, 400 for a malformed body or a
// non-terminal status, 404 when the project has no active job (including a
// repeated callback), 409 when the job is still pending and was never
// dispatched or was finalized concurrently, 500 otherwise.
func (h *CallbackHandler) InternalStatus(w http.ResponseWriter, r *http.Request) {
	const op = "handler.internal_status"

	var req internalStatusRequest
	if err := decodeJSON(r, op, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	if req.ProjectID == nil || *req.ProjectID <= 0 {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "projectId is required"))
		return
	}
	status, err := parseTerminalStatus(op, req.Status)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	h.finish(w, r, queue.StatusUpdate{
		Target:       domain.InternalTarget{ProjectID: *req.ProjectID},
		Status:       status,
		ErrorMessage: req.ErrorMessage,
	})
}

type scopitoStatusRequest struct {
	InspectionID      *int64          `json:"inspectionId"`
	Status            string          `json:"status"`
	Statistics        json.RawMessage `json:"statistics"`
	ProcessingDetails string          `json:"processingDetails"`
	ErrorMessage      string          `json:"errorMessage"`
}

type scopitoStatistics struct {
	TotalImages     *int `json:"totalImages"`
	RGBImages       *int `json:"rgbImages"`
	ThermalImages   *int `json:"thermalImages"`
	HealthyImages   *int `json:"healthyImages"`
	UnhealthyImages *int `json:"unhealthyImages"`
	ProcessedImages *int `json:"processedImages"`
}

// ScopitoStatus handles POST /scopito/update-status. Status codes are the
// same as InternalStatus, keyed by inspection id instead of project id.
func (h *CallbackHandler) ScopitoStatus(w http.ResponseWriter, r *http.Request) {
	const op = "handler.scopito_status"

	var req scopitoStatusRequest
	if err := decodeJSON(r, op, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	if req.InspectionID == nil || *req.InspectionID <= 0 {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "inspectionId is required"))
		return
	}
	status, err := parseTerminalStatus(op, req.Status)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	update := queue.StatusUpdate{
		Target:       domain.ThirdPartyTarget{InspectionID: *req.InspectionID},
		Status:       status,
		ErrorMessage: req.ErrorMessage,
	}

	hasStats := len(req.Statistics) > 0 && string(req.Statistics) != "null"
	if hasStats || req.ProcessingDetails != "" {
		stats := &domain.JobStats{ProcessingDetails: req.ProcessingDetails}
		if hasStats {
			var s scopitoStatistics
			if err := json.Unmarshal(req.Statistics, &s); err != nil {
				ErrorResponse(w, r, h.logger, domain.Invalid(op, "statistics must be an object of integer counters"))
				return
			}
			if s.TotalImages != nil && *s.TotalImages < 0 {
				ErrorResponse(w, r, h.logger, domain.Invalid(op, "statistics.totalImages must not be negative"))
				return
			}
			update.TotalImages = s.TotalImages
			stats.RGBImages = s.RGBImages
			stats.ThermalImages = s.ThermalImages
			stats.HealthyImages = s.HealthyImages
			stats.UnhealthyImages = s.UnhealthyImages
			stats.ProcessedImages = s.ProcessedImages
			stats.Raw = req.Statistics
		}
		update.Stats = stats
	}

	h.finish(w, r, update)
}

func (h *CallbackHandler) finish(w http.ResponseWriter, r *http.Request, u queue.StatusUpdate) {
	result, err := h.status.OnStatus(r.Context(), u)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	resp := callbackResponse{
		Status:  "success",
		Message: fmt.Sprintf("Inspection job %d marked %s", result.Job.ID, result.Job.Status),
		JobID:   result.Job.ID,
	}
	if result.Next != nil {
		resp.NextJobID = result.Next.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

// parseTerminalStatus accepts completed or failed in any letter case.
func parseTerminalStatus(op, raw string) (domain.JobStatus, error) {
	switch s := domain.JobStatus(strings.ToLower(strings.TrimSpace(raw))); s {
	case domain.JobStatusCompleted, domain.JobStatusFailed:
		return s, nil
	case "":
		return "", domain.Invalid(op, "status is required")
	default:
		return "", domain.Invalid(op, fmt.Sprintf("status %q must be completed or failed", raw))
	}
}
