package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/DukeRupert/panelcheck/internal/domain"
	"github.com/DukeRupert/panelcheck/internal/jobstore"
	"github.com/DukeRupert/panelcheck/internal/queue"
)

// JobHandler starts inspections and reports queue state.
type JobHandler struct {
	enqueuer    *queue.Enqueuer
	advancer    *queue.Advancer
	coordinator *queue.Coordinator
	jobs        jobstore.Store
	logger      *slog.Logger
}

// NewJobHandler creates a new JobHandler.
func NewJobHandler(
	enqueuer *queue.Enqueuer,
	advancer *queue.Advancer,
	coordinator *queue.Coordinator,
	jobs jobstore.Store,
	logger *slog.Logger,
) *JobHandler {
	return &JobHandler{
		enqueuer:    enqueuer,
		advancer:    advancer,
		coordinator: coordinator,
		jobs:        jobs,
		logger:      logger,
	}
}

// RegisterRoutes registers job routes. Starting an inspection goes through
// limit.
//
// Routes:
// - POST /inspect/start     -> Start
// - GET  /inspect/queue     -> Queue
// - GET  /inspect/jobs/{id} -> Show
func (h *JobHandler) RegisterRoutes(mux *http.ServeMux, limit func(http.Handler) http.Handler) {
	mux.Handle("POST /inspect/start", limit(http.HandlerFunc(h.Start)))
	mux.HandleFunc("GET /inspect/queue", h.Queue)
	mux.HandleFunc("GET /inspect/jobs/{id}", h.Show)
}

type startRequest struct {
	Source       string `json:"source"`
	ProjectID    int64  `json:"projectId"`
	InspectionID int64  `json:"inspectionId"`
	Model        string `json:"model"`
	TotalImages  int    `json:"totalImages"`
}

type startResponse struct {
	Status  string   `json:"status"`
	Message string   `json:"message"`
	JobID   int64    `json:"jobId"`
	Job     *JobView `json:"job"`
}

// Start handles POST /inspect/start. The new job is queued and the queue is
// advanced once, so an idle queue dispatches it immediately.
func (h *JobHandler) Start(w http.ResponseWriter, r *http.Request) {
	const op = "handler.start_inspection"

	var req startRequest
	if err := decodeJSON(r, op, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	source, err := resolveSource(op, req)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	model := strings.ToUpper(strings.TrimSpace(req.Model))
	var job *domain.Job
	switch source {
	case domain.JobSourceInternal:
		job, err = h.enqueuer.EnqueueInternal(r.Context(), req.ProjectID, model, req.TotalImages)
	case domain.JobSourceThirdParty:
		job, err = h.enqueuer.EnqueueThirdParty(r.Context(), req.InspectionID, model, req.TotalImages)
	}
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	if _, err := h.advancer.Advance(r.Context()); err != nil {
		if errors.Is(err, queue.ErrDispatchFailed) {
			h.logger.Warn("dispatch after enqueue failed", "job_id", job.ID, "error", err)
		} else {
			h.logger.Error("failed to advance queue after enqueue", "job_id", job.ID, "error", err)
		}
	}

	// Re-read so the response reflects a dispatch that just happened.
	if current, err := h.jobs.Get(r.Context(), job.ID); err == nil {
		job = current
	}

	writeJSON(w, http.StatusCreated, startResponse{
		Status:  "success",
		Message: fmt.Sprintf("Inspection job %d is %s", job.ID, job.Status),
		JobID:   job.ID,
		Job:     newJobView(job),
	})
}

// resolveSource picks the backend from the explicit source, or from which
// reference the request carries.
func resolveSource(op string, req startRequest) (domain.JobSource, error) {
	source := domain.JobSource(strings.ToUpper(strings.TrimSpace(req.Source)))
	switch {
	case source == "" && req.ProjectID > 0 && req.InspectionID > 0:
		return "", domain.Invalid(op, "set either projectId or inspectionId, not both")
	case source == "" && req.ProjectID > 0:
		return domain.JobSourceInternal, nil
	case source == "" && req.InspectionID > 0:
		return domain.JobSourceThirdParty, nil
	case source == "":
		return "", domain.Invalid(op, "projectId or inspectionId is required")
	case !source.IsValid():
		return "", domain.Invalid(op, fmt.Sprintf("source %q must be %s or %s", req.Source, domain.JobSourceInternal, domain.JobSourceThirdParty))
	}
	return source, nil
}

type queueResponse struct {
	Counts                  map[string]int `json:"counts"`
	Running                 *JobView       `json:"running"`
	OldestPending           *JobView       `json:"oldestPending"`
	OldestPendingAgeSeconds int64          `json:"oldestPendingAgeSeconds"`
}

// Queue handles GET /inspect/queue.
func (h *JobHandler) Queue(w http.ResponseWriter, r *http.Request) {
	snap, err := h.coordinator.Snapshot(r.Context())
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Internal(err, "handler.queue", "failed to read queue"))
		return
	}

	counts := make(map[string]int, len(domain.AllJobStatuses))
	for _, s := range domain.AllJobStatuses {
		counts[s.String()] = snap.Counts[s]
	}
	writeJSON(w, http.StatusOK, queueResponse{
		Counts:                  counts,
		Running:                 newJobView(snap.Running),
		OldestPending:           newJobView(snap.OldestPending),
		OldestPendingAgeSeconds: int64(snap.OldestPendingAge.Seconds()),
	})
}

// Show handles GET /inspect/jobs/{id}.
func (h *JobHandler) Show(w http.ResponseWriter, r *http.Request) {
	const op = "handler.show_job"

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "job id must be a positive integer"))
		return
	}

	job, err := h.jobs.Get(r.Context(), id)
	if errors.Is(err, jobstore.ErrNotFound) {
		ErrorResponse(w, r, h.logger, domain.NotFound(op, "inspection job", r.PathValue("id")))
		return
	}
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Internal(err, op, "failed to load job"))
		return
	}
	writeJSON(w, http.StatusOK, newJobView(job))
}
