package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/DukeRupert/panelcheck/internal/catalog"
	"github.com/DukeRupert/panelcheck/internal/domain"
	"github.com/DukeRupert/panelcheck/internal/jobstore"
	"github.com/DukeRupert/panelcheck/internal/metrics"
)

// StatusUpdate is a completion report from an inspection backend.
type StatusUpdate struct {
	Target       domain.Target
	Status       domain.JobStatus // completed or failed
	TotalImages  *int             // overrides the enqueue-time total when set
	Stats        *domain.JobStats
	ErrorMessage string
}

// StatusResult is the outcome of a status update.
type StatusResult struct {
	Job  *domain.Job // the finalized job
	Next *domain.Job // the job claimed afterwards, nil if none
}

// StatusService finalizes running jobs on backend callbacks and moves the
// queue along.
type StatusService struct {
	store    jobstore.Store
	catalog  catalog.Catalog
	advancer *Advancer
	now      func() time.Time
	logger   *slog.Logger
}

// NewStatusService creates a StatusService.
func NewStatusService(store jobstore.Store, cat catalog.Catalog, advancer *Advancer, logger *slog.Logger, opts ...Option) *StatusService {
	o := buildOptions(opts)
	return &StatusService{
		store:    store,
		catalog:  cat,
		advancer: advancer,
		now:      o.now,
		logger:   logger.With("component", "status"),
	}
}

// OnStatus finalizes the active job bound to the update's target.
//
// Errors:
// - EINVALID: missing target or a status other than completed/failed
// - ENOTFOUND: the target has no pending or running job
// - ECONFLICT: the job was never dispatched, or was finalized concurrently
// - EINTERNAL: the store failed
//
// Once the job is finalized the next pending job is claimed and dispatched.
// Failures after that point are logged, not returned.
func (s *StatusService) OnStatus(ctx context.Context, u StatusUpdate) (*StatusResult, error) {
	const op = "queue.on_status"

	if u.Target == nil {
		return nil, domain.Invalid(op, "target is required")
	}
	if !u.Status.IsTerminal() {
		return nil, domain.Invalid(op, fmt.Sprintf("status must be %s or %s", domain.JobStatusCompleted, domain.JobStatusFailed))
	}

	job, err := s.store.FindActiveByTarget(ctx, u.Target)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to look up job")
	}
	if job == nil {
		return nil, domain.NotFound(op, "active inspection job for", u.Target.String())
	}
	if job.Status == domain.JobStatusPending {
		return nil, domain.Conflict(op, fmt.Sprintf("job %d has not been dispatched yet", job.ID))
	}

	now := s.now()
	fields := domain.TransitionFields{
		CompletedAt: &now,
		TotalImages: u.TotalImages,
	}
	if u.Stats != nil {
		stats := *u.Stats
		if stats.ProcessingEfficiency == nil {
			total := job.TotalImages
			if u.TotalImages != nil {
				total = *u.TotalImages
			}
			if eff, ok := domain.ComputeEfficiency(stats.ProcessedImages, total); ok {
				stats.ProcessingEfficiency = &eff
			}
		}
		fields.Stats = &stats
	}
	if u.Status == domain.JobStatusFailed && u.ErrorMessage != "" {
		msg := u.ErrorMessage
		fields.ErrorMessage = &msg
	}

	ok, err := s.store.Transition(ctx, job.ID, domain.JobStatusRunning, u.Status, fields)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to update job")
	}
	if !ok {
		return nil, domain.Conflict(op, fmt.Sprintf("job %d was already finalized", job.ID))
	}

	job.Status = u.Status
	fields.Apply(job)
	job.UpdatedAt = now
	metrics.JobFinished(job.Source(), u.Status, job.StartedAt, now)

	s.logger.Info("job finalized",
		"job_id", job.ID,
		"status", u.Status,
		"target", u.Target.String(),
	)

	// The job is final; follow-up work must not die with the callback request.
	ctx = context.WithoutCancel(ctx)
	s.releaseTarget(ctx, job)

	next, err := s.advancer.Advance(ctx)
	if err != nil {
		s.logger.Error("failed to advance queue", "after_job_id", job.ID, "error", err)
	}

	return &StatusResult{Job: job, Next: next}, nil
}

// releaseTarget clears the project's in-progress flag and, on success,
// settles images that were queued for this inspection.
func (s *StatusService) releaseTarget(ctx context.Context, job *domain.Job) {
	if err := s.catalog.SetInspectionInProgress(ctx, job.Target, false); err != nil {
		s.logger.Warn("failed to clear inspection flag", "job_id", job.ID, "error", err)
	}
	if job.Status != domain.JobStatusCompleted {
		return
	}

	n, err := s.catalog.ReconcileQueuedImages(ctx, job.Target)
	if err != nil {
		s.logger.Warn("failed to reconcile queued images", "job_id", job.ID, "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("queued images marked healthy", "job_id", job.ID, "count", n)
	}
}
