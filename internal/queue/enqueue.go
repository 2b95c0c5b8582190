package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/DukeRupert/panelcheck/internal/catalog"
	"github.com/DukeRupert/panelcheck/internal/domain"
	"github.com/DukeRupert/panelcheck/internal/jobstore"
	"github.com/DukeRupert/panelcheck/internal/metrics"
)

// EnqueueOption is a functional option for customizing a new job.
type EnqueueOption func(*domain.Job)

// WithCreatedAt sets the job's queue position explicitly. Imports and tests
// use it; normal requests take the store's clock.
func WithCreatedAt(t time.Time) EnqueueOption {
	return func(j *domain.Job) {
		j.CreatedAt = t
	}
}

// Enqueuer inserts new pending jobs.
type Enqueuer struct {
	store   jobstore.Store
	catalog catalog.Catalog
	logger  *slog.Logger
}

// NewEnqueuer creates an Enqueuer.
func NewEnqueuer(store jobstore.Store, cat catalog.Catalog, logger *slog.Logger) *Enqueuer {
	return &Enqueuer{
		store:   store,
		catalog: cat,
		logger:  logger.With("component", "queue"),
	}
}

// EnqueueInternal queues an in-house inspection of a local project. A
// non-positive totalImages counts the project's images of the kind the model
// consumes.
func (e *Enqueuer) EnqueueInternal(ctx context.Context, projectID int64, model string, totalImages int, opts ...EnqueueOption) (*domain.Job, error) {
	const op = "queue.enqueue_internal"

	if projectID <= 0 {
		return nil, domain.Invalid(op, "projectId must be a positive integer")
	}
	target := domain.InternalTarget{ProjectID: projectID}

	_, ok, err := e.catalog.ResolveProject(ctx, target)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to look up project")
	}
	if !ok {
		return nil, domain.NotFound(op, "project", fmt.Sprint(projectID))
	}

	if totalImages <= 0 {
		images, err := e.catalog.ListImages(ctx, projectID, domain.ImageKindForModel(model))
		if err != nil {
			return nil, domain.Internal(err, op, "failed to count project images")
		}
		totalImages = len(images)
	}

	return e.enqueue(ctx, op, target, model, totalImages, opts)
}

// EnqueueThirdParty queues an inspection on the Scopito platform.
func (e *Enqueuer) EnqueueThirdParty(ctx context.Context, inspectionID int64, model string, totalImages int, opts ...EnqueueOption) (*domain.Job, error) {
	const op = "queue.enqueue_third_party"

	if inspectionID <= 0 {
		return nil, domain.Invalid(op, "inspectionId must be a positive integer")
	}
	return e.enqueue(ctx, op, domain.ThirdPartyTarget{InspectionID: inspectionID}, model, totalImages, opts)
}

func (e *Enqueuer) enqueue(ctx context.Context, op string, target domain.Target, model string, totalImages int, opts []EnqueueOption) (*domain.Job, error) {
	if model == "" {
		return nil, domain.Invalid(op, "model is required")
	}
	if totalImages < 0 {
		totalImages = 0
	}

	job := &domain.Job{
		Target:      target,
		Model:       model,
		TotalImages: totalImages,
	}
	for _, opt := range opts {
		opt(job)
	}

	if _, err := e.store.Insert(ctx, job); err != nil {
		if errors.Is(err, jobstore.ErrActiveJobExists) {
			return nil, domain.Conflict(op, fmt.Sprintf("%s already has an inspection in progress", target))
		}
		return nil, domain.Internal(err, op, "failed to enqueue job")
	}

	if err := e.catalog.SetInspectionInProgress(ctx, target, true); err != nil {
		e.logger.Warn("failed to set inspection flag", "job_id", job.ID, "error", err)
	}

	metrics.JobEnqueued(target.Source())
	e.logger.Info("job enqueued",
		"job_id", job.ID,
		"source", target.Source(),
		"target", target.String(),
		"model", model,
		"total_images", totalImages,
	)
	return job, nil
}
