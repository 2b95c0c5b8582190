package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/DukeRupert/panelcheck/internal/alert"
	"github.com/DukeRupert/panelcheck/internal/catalog"
	"github.com/DukeRupert/panelcheck/internal/domain"
	"github.com/DukeRupert/panelcheck/internal/inspector"
	"github.com/DukeRupert/panelcheck/internal/jobstore"
	"github.com/DukeRupert/panelcheck/internal/metrics"
)

// ErrDispatchFailed is wrapped by every error Dispatch returns after it has
// failed the job.
var ErrDispatchFailed = errors.New("dispatch failed")

// Dispatcher hands claimed jobs to their inspection backend.
type Dispatcher struct {
	store    jobstore.Store
	catalog  catalog.Catalog
	backends inspector.Router
	notifier alert.Notifier
	timeout  time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher. A zero timeout uses
// inspector.DefaultTimeout.
func NewDispatcher(
	store jobstore.Store,
	cat catalog.Catalog,
	backends inspector.Router,
	notifier alert.Notifier,
	timeout time.Duration,
	logger *slog.Logger,
	opts ...Option,
) *Dispatcher {
	if timeout <= 0 {
		timeout = inspector.DefaultTimeout
	}
	o := buildOptions(opts)
	return &Dispatcher{
		store:    store,
		catalog:  cat,
		backends: backends,
		notifier: notifier,
		timeout:  timeout,
		now:      o.now,
		logger:   logger.With("component", "dispatcher"),
	}
}

// Dispatch submits a running job to its backend and returns once the backend
// has accepted it. Completion arrives later through a status callback.
//
// On failure the job is moved to failed, one alert is sent and the error is
// returned. Dispatch never claims another job; draining is left to the
// caller.
func (d *Dispatcher) Dispatch(ctx context.Context, job *domain.Job) error {
	backend, err := d.backends.For(job.Source())
	if err != nil {
		return d.fail(ctx, job, "", "no_backend", err)
	}

	req := inspector.Request{
		JobID:  job.ID,
		Target: job.Target,
		Model:  job.Model,
	}

	internal, isInternal := job.Target.(domain.InternalTarget)
	if isInternal {
		kind := domain.ImageKindForModel(job.Model)
		images, err := d.catalog.ListImages(ctx, internal.ProjectID, kind)
		if err != nil {
			return d.fail(ctx, job, backend.Name(), "catalog", fmt.Errorf("list %s images: %w", kind, err))
		}
		if len(images) == 0 {
			return d.fail(ctx, job, backend.Name(), "no_images",
				fmt.Errorf("no %s images available for model %s", kind, job.Model))
		}
		req.ImageKind = kind
		req.Images = images
	}

	submitCtx, cancel := context.WithTimeout(ctx, d.timeout)
	err = backend.Submit(submitCtx, req)
	cancel()
	if err != nil {
		return d.fail(ctx, job, backend.Name(), inspector.Reason(err), err)
	}

	if isInternal {
		n, err := d.catalog.MarkQueued(ctx, internal.ProjectID, req.ImageKind)
		if err != nil {
			d.logger.Warn("failed to mark images queued",
				"job_id", job.ID,
				"project_id", internal.ProjectID,
				"error", err,
			)
		} else {
			d.logger.Debug("images queued", "job_id", job.ID, "count", n)
		}
	}

	d.logger.Info("job dispatched",
		"job_id", job.ID,
		"backend", backend.Name(),
		"target", job.Target.String(),
		"model", job.Model,
		"images", len(req.Images),
	)
	return nil
}

func (d *Dispatcher) fail(ctx context.Context, job *domain.Job, backend, reason string, cause error) error {
	now := d.now()
	msg := fmt.Sprintf("dispatch failed: %v", cause)
	fields := domain.TransitionFields{
		CompletedAt:  &now,
		ErrorMessage: &msg,
	}

	ok, err := d.store.Transition(ctx, job.ID, domain.JobStatusRunning, domain.JobStatusFailed, fields)
	if err != nil {
		d.logger.Error("failed to record dispatch failure",
			"job_id", job.ID,
			"cause", cause,
			"error", err,
		)
		return fmt.Errorf("%w: job %d: %w (recording failure: %v)", ErrDispatchFailed, job.ID, cause, err)
	}
	if !ok {
		// Finalized by someone else; they own the alert.
		d.logger.Warn("dispatch failed for job no longer running",
			"job_id", job.ID,
			"cause", cause,
		)
		return fmt.Errorf("%w: job %d: %w", ErrDispatchFailed, job.ID, cause)
	}

	job.Status = domain.JobStatusFailed
	fields.Apply(job)

	if err := d.catalog.SetInspectionInProgress(ctx, job.Target, false); err != nil {
		d.logger.Warn("failed to clear inspection flag", "job_id", job.ID, "error", err)
	}

	metrics.DispatchFailed(job.Source(), reason)
	metrics.JobFinished(job.Source(), domain.JobStatusFailed, job.StartedAt, now)

	d.logger.Error("job dispatch failed",
		"job_id", job.ID,
		"backend", backend,
		"target", job.Target.String(),
		"model", job.Model,
		"reason", reason,
		"error", cause,
	)

	failure := alert.DispatchFailure{Job: job.Clone(), Backend: backend, Reason: cause.Error()}
	if err := d.notifier.DispatchFailed(ctx, failure); err != nil {
		d.logger.Error("failed to send dispatch alert", "job_id", job.ID, "error", err)
	}

	return fmt.Errorf("%w: job %d: %w", ErrDispatchFailed, job.ID, cause)
}

// Advancer claims the next job and dispatches it, once.
type Advancer struct {
	coordinator *Coordinator
	dispatcher  *Dispatcher
	logger      *slog.Logger
}

// NewAdvancer creates an Advancer.
func NewAdvancer(coordinator *Coordinator, dispatcher *Dispatcher, logger *slog.Logger) *Advancer {
	return &Advancer{
		coordinator: coordinator,
		dispatcher:  dispatcher,
		logger:      logger.With("component", "queue"),
	}
}

// Advance claims at most one job and dispatches it. It returns the claimed
// job (nil when nothing was claimed) and the dispatch error, if any. A failed
// dispatch is not followed by another claim.
//
// Claim and dispatch both run detached from ctx cancellation. Callers reach
// here after committing a state change, and nothing else claims on their
// behalf if a hung-up request aborts the claim.
func (a *Advancer) Advance(ctx context.Context) (*domain.Job, error) {
	ctx = context.WithoutCancel(ctx)

	job, err := a.coordinator.ClaimNext(ctx)
	if err != nil {
		return nil, fmt.Errorf("claim next job: %w", err)
	}
	if job == nil {
		return nil, nil
	}
	if err := a.dispatcher.Dispatch(ctx, job); err != nil {
		return job, err
	}
	return job, nil
}
