package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/DukeRupert/panelcheck/internal/alert"
	"github.com/DukeRupert/panelcheck/internal/catalog"
	"github.com/DukeRupert/panelcheck/internal/domain"
	"github.com/DukeRupert/panelcheck/internal/jobstore"
	"github.com/DukeRupert/panelcheck/internal/metrics"
)

// Default sweep thresholds.
const (
	DefaultPendingTimeout = time.Hour
	DefaultStuckTimeout   = 2 * time.Hour
)

// ReaperConfig holds the staleness thresholds.
type ReaperConfig struct {
	// PendingTimeout is how long a job may wait in pending before operators
	// are warned. The job itself is left alone.
	PendingTimeout time.Duration

	// StuckTimeout is how long a running job may go without an update before
	// it is failed.
	StuckTimeout time.Duration
}

// Reaper runs the pending and running sweeps.
type Reaper struct {
	store    jobstore.Store
	catalog  catalog.Catalog
	notifier alert.Notifier
	advancer *Advancer
	cfg      ReaperConfig
	now      func() time.Time
	logger   *slog.Logger
}

// NewReaper creates a Reaper. Zero thresholds take the defaults.
func NewReaper(
	store jobstore.Store,
	cat catalog.Catalog,
	notifier alert.Notifier,
	advancer *Advancer,
	cfg ReaperConfig,
	logger *slog.Logger,
	opts ...Option,
) *Reaper {
	if cfg.PendingTimeout <= 0 {
		cfg.PendingTimeout = DefaultPendingTimeout
	}
	if cfg.StuckTimeout <= 0 {
		cfg.StuckTimeout = DefaultStuckTimeout
	}
	o := buildOptions(opts)
	return &Reaper{
		store:    store,
		catalog:  cat,
		notifier: notifier,
		advancer: advancer,
		cfg:      cfg,
		now:      o.now,
		logger:   logger.With("component", "reaper"),
	}
}

// SweepPending sends one backlog alert covering every pending job older than
// the pending timeout that has not been alerted on, then flags those jobs so
// later sweeps stay quiet. It returns the number of jobs flagged.
//
// If the alert cannot be sent the jobs stay unflagged and the next sweep
// tries again.
func (r *Reaper) SweepPending(ctx context.Context) (int, error) {
	now := r.now()

	counts, err := r.store.CountByStatus(ctx)
	if err != nil {
		return 0, fmt.Errorf("count jobs: %w", err)
	}
	metrics.SetQueueDepth(counts)

	stale, err := r.store.FindStalePendingUnnotified(ctx, now.Add(-r.cfg.PendingTimeout))
	if err != nil {
		return 0, fmt.Errorf("find stale pending jobs: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	ids := make([]int64, len(stale))
	oldest := stale[0].CreatedAt
	for i, job := range stale {
		ids[i] = job.ID
		if job.CreatedAt.Before(oldest) {
			oldest = job.CreatedAt
		}
	}

	backlog := alert.Backlog{
		Jobs:      stale,
		Counts:    counts,
		OldestAge: now.Sub(oldest),
		Timeout:   r.cfg.PendingTimeout,
		Now:       now,
	}
	if err := r.notifier.PendingBacklog(ctx, backlog); err != nil {
		return 0, fmt.Errorf("send pending alert: %w", err)
	}
	metrics.PendingAlertSent()

	n, err := r.store.MarkPendingNotified(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("mark pending jobs notified: %w", err)
	}

	r.logger.Warn("pending jobs past timeout",
		"jobs", len(stale),
		"flagged", n,
		"oldest_age", backlog.OldestAge.Round(time.Second).String(),
	)
	return n, nil
}

// SweepRunning fails every running job whose last update is older than the
// stuck timeout, alerts on each, and then advances the queue once. It
// returns the number of jobs failed.
func (r *Reaper) SweepRunning(ctx context.Context) (int, error) {
	now := r.now()

	stale, err := r.store.FindStaleRunning(ctx, now.Add(-r.cfg.StuckTimeout))
	if err != nil {
		return 0, fmt.Errorf("find stuck jobs: %w", err)
	}

	failed := 0
	for _, job := range stale {
		ok, err := r.failStuck(ctx, job, now)
		if err != nil {
			r.logger.Error("failed to fail stuck job", "job_id", job.ID, "error", err)
			continue
		}
		if ok {
			failed++
		}
	}

	if failed > 0 {
		next, err := r.advancer.Advance(ctx)
		if err != nil {
			r.logger.Error("failed to advance queue after sweep", "error", err)
		} else if next != nil {
			r.logger.Info("queue resumed after sweep", "job_id", next.ID)
		}
	}
	return failed, nil
}

func (r *Reaper) failStuck(ctx context.Context, job *domain.Job, now time.Time) (bool, error) {
	since := job.UpdatedAt
	if job.StartedAt != nil {
		since = *job.StartedAt
	}
	elapsed := now.Sub(since)

	msg := fmt.Sprintf("job timed out after running for %s without a status update (limit %s)",
		elapsed.Round(time.Second), r.cfg.StuckTimeout)
	fields := domain.TransitionFields{
		CompletedAt:  &now,
		ErrorMessage: &msg,
	}

	ok, err := r.store.Transition(ctx, job.ID, domain.JobStatusRunning, domain.JobStatusFailed, fields)
	if err != nil {
		return false, err
	}
	if !ok {
		// A callback finished it between the query and the update.
		return false, nil
	}

	job.Status = domain.JobStatusFailed
	fields.Apply(job)

	if err := r.catalog.SetInspectionInProgress(ctx, job.Target, false); err != nil {
		r.logger.Warn("failed to clear inspection flag", "job_id", job.ID, "error", err)
	}

	metrics.JobReaped()
	metrics.JobFinished(job.Source(), domain.JobStatusFailed, job.StartedAt, now)

	r.logger.Error("stuck job failed",
		"job_id", job.ID,
		"target", job.Target.String(),
		"elapsed", elapsed.Round(time.Second).String(),
	)

	stuck := alert.StuckJob{Job: job.Clone(), Elapsed: elapsed, Timeout: r.cfg.StuckTimeout}
	if err := r.notifier.JobStuck(ctx, stuck); err != nil {
		r.logger.Error("failed to send stuck job alert", "job_id", job.ID, "error", err)
	}
	return true, nil
}
