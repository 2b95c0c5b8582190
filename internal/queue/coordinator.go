// Package queue drives inspection jobs through their lifecycle.
//
// Jobs wait in a FIFO of pending rows. At most one job runs at a time:
// Coordinator.ClaimNext is the only code path that starts a job, and every
// caller that wants the queue to move (enqueue, status callbacks, the stuck
// job sweep) goes through it. A claimed job is handed to its backend by the
// Dispatcher, and finished later by a status callback or the Reaper.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/DukeRupert/panelcheck/internal/domain"
	"github.com/DukeRupert/panelcheck/internal/jobstore"
	"github.com/DukeRupert/panelcheck/internal/metrics"
)

// Option configures the queue services.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock sets the clock used for startedAt, completedAt and staleness.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// errNothingToClaim aborts the claim transaction without writing.
var errNothingToClaim = errors.New("nothing to claim")

// Coordinator claims the next pending job.
type Coordinator struct {
	store  jobstore.Store
	now    func() time.Time
	logger *slog.Logger
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(store jobstore.Store, logger *slog.Logger, opts ...Option) *Coordinator {
	o := buildOptions(opts)
	return &Coordinator{
		store:  store,
		now:    o.now,
		logger: logger.With("component", "queue"),
	}
}

// ClaimNext moves the oldest pending job to running and returns it. It
// returns nil when a job is already running or nothing is pending.
//
// Concurrent callers are serialized by the store's claim transaction, so at
// most one of them can observe "nothing running" and claim.
func (c *Coordinator) ClaimNext(ctx context.Context) (*domain.Job, error) {
	var claimed *domain.Job

	err := c.store.InClaimTx(ctx, func(tx jobstore.Tx) error {
		running, err := tx.FindRunning(ctx)
		if err != nil {
			return fmt.Errorf("find running job: %w", err)
		}
		if running != nil {
			return errNothingToClaim
		}

		next, err := tx.FindOldestPending(ctx)
		if err != nil {
			return fmt.Errorf("find oldest pending job: %w", err)
		}
		if next == nil {
			return errNothingToClaim
		}

		now := c.now()
		fields := domain.TransitionFields{
			StartedAt:                &now,
			ResetPendingNotification: true,
		}
		ok, err := tx.Transition(ctx, next.ID, domain.JobStatusPending, domain.JobStatusRunning, fields)
		if err != nil {
			return fmt.Errorf("claim job %d: %w", next.ID, err)
		}
		if !ok {
			return errNothingToClaim
		}

		next.Status = domain.JobStatusRunning
		fields.Apply(next)
		next.UpdatedAt = now
		claimed = next
		return nil
	})
	if errors.Is(err, errNothingToClaim) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	metrics.JobClaimed(claimed.Source())
	c.logger.Info("job claimed",
		"job_id", claimed.ID,
		"source", claimed.Source(),
		"target", claimed.Target.String(),
		"model", claimed.Model,
	)
	return claimed, nil
}

// Snapshot is a point-in-time view of the queue.
type Snapshot struct {
	Counts           map[domain.JobStatus]int
	Running          *domain.Job
	OldestPending    *domain.Job
	OldestPendingAge time.Duration
}

// Snapshot reads the queue state and publishes the depth gauges.
func (c *Coordinator) Snapshot(ctx context.Context) (Snapshot, error) {
	counts, err := c.store.CountByStatus(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("count jobs: %w", err)
	}
	metrics.SetQueueDepth(counts)

	running, err := c.store.FindRunning(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("find running job: %w", err)
	}
	oldest, err := c.store.FindOldestPending(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("find oldest pending job: %w", err)
	}

	snap := Snapshot{Counts: counts, Running: running, OldestPending: oldest}
	if oldest != nil {
		snap.OldestPendingAge = c.now().Sub(oldest.CreatedAt)
	}
	return snap, nil
}
