// Package jobstore persists inspection jobs and their state transitions.
//
// Two implementations are provided:
// - PostgresStore: the production store, backed by the inspection_jobs table
// - MemoryStore: an in-process store used by tests and local development
//
// Every status change goes through Transition, a conditional update that
// succeeds only while the row still holds the expected prior status.
package jobstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DukeRupert/panelcheck/internal/domain"
)

var (
	// ErrNotFound is returned by Get when no job has the requested id.
	ErrNotFound = errors.New("inspection job not found")

	// ErrActiveJobExists is returned by Insert when the target already has a
	// pending or running job.
	ErrActiveJobExists = errors.New("target already has an active inspection job")

	// ErrInvalidTransition is returned when a caller asks for a status change
	// the state machine does not allow.
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// Tx is the subset of store operations available inside a claim
// transaction.
type Tx interface {
	// FindRunning returns the running job, or nil if none is running.
	FindRunning(ctx context.Context) (*domain.Job, error)

	// FindOldestPending returns the pending job with the earliest createdAt
	// (ties broken by id), or nil if the queue is empty.
	FindOldestPending(ctx context.Context) (*domain.Job, error)

	// Transition moves job id from expected to next and writes fields in the
	// same update. It returns false, without error, when the job no longer
	// holds expected or when moving to running would create a second
	// running job.
	Transition(ctx context.Context, id int64, expected, next domain.JobStatus, fields domain.TransitionFields) (bool, error)
}

// Store defines durable persistence for inspection jobs.
//
// Implementations:
// - PostgresStore
// - MemoryStore
//
// Implementations must be safe for concurrent use.
type Store interface {
	Tx

	// Insert stores a new pending job and returns its id. CreatedAt is kept
	// when set, otherwise the store assigns the current time.
	Insert(ctx context.Context, job *domain.Job) (int64, error)

	// Get returns the job with the given id or ErrNotFound.
	Get(ctx context.Context, id int64) (*domain.Job, error)

	// FindActiveByTarget returns the most recent pending or running job bound
	// to target, or nil.
	FindActiveByTarget(ctx context.Context, target domain.Target) (*domain.Job, error)

	// FindStaleRunning returns running jobs whose updatedAt is before cutoff.
	FindStaleRunning(ctx context.Context, cutoff time.Time) ([]*domain.Job, error)

	// FindStalePendingUnnotified returns pending jobs created before cutoff
	// that have not triggered a pending alert yet, oldest first.
	FindStalePendingUnnotified(ctx context.Context, cutoff time.Time) ([]*domain.Job, error)

	// MarkPendingNotified sets pendingNotificationSent on every listed job
	// that is still pending and unflagged, in one atomic update. It returns
	// the number of jobs flagged.
	MarkPendingNotified(ctx context.Context, ids []int64) (int, error)

	// CountByStatus returns the number of jobs per status. Every status is
	// present in the result, zero when absent.
	CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error)

	// InClaimTx runs fn inside a transaction that is serialized against every
	// other InClaimTx call, across processes. If fn returns an error the
	// transaction is rolled back and the error returned.
	InClaimTx(ctx context.Context, fn func(tx Tx) error) error
}

func validateNewJob(job *domain.Job) error {
	if job == nil || job.Target == nil {
		return fmt.Errorf("insert job: target is required")
	}
	if job.Model == "" {
		return fmt.Errorf("insert job: model is required")
	}
	return nil
}

func checkTransition(expected, next domain.JobStatus) error {
	if !expected.CanTransitionTo(next) {
		return ErrInvalidTransition
	}
	return nil
}

func emptyCounts() map[domain.JobStatus]int {
	counts := make(map[domain.JobStatus]int, len(domain.AllJobStatuses))
	for _, s := range domain.AllJobStatuses {
		counts[s] = 0
	}
	return counts
}
