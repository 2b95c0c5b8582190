package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/DukeRupert/panelcheck/internal/domain"
	"github.com/DukeRupert/panelcheck/internal/repository"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sqlc-dev/pqtype"
)

// claimLockKey is the pg_advisory_xact_lock key that serializes claim
// transactions across every process sharing the database.
const claimLockKey int64 = 0x50414e454c // "PANEL"

// Unique index names from the inspection_jobs migration.
const (
	singleRunningIndex = "uq_inspection_jobs_single_running"
	activeTargetIndex  = "uq_inspection_jobs_active_target"
)

// PostgresStore implements Store on the inspection_jobs table.
//
// Single-flight is enforced three ways: claim transactions hold a
// transaction-scoped advisory lock, transitions are conditional on the prior
// status, and a partial unique index rejects a second running row.
type PostgresStore struct {
	db      *sql.DB
	queries *repository.Queries
	logger  *slog.Logger
	now     func() time.Time
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(db *sql.DB, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{
		db:      db,
		queries: repository.New(db),
		logger:  logger,
		now:     time.Now,
	}
}

// Insert stores a new pending job.
func (s *PostgresStore) Insert(ctx context.Context, job *domain.Job) (int64, error) {
	if err := validateNewJob(job); err != nil {
		return 0, err
	}

	createdAt := job.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	params := repository.InsertInspectionJobParams{
		Source:      job.Target.Source().String(),
		Model:       job.Model,
		TotalImages: int32(job.TotalImages),
		CreatedAt:   createdAt,
	}
	switch t := job.Target.(type) {
	case domain.InternalTarget:
		params.ProjectID = sql.NullInt64{Int64: t.ProjectID, Valid: true}
	case domain.ThirdPartyTarget:
		params.ExternalInspectionID = sql.NullInt64{Int64: t.InspectionID, Valid: true}
	}

	row, err := s.queries.InsertInspectionJob(ctx, params)
	if err != nil {
		if isUniqueViolation(err, activeTargetIndex) {
			return 0, ErrActiveJobExists
		}
		return 0, fmt.Errorf("insert inspection job: %w", err)
	}

	job.ID = row.ID
	job.Status = domain.JobStatus(row.Status)
	job.CreatedAt = row.CreatedAt
	job.UpdatedAt = row.UpdatedAt
	return row.ID, nil
}

// Get returns the job with the given id.
func (s *PostgresStore) Get(ctx context.Context, id int64) (*domain.Job, error) {
	row, err := s.queries.GetInspectionJob(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get inspection job: %w", err)
	}
	return toDomainJob(row)
}

// FindRunning returns the running job or nil.
func (s *PostgresStore) FindRunning(ctx context.Context) (*domain.Job, error) {
	return pgTx{q: s.queries, now: s.now}.FindRunning(ctx)
}

// FindOldestPending returns the FIFO head of the queue or nil.
func (s *PostgresStore) FindOldestPending(ctx context.Context) (*domain.Job, error) {
	return pgTx{q: s.queries, now: s.now}.FindOldestPending(ctx)
}

// Transition performs the conditional status update outside a claim
// transaction.
func (s *PostgresStore) Transition(ctx context.Context, id int64, expected, next domain.JobStatus, fields domain.TransitionFields) (bool, error) {
	return pgTx{q: s.queries, now: s.now}.Transition(ctx, id, expected, next, fields)
}

// FindActiveByTarget returns the newest pending or running job for target.
func (s *PostgresStore) FindActiveByTarget(ctx context.Context, target domain.Target) (*domain.Job, error) {
	var (
		row repository.InspectionJob
		err error
	)
	switch t := target.(type) {
	case domain.InternalTarget:
		row, err = s.queries.GetActiveInspectionJobForProject(ctx, t.ProjectID)
	case domain.ThirdPartyTarget:
		row, err = s.queries.GetActiveInspectionJobForExternal(ctx, t.InspectionID)
	default:
		return nil, fmt.Errorf("find active job: unsupported target %T", target)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find active job for %s: %w", target, err)
	}
	return toDomainJob(row)
}

// FindStaleRunning returns running jobs last updated before cutoff.
func (s *PostgresStore) FindStaleRunning(ctx context.Context, cutoff time.Time) ([]*domain.Job, error) {
	rows, err := s.queries.ListStaleRunningInspectionJobs(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale running jobs: %w", err)
	}
	return toDomainJobs(rows)
}

// FindStalePendingUnnotified returns old pending jobs not yet alerted on.
func (s *PostgresStore) FindStalePendingUnnotified(ctx context.Context, cutoff time.Time) ([]*domain.Job, error) {
	rows, err := s.queries.ListStalePendingUnnotifiedJobs(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale pending jobs: %w", err)
	}
	return toDomainJobs(rows)
}

// MarkPendingNotified flags the listed pending jobs in a single update.
func (s *PostgresStore) MarkPendingNotified(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := s.queries.MarkPendingNotified(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("mark pending notified: %w", err)
	}
	return int(n), nil
}

// CountByStatus returns job counts per status.
func (s *PostgresStore) CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	rows, err := s.queries.CountInspectionJobsByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count jobs by status: %w", err)
	}
	counts := emptyCounts()
	for _, r := range rows {
		counts[domain.JobStatus(r.Status)] = int(r.Count)
	}
	return counts, nil
}

// InClaimTx runs fn in a read-committed transaction holding the claim
// advisory lock. Concurrent callers, in this or any other process, block on
// the lock until the holder commits or rolls back.
func (s *PostgresStore) InClaimTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin claim transaction: %w", err)
	}
	defer tx.Rollback()

	qtx := s.queries.WithTx(tx)
	if err := qtx.AcquireClaimLock(ctx, claimLockKey); err != nil {
		return fmt.Errorf("acquire claim lock: %w", err)
	}

	if err := fn(pgTx{q: qtx, now: s.now}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit claim transaction: %w", err)
	}
	return nil
}

// pgTx runs the Tx operations against a Queries value, which may be bound
// to the pool or to an open transaction.
type pgTx struct {
	q   *repository.Queries
	now func() time.Time
}

func (t pgTx) FindRunning(ctx context.Context) (*domain.Job, error) {
	row, err := t.q.GetRunningInspectionJob(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find running job: %w", err)
	}
	return toDomainJob(row)
}

func (t pgTx) FindOldestPending(ctx context.Context) (*domain.Job, error) {
	row, err := t.q.GetOldestPendingInspectionJob(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find oldest pending job: %w", err)
	}
	return toDomainJob(row)
}

func (t pgTx) Transition(ctx context.Context, id int64, expected, next domain.JobStatus, fields domain.TransitionFields) (bool, error) {
	if err := checkTransition(expected, next); err != nil {
		return false, err
	}

	params := repository.TransitionInspectionJobParams{
		ID:                       id,
		ExpectedStatus:           expected.String(),
		Status:                   next.String(),
		ResetPendingNotification: fields.ResetPendingNotification,
		UpdatedAt:                t.now(),
	}
	if fields.StartedAt != nil {
		params.StartedAt = sql.NullTime{Time: *fields.StartedAt, Valid: true}
	}
	if fields.CompletedAt != nil {
		params.CompletedAt = sql.NullTime{Time: *fields.CompletedAt, Valid: true}
	}
	if fields.ErrorMessage != nil {
		params.ErrorMessage = sql.NullString{String: *fields.ErrorMessage, Valid: true}
	}
	if fields.TotalImages != nil {
		params.TotalImages = nullInt32(fields.TotalImages)
	}
	if st := fields.Stats; st != nil {
		params.RgbImages = nullInt32(st.RGBImages)
		params.ThermalImages = nullInt32(st.ThermalImages)
		params.HealthyImages = nullInt32(st.HealthyImages)
		params.UnhealthyImages = nullInt32(st.UnhealthyImages)
		params.ProcessedImages = nullInt32(st.ProcessedImages)
		if st.ProcessingEfficiency != nil {
			params.ProcessingEfficiency = sql.NullFloat64{Float64: *st.ProcessingEfficiency, Valid: true}
		}
		if st.ProcessingDetails != "" {
			params.ProcessingDetails = sql.NullString{String: st.ProcessingDetails, Valid: true}
		}
		if len(st.Raw) > 0 {
			params.Statistics = pqtype.NullRawMessage{RawMessage: st.Raw, Valid: true}
		}
	}

	n, err := t.q.TransitionInspectionJob(ctx, params)
	if err != nil {
		if isUniqueViolation(err, singleRunningIndex) {
			return false, nil
		}
		return false, fmt.Errorf("transition job %d %s->%s: %w", id, expected, next, err)
	}
	return n == 1, nil
}

// =============================================================================
// Row Mapping
// =============================================================================

func toDomainJob(row repository.InspectionJob) (*domain.Job, error) {
	var target domain.Target
	switch domain.JobSource(row.Source) {
	case domain.JobSourceInternal:
		target = domain.InternalTarget{ProjectID: row.ProjectID.Int64}
	case domain.JobSourceThirdParty:
		target = domain.ThirdPartyTarget{InspectionID: row.ExternalInspectionID.Int64}
	default:
		return nil, fmt.Errorf("job %d has unknown source %q", row.ID, row.Source)
	}

	job := &domain.Job{
		ID:                      row.ID,
		Target:                  target,
		Model:                   row.Model,
		Status:                  domain.JobStatus(row.Status),
		TotalImages:             int(row.TotalImages),
		ErrorMessage:            row.ErrorMessage.String,
		PendingNotificationSent: row.PendingNotificationSent,
		CreatedAt:               row.CreatedAt,
		UpdatedAt:               row.UpdatedAt,
		Stats: domain.JobStats{
			RGBImages:         intPtr(row.RgbImages),
			ThermalImages:     intPtr(row.ThermalImages),
			HealthyImages:     intPtr(row.HealthyImages),
			UnhealthyImages:   intPtr(row.UnhealthyImages),
			ProcessedImages:   intPtr(row.ProcessedImages),
			ProcessingDetails: row.ProcessingDetails.String,
		},
	}
	if row.ProcessingEfficiency.Valid {
		v := row.ProcessingEfficiency.Float64
		job.Stats.ProcessingEfficiency = &v
	}
	if row.Statistics.Valid {
		job.Stats.Raw = row.Statistics.RawMessage
	}
	if row.StartedAt.Valid {
		t := row.StartedAt.Time
		job.StartedAt = &t
	}
	if row.CompletedAt.Valid {
		t := row.CompletedAt.Time
		job.CompletedAt = &t
	}
	return job, nil
}

func toDomainJobs(rows []repository.InspectionJob) ([]*domain.Job, error) {
	jobs := make([]*domain.Job, 0, len(rows))
	for _, row := range rows {
		job, err := toDomainJob(row)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func intPtr(v sql.NullInt32) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int32)
	return &i
}

func nullInt32(p *int) sql.NullInt32 {
	if p == nil {
		return sql.NullInt32{}
	}
	return sql.NullInt32{Int32: int32(*p), Valid: true}
}

// isUniqueViolation reports whether err is a unique violation on the named
// constraint or index.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && pgErr.ConstraintName == constraint
	}
	return false
}

var _ Store = (*PostgresStore)(nil)
