package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
	"github.com/sqlc-dev/pqtype"
)

const inspectionJobColumns = `id, source, project_id, external_inspection_id, model, status, total_images,
    rgb_images, thermal_images, healthy_images, unhealthy_images, processed_images,
    processing_efficiency, processing_details, statistics, error_message,
    pending_notification_sent, started_at, completed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInspectionJob(row rowScanner) (InspectionJob, error) {
	var i InspectionJob
	err := row.Scan(
		&i.ID,
		&i.Source,
		&i.ProjectID,
		&i.ExternalInspectionID,
		&i.Model,
		&i.Status,
		&i.TotalImages,
		&i.RgbImages,
		&i.ThermalImages,
		&i.HealthyImages,
		&i.UnhealthyImages,
		&i.ProcessedImages,
		&i.ProcessingEfficiency,
		&i.ProcessingDetails,
		&i.Statistics,
		&i.ErrorMessage,
		&i.PendingNotificationSent,
		&i.StartedAt,
		&i.CompletedAt,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

func scanInspectionJobs(rows *sql.Rows) ([]InspectionJob, error) {
	defer rows.Close()
	var items []InspectionJob
	for rows.Next() {
		i, err := scanInspectionJob(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const insertInspectionJob = `-- name: InsertInspectionJob :one
INSERT INTO inspection_jobs (source, project_id, external_inspection_id, model, status, total_images, created_at, updated_at)
VALUES ($1, $2, $3, $4, 'pending', $5, $6, $6)
RETURNING ` + inspectionJobColumns

type InsertInspectionJobParams struct {
	Source               string
	ProjectID            sql.NullInt64
	ExternalInspectionID sql.NullInt64
	Model                string
	TotalImages          int32
	CreatedAt            time.Time
}

func (q *Queries) InsertInspectionJob(ctx context.Context, arg InsertInspectionJobParams) (InspectionJob, error) {
	row := q.db.QueryRowContext(ctx, insertInspectionJob,
		arg.Source,
		arg.ProjectID,
		arg.ExternalInspectionID,
		arg.Model,
		arg.TotalImages,
		arg.CreatedAt,
	)
	return scanInspectionJob(row)
}

const getInspectionJob = `-- name: GetInspectionJob :one
SELECT ` + inspectionJobColumns + `
FROM inspection_jobs
WHERE id = $1`

func (q *Queries) GetInspectionJob(ctx context.Context, id int64) (InspectionJob, error) {
	row := q.db.QueryRowContext(ctx, getInspectionJob, id)
	return scanInspectionJob(row)
}

const getRunningInspectionJob = `-- name: GetRunningInspectionJob :one
SELECT ` + inspectionJobColumns + `
FROM inspection_jobs
WHERE status = 'running'
ORDER BY started_at
LIMIT 1`

func (q *Queries) GetRunningInspectionJob(ctx context.Context) (InspectionJob, error) {
	row := q.db.QueryRowContext(ctx, getRunningInspectionJob)
	return scanInspectionJob(row)
}

const getOldestPendingInspectionJob = `-- name: GetOldestPendingInspectionJob :one
SELECT ` + inspectionJobColumns + `
FROM inspection_jobs
WHERE status = 'pending'
ORDER BY created_at, id
LIMIT 1`

func (q *Queries) GetOldestPendingInspectionJob(ctx context.Context) (InspectionJob, error) {
	row := q.db.QueryRowContext(ctx, getOldestPendingInspectionJob)
	return scanInspectionJob(row)
}

const getActiveInspectionJobForProject = `-- name: GetActiveInspectionJobForProject :one
SELECT ` + inspectionJobColumns + `
FROM inspection_jobs
WHERE source = 'INTERNAL' AND project_id = $1 AND status IN ('pending', 'running')
ORDER BY created_at DESC, id DESC
LIMIT 1`

func (q *Queries) GetActiveInspectionJobForProject(ctx context.Context, projectID int64) (InspectionJob, error) {
	row := q.db.QueryRowContext(ctx, getActiveInspectionJobForProject, projectID)
	return scanInspectionJob(row)
}

const getActiveInspectionJobForExternal = `-- name: GetActiveInspectionJobForExternal :one
SELECT ` + inspectionJobColumns + `
FROM inspection_jobs
WHERE source = 'THIRD_PARTY' AND external_inspection_id = $1 AND status IN ('pending', 'running')
ORDER BY created_at DESC, id DESC
LIMIT 1`

func (q *Queries) GetActiveInspectionJobForExternal(ctx context.Context, externalInspectionID int64) (InspectionJob, error) {
	row := q.db.QueryRowContext(ctx, getActiveInspectionJobForExternal, externalInspectionID)
	return scanInspectionJob(row)
}

const listStaleRunningInspectionJobs = `-- name: ListStaleRunningInspectionJobs :many
SELECT ` + inspectionJobColumns + `
FROM inspection_jobs
WHERE status = 'running' AND updated_at < $1
ORDER BY updated_at, id`

func (q *Queries) ListStaleRunningInspectionJobs(ctx context.Context, cutoff time.Time) ([]InspectionJob, error) {
	rows, err := q.db.QueryContext(ctx, listStaleRunningInspectionJobs, cutoff)
	if err != nil {
		return nil, err
	}
	return scanInspectionJobs(rows)
}

const listStalePendingUnnotifiedJobs = `-- name: ListStalePendingUnnotifiedJobs :many
SELECT ` + inspectionJobColumns + `
FROM inspection_jobs
WHERE status = 'pending' AND created_at < $1 AND pending_notification_sent = FALSE
ORDER BY created_at, id`

func (q *Queries) ListStalePendingUnnotifiedJobs(ctx context.Context, cutoff time.Time) ([]InspectionJob, error) {
	rows, err := q.db.QueryContext(ctx, listStalePendingUnnotifiedJobs, cutoff)
	if err != nil {
		return nil, err
	}
	return scanInspectionJobs(rows)
}

const transitionInspectionJob = `-- name: TransitionInspectionJob :execrows
UPDATE inspection_jobs SET
    status                    = $3,
    started_at                = COALESCE($4::timestamptz, started_at),
    completed_at              = COALESCE($5::timestamptz, completed_at),
    error_message             = COALESCE($6::text, error_message),
    pending_notification_sent = CASE WHEN $7::boolean THEN FALSE ELSE pending_notification_sent END,
    total_images              = COALESCE($8::integer, total_images),
    rgb_images                = COALESCE($9::integer, rgb_images),
    thermal_images            = COALESCE($10::integer, thermal_images),
    healthy_images            = COALESCE($11::integer, healthy_images),
    unhealthy_images          = COALESCE($12::integer, unhealthy_images),
    processed_images          = COALESCE($13::integer, processed_images),
    processing_efficiency     = COALESCE($14::double precision, processing_efficiency),
    processing_details        = COALESCE($15::text, processing_details),
    statistics                = COALESCE($16::jsonb, statistics),
    updated_at                = $17
WHERE id = $1 AND status = $2`

type TransitionInspectionJobParams struct {
	ID                       int64
	ExpectedStatus           string
	Status                   string
	StartedAt                sql.NullTime
	CompletedAt              sql.NullTime
	ErrorMessage             sql.NullString
	ResetPendingNotification bool
	TotalImages              sql.NullInt32
	RgbImages                sql.NullInt32
	ThermalImages            sql.NullInt32
	HealthyImages            sql.NullInt32
	UnhealthyImages          sql.NullInt32
	ProcessedImages          sql.NullInt32
	ProcessingEfficiency     sql.NullFloat64
	ProcessingDetails        sql.NullString
	Statistics               pqtype.NullRawMessage
	UpdatedAt                time.Time
}

// TransitionInspectionJob moves a job to Status only if it still holds
// ExpectedStatus. It returns the number of rows changed (0 or 1).
func (q *Queries) TransitionInspectionJob(ctx context.Context, arg TransitionInspectionJobParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, transitionInspectionJob,
		arg.ID,
		arg.ExpectedStatus,
		arg.Status,
		arg.StartedAt,
		arg.CompletedAt,
		arg.ErrorMessage,
		arg.ResetPendingNotification,
		arg.TotalImages,
		arg.RgbImages,
		arg.ThermalImages,
		arg.HealthyImages,
		arg.UnhealthyImages,
		arg.ProcessedImages,
		arg.ProcessingEfficiency,
		arg.ProcessingDetails,
		arg.Statistics,
		arg.UpdatedAt,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const markPendingNotified = `-- name: MarkPendingNotified :execrows
UPDATE inspection_jobs
SET pending_notification_sent = TRUE
WHERE id = ANY($1::bigint[]) AND status = 'pending' AND pending_notification_sent = FALSE`

func (q *Queries) MarkPendingNotified(ctx context.Context, ids []int64) (int64, error) {
	result, err := q.db.ExecContext(ctx, markPendingNotified, pq.Array(ids))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const countInspectionJobsByStatus = `-- name: CountInspectionJobsByStatus :many
SELECT status, COUNT(*)::bigint
FROM inspection_jobs
GROUP BY status`

type CountInspectionJobsByStatusRow struct {
	Status string
	Count  int64
}

func (q *Queries) CountInspectionJobsByStatus(ctx context.Context) ([]CountInspectionJobsByStatusRow, error) {
	rows, err := q.db.QueryContext(ctx, countInspectionJobsByStatus)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []CountInspectionJobsByStatusRow
	for rows.Next() {
		var i CountInspectionJobsByStatusRow
		if err := rows.Scan(&i.Status, &i.Count); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const acquireClaimLock = `-- name: AcquireClaimLock :exec
SELECT pg_advisory_xact_lock($1)`

// AcquireClaimLock takes a transaction-scoped advisory lock. It only makes
// sense inside a transaction; the lock is released on commit or rollback.
func (q *Queries) AcquireClaimLock(ctx context.Context, key int64) error {
	_, err := q.db.ExecContext(ctx, acquireClaimLock, key)
	return err
}
