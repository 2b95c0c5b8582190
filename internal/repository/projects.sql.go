package repository

import (
	"context"
)

const getProject = `-- name: GetProject :one
SELECT id, name, scopito_inspection_id, inspection_in_progress, created_at, updated_at
FROM projects
WHERE id = $1`

func (q *Queries) GetProject(ctx context.Context, id int64) (Project, error) {
	row := q.db.QueryRowContext(ctx, getProject, id)
	var i Project
	err := row.Scan(
		&i.ID,
		&i.Name,
		&i.ScopitoInspectionID,
		&i.InspectionInProgress,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const getProjectByScopitoInspection = `-- name: GetProjectByScopitoInspection :one
SELECT id, name, scopito_inspection_id, inspection_in_progress, created_at, updated_at
FROM projects
WHERE scopito_inspection_id = $1`

func (q *Queries) GetProjectByScopitoInspection(ctx context.Context, inspectionID int64) (Project, error) {
	row := q.db.QueryRowContext(ctx, getProjectByScopitoInspection, inspectionID)
	var i Project
	err := row.Scan(
		&i.ID,
		&i.Name,
		&i.ScopitoInspectionID,
		&i.InspectionInProgress,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const setProjectInspectionInProgress = `-- name: SetProjectInspectionInProgress :exec
UPDATE projects
SET inspection_in_progress = $2, updated_at = NOW()
WHERE id = $1`

type SetProjectInspectionInProgressParams struct {
	ID                   int64
	InspectionInProgress bool
}

func (q *Queries) SetProjectInspectionInProgress(ctx context.Context, arg SetProjectInspectionInProgressParams) error {
	_, err := q.db.ExecContext(ctx, setProjectInspectionInProgress, arg.ID, arg.InspectionInProgress)
	return err
}

const listProjectImages = `-- name: ListProjectImages :many
SELECT id, project_id, image_type, filename, storage_key, analysis_status, created_at
FROM images
WHERE project_id = $1
ORDER BY id`

func (q *Queries) ListProjectImages(ctx context.Context, projectID int64) ([]Image, error) {
	rows, err := q.db.QueryContext(ctx, listProjectImages, projectID)
	if err != nil {
		return nil, err
	}
	return scanImages(rows)
}

const listProjectImagesByType = `-- name: ListProjectImagesByType :many
SELECT id, project_id, image_type, filename, storage_key, analysis_status, created_at
FROM images
WHERE project_id = $1 AND image_type = $2
ORDER BY id`

type ListProjectImagesByTypeParams struct {
	ProjectID int64
	ImageType string
}

func (q *Queries) ListProjectImagesByType(ctx context.Context, arg ListProjectImagesByTypeParams) ([]Image, error) {
	rows, err := q.db.QueryContext(ctx, listProjectImagesByType, arg.ProjectID, arg.ImageType)
	if err != nil {
		return nil, err
	}
	return scanImages(rows)
}

const reconcileQueuedImages = `-- name: ReconcileQueuedImages :execrows
UPDATE images
SET analysis_status = 'healthy'
WHERE project_id = $1 AND analysis_status = 'queued'`

func (q *Queries) ReconcileQueuedImages(ctx context.Context, projectID int64) (int64, error) {
	result, err := q.db.ExecContext(ctx, reconcileQueuedImages, projectID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const markImagesQueued = `-- name: MarkImagesQueued :execrows
UPDATE images
SET analysis_status = 'queued'
WHERE project_id = $1 AND image_type = $2 AND analysis_status = 'pending'`

type MarkImagesQueuedParams struct {
	ProjectID int64
	ImageType string
}

func (q *Queries) MarkImagesQueued(ctx context.Context, arg MarkImagesQueuedParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, markImagesQueued, arg.ProjectID, arg.ImageType)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const createImage = `-- name: CreateImage :one
INSERT INTO images (project_id, image_type, filename, storage_key)
VALUES ($1, $2, $3, $4)
RETURNING id, project_id, image_type, filename, storage_key, analysis_status, created_at`

type CreateImageParams struct {
	ProjectID  int64
	ImageType  string
	Filename   string
	StorageKey string
}

func (q *Queries) CreateImage(ctx context.Context, arg CreateImageParams) (Image, error) {
	row := q.db.QueryRowContext(ctx, createImage,
		arg.ProjectID,
		arg.ImageType,
		arg.Filename,
		arg.StorageKey,
	)
	var i Image
	err := row.Scan(
		&i.ID,
		&i.ProjectID,
		&i.ImageType,
		&i.Filename,
		&i.StorageKey,
		&i.AnalysisStatus,
		&i.CreatedAt,
	)
	return i, err
}

const getProjectImage = `-- name: GetProjectImage :one
SELECT id, project_id, image_type, filename, storage_key, analysis_status, created_at
FROM images
WHERE project_id = $1 AND id = $2`

type GetProjectImageParams struct {
	ProjectID int64
	ID        int64
}

func (q *Queries) GetProjectImage(ctx context.Context, arg GetProjectImageParams) (Image, error) {
	row := q.db.QueryRowContext(ctx, getProjectImage, arg.ProjectID, arg.ID)
	var i Image
	err := row.Scan(
		&i.ID,
		&i.ProjectID,
		&i.ImageType,
		&i.Filename,
		&i.StorageKey,
		&i.AnalysisStatus,
		&i.CreatedAt,
	)
	return i, err
}

const deleteProjectImage = `-- name: DeleteProjectImage :execrows
DELETE FROM images
WHERE project_id = $1 AND id = $2`

type DeleteProjectImageParams struct {
	ProjectID int64
	ID        int64
}

func (q *Queries) DeleteProjectImage(ctx context.Context, arg DeleteProjectImageParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteProjectImage, arg.ProjectID, arg.ID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanImages(rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Close() error
	Err() error
}) ([]Image, error) {
	defer rows.Close()
	var items []Image
	for rows.Next() {
		var i Image
		if err := rows.Scan(
			&i.ID,
			&i.ProjectID,
			&i.ImageType,
			&i.Filename,
			&i.StorageKey,
			&i.AnalysisStatus,
			&i.CreatedAt,
		); err != nil {
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
