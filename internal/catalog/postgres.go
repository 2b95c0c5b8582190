package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/DukeRupert/panelcheck/internal/domain"
	"github.com/DukeRupert/panelcheck/internal/repository"
)

// PostgresCatalog implements Catalog on the projects and images tables.
type PostgresCatalog struct {
	queries *repository.Queries
}

// NewPostgresCatalog creates a PostgresCatalog.
func NewPostgresCatalog(db *sql.DB) *PostgresCatalog {
	return &PostgresCatalog{queries: repository.New(db)}
}

// ListImages returns the project's images, all kinds when kind is empty.
func (c *PostgresCatalog) ListImages(ctx context.Context, projectID int64, kind domain.ImageKind) ([]domain.Image, error) {
	var (
		rows []repository.Image
		err  error
	)
	if kind == "" {
		rows, err = c.queries.ListProjectImages(ctx, projectID)
	} else {
		rows, err = c.queries.ListProjectImagesByType(ctx, repository.ListProjectImagesByTypeParams{
			ProjectID: projectID,
			ImageType: kind.String(),
		})
	}
	if err != nil {
		return nil, fmt.Errorf("list images for project %d: %w", projectID, err)
	}

	images := make([]domain.Image, 0, len(rows))
	for _, r := range rows {
		images = append(images, imageFromRow(r))
	}
	return images, nil
}

// ResolveProject maps a job target to its project id. ok is false when no
// project matches.
func (c *PostgresCatalog) ResolveProject(ctx context.Context, target domain.Target) (int64, bool, error) {
	var (
		project repository.Project
		err     error
	)
	switch t := target.(type) {
	case domain.InternalTarget:
		project, err = c.queries.GetProject(ctx, t.ProjectID)
	case domain.ThirdPartyTarget:
		project, err = c.queries.GetProjectByScopitoInspection(ctx, t.InspectionID)
	default:
		return 0, false, fmt.Errorf("resolve project: unsupported target %T", target)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("resolve project for %s: %w", target, err)
	}
	return project.ID, true, nil
}

// SetInspectionInProgress sets the project's in-progress flag. Targets with
// no project are ignored.
func (c *PostgresCatalog) SetInspectionInProgress(ctx context.Context, target domain.Target, inProgress bool) error {
	projectID, ok, err := c.ResolveProject(ctx, target)
	if err != nil || !ok {
		return err
	}
	err = c.queries.SetProjectInspectionInProgress(ctx, repository.SetProjectInspectionInProgressParams{
		ID:                   projectID,
		InspectionInProgress: inProgress,
	})
	if err != nil {
		return fmt.Errorf("set inspection in progress for project %d: %w", projectID, err)
	}
	return nil
}

// MarkQueued moves the project's pending images of kind to queued.
func (c *PostgresCatalog) MarkQueued(ctx context.Context, projectID int64, kind domain.ImageKind) (int, error) {
	n, err := c.queries.MarkImagesQueued(ctx, repository.MarkImagesQueuedParams{
		ProjectID: projectID,
		ImageType: kind.String(),
	})
	if err != nil {
		return 0, fmt.Errorf("mark %s images queued for project %d: %w", kind, projectID, err)
	}
	return int(n), nil
}

// ReconcileQueuedImages settles queued images as healthy once an inspection
// ends.
func (c *PostgresCatalog) ReconcileQueuedImages(ctx context.Context, target domain.Target) (int, error) {
	projectID, ok, err := c.ResolveProject(ctx, target)
	if err != nil || !ok {
		return 0, err
	}
	n, err := c.queries.ReconcileQueuedImages(ctx, projectID)
	if err != nil {
		return 0, fmt.Errorf("reconcile queued images for project %d: %w", projectID, err)
	}
	return int(n), nil
}

// ProjectExists reports whether the project row exists.
func (c *PostgresCatalog) ProjectExists(ctx context.Context, projectID int64) (bool, error) {
	_, err := c.queries.GetProject(ctx, projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get project %d: %w", projectID, err)
	}
	return true, nil
}

// CreateImage inserts an image row with analysis status pending.
func (c *PostgresCatalog) CreateImage(ctx context.Context, img NewImage) (domain.Image, error) {
	row, err := c.queries.CreateImage(ctx, repository.CreateImageParams{
		ProjectID:  img.ProjectID,
		ImageType:  img.Kind.String(),
		Filename:   img.Filename,
		StorageKey: img.StorageKey,
	})
	if err != nil {
		return domain.Image{}, fmt.Errorf("create image for project %d: %w", img.ProjectID, err)
	}
	return imageFromRow(row), nil
}

// GetImage returns an image of the project, or ErrImageNotFound.
func (c *PostgresCatalog) GetImage(ctx context.Context, projectID, imageID int64) (domain.Image, error) {
	row, err := c.queries.GetProjectImage(ctx, repository.GetProjectImageParams{
		ProjectID: projectID,
		ID:        imageID,
	})
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Image{}, ErrImageNotFound
	}
	if err != nil {
		return domain.Image{}, fmt.Errorf("get image %d: %w", imageID, err)
	}
	return imageFromRow(row), nil
}

// DeleteImage removes an image of the project, or returns ErrImageNotFound.
func (c *PostgresCatalog) DeleteImage(ctx context.Context, projectID, imageID int64) error {
	n, err := c.queries.DeleteProjectImage(ctx, repository.DeleteProjectImageParams{
		ProjectID: projectID,
		ID:        imageID,
	})
	if err != nil {
		return fmt.Errorf("delete image %d: %w", imageID, err)
	}
	if n == 0 {
		return ErrImageNotFound
	}
	return nil
}

func imageFromRow(r repository.Image) domain.Image {
	return domain.Image{
		ID:             r.ID,
		ProjectID:      r.ProjectID,
		Kind:           domain.ImageKind(r.ImageType),
		Filename:       r.Filename,
		StorageKey:     r.StorageKey,
		AnalysisStatus: domain.ImageAnalysisStatus(r.AnalysisStatus),
		CreatedAt:      r.CreatedAt,
	}
}

var (
	_ Catalog     = (*PostgresCatalog)(nil)
	_ ImageWriter = (*PostgresCatalog)(nil)
)
