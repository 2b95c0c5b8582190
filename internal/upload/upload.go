// Package upload stores project images and keeps their derived artifacts
// (thumbnails and the project archive) in step with the catalog.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/DukeRupert/panelcheck/internal/catalog"
	"github.com/DukeRupert/panelcheck/internal/domain"
	"github.com/DukeRupert/panelcheck/internal/metrics"
	"github.com/DukeRupert/panelcheck/internal/storage"
)

// MaxImageSize is the largest accepted upload (50MB). Radiometric TIFFs run
// large.
const MaxImageSize = 50 * 1024 * 1024

var allowedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".tif":  true,
	".tiff": true,
}

// Archiver schedules regeneration of a project's archive.
type Archiver interface {
	Trigger(projectID int64)
}

// Service stores and removes project images.
type Service struct {
	images     catalog.ImageWriter
	store      storage.Storage
	thumbnails ThumbnailProcessor
	archiver   Archiver
	logger     *slog.Logger
}

// NewService creates an upload Service.
func NewService(images catalog.ImageWriter, store storage.Storage, thumbnails ThumbnailProcessor, archiver Archiver, logger *slog.Logger) *Service {
	return &Service{
		images:     images,
		store:      store,
		thumbnails: thumbnails,
		archiver:   archiver,
		logger:     logger.With("component", "upload"),
	}
}

// Upload stores an image for projectID, records it as pending and schedules
// an archive rebuild. A thumbnail that cannot be produced is logged and
// skipped.
func (s *Service) Upload(ctx context.Context, projectID int64, kind domain.ImageKind, filename string, data io.Reader) (*domain.Image, error) {
	const op = "upload.image"

	if !kind.IsValid() {
		return nil, domain.Invalid(op, fmt.Sprintf("unknown image type %q", kind))
	}
	filename = filepath.Base(strings.TrimSpace(filename))
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedExtensions[ext] {
		return nil, domain.Invalid(op, fmt.Sprintf("unsupported file type %q, expected JPEG, PNG or TIFF", ext))
	}

	ok, err := s.images.ProjectExists(ctx, projectID)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to look up project")
	}
	if !ok {
		return nil, domain.NotFound(op, "project", fmt.Sprint(projectID))
	}

	body, err := io.ReadAll(io.LimitReader(data, MaxImageSize+1))
	if err != nil {
		return nil, domain.Internal(err, op, "failed to read upload")
	}
	if len(body) > MaxImageSize {
		return nil, domain.Invalid(op, fmt.Sprintf("image exceeds %d MB", MaxImageSize/(1024*1024)))
	}
	if len(body) == 0 {
		return nil, domain.Invalid(op, "image is empty")
	}

	key := storage.ImageKey(projectID, filename)
	if err := s.store.Put(ctx, key, bytes.NewReader(body), storage.PutOptions{MaxSize: MaxImageSize}); err != nil {
		return nil, domain.Unavailable(err, op, "image storage is unavailable")
	}

	thumbKey := s.storeThumbnail(ctx, key, body)

	img, err := s.images.CreateImage(ctx, catalog.NewImage{
		ProjectID:  projectID,
		Kind:       kind,
		Filename:   filename,
		StorageKey: key,
	})
	if err != nil {
		_ = s.store.Delete(ctx, key)
		if thumbKey != "" {
			_ = s.store.Delete(ctx, thumbKey)
		}
		return nil, domain.Internal(err, op, "failed to record image")
	}

	s.logger.Info("image uploaded",
		"project_id", projectID,
		"image_id", img.ID,
		"kind", kind,
		"bytes", len(body),
	)
	metrics.ImageUploaded(kind.String())
	s.archiver.Trigger(projectID)
	return &img, nil
}

func (s *Service) storeThumbnail(ctx context.Context, key string, body []byte) string {
	thumb, width, height, err := s.thumbnails.GenerateThumbnail(bytes.NewReader(body), ThumbnailMaxWidth, ThumbnailMaxHeight)
	if err != nil {
		s.logger.Warn("thumbnail generation failed", "key", key, "error", err)
		return ""
	}

	thumbKey := ThumbnailKey(key)
	err = s.store.Put(ctx, thumbKey, bytes.NewReader(thumb), storage.PutOptions{
		ContentType: "image/jpeg",
		Overwrite:   true,
	})
	if err != nil {
		s.logger.Warn("thumbnail upload failed", "key", thumbKey, "error", err)
		return ""
	}
	s.logger.Debug("thumbnail stored", "key", thumbKey, "width", width, "height", height)
	return thumbKey
}

// Delete removes an image and its thumbnail, then schedules an archive
// rebuild. Storage failures are logged; the record is removed regardless.
func (s *Service) Delete(ctx context.Context, projectID, imageID int64) error {
	const op = "upload.delete"

	img, err := s.images.GetImage(ctx, projectID, imageID)
	if errors.Is(err, catalog.ErrImageNotFound) {
		return domain.NotFound(op, "image", fmt.Sprint(imageID))
	}
	if err != nil {
		return domain.Internal(err, op, "failed to fetch image")
	}

	if err := s.store.Delete(ctx, img.StorageKey); err != nil {
		s.logger.Error("failed to delete image from storage", "key", img.StorageKey, "error", err)
	}
	if err := s.store.Delete(ctx, ThumbnailKey(img.StorageKey)); err != nil {
		s.logger.Error("failed to delete thumbnail from storage", "key", ThumbnailKey(img.StorageKey), "error", err)
	}

	err = s.images.DeleteImage(ctx, projectID, imageID)
	if errors.Is(err, catalog.ErrImageNotFound) {
		return domain.NotFound(op, "image", fmt.Sprint(imageID))
	}
	if err != nil {
		return domain.Internal(err, op, "failed to delete image record")
	}

	s.logger.Info("image deleted", "project_id", projectID, "image_id", imageID)
	metrics.ImageDeleted(img.Kind.String())
	s.archiver.Trigger(projectID)
	return nil
}
