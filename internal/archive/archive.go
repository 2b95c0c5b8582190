// Package archive builds the downloadable ZIP bundle of a project's images.
//
// Regeneration is triggered by upload completion, image deletion and the
// archive endpoint. Any process may receive those events, so each run takes
// the project's marker lock first and skips when another run holds it; the
// holder's output is assumed fresh enough.
package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/DukeRupert/panelcheck/internal/catalog"
	"github.com/DukeRupert/panelcheck/internal/domain"
	"github.com/DukeRupert/panelcheck/internal/lock"
	"github.com/DukeRupert/panelcheck/internal/metrics"
	"github.com/DukeRupert/panelcheck/internal/storage"
	"golang.org/x/sync/errgroup"
)

// ErrSkipped is returned by Regenerate when another run holds the project's
// lock.
var ErrSkipped = errors.New("archive regeneration already in progress")

// DefaultReadConcurrency bounds concurrent image reads when Config leaves it
// unset.
const DefaultReadConcurrency = 8

// Config configures a Service.
type Config struct {
	// ReadConcurrency is the maximum number of image objects read at once.
	ReadConcurrency int
}

// Result summarizes one regeneration.
type Result struct {
	ProjectID int64
	Key       string // empty when the project has no images
	Images    int    // entries written
	Missing   int    // catalog images absent from storage
	Bytes     int    // archive size
}

// Service regenerates project archives.
type Service struct {
	catalog     catalog.Catalog
	store       storage.Storage
	locker      *lock.Locker
	concurrency int
	logger      *slog.Logger

	wg sync.WaitGroup
}

// NewService creates an archive Service.
func NewService(cat catalog.Catalog, store storage.Storage, locker *lock.Locker, cfg Config, logger *slog.Logger) *Service {
	concurrency := cfg.ReadConcurrency
	if concurrency <= 0 {
		concurrency = DefaultReadConcurrency
	}
	return &Service{
		catalog:     cat,
		store:       store,
		locker:      locker,
		concurrency: concurrency,
		logger:      logger.With("component", "archive"),
	}
}

// Regenerate rebuilds the archive for projectID under the project's lock.
// It returns ErrSkipped when the lock is held elsewhere.
func (s *Service) Regenerate(ctx context.Context, projectID int64) (Result, error) {
	start := time.Now()
	logger := s.logger.With("project_id", projectID)

	var result Result
	err := s.locker.WithLock(ctx, storage.ArchiveResource(projectID), func(ctx context.Context) error {
		var err error
		result, err = s.build(ctx, projectID)
		return err
	})

	switch {
	case errors.Is(err, lock.ErrNotAcquired):
		logger.Info("archive regeneration skipped, lock held")
		metrics.ArchiveFinished("skipped", 0)
		return Result{ProjectID: projectID}, ErrSkipped
	case err != nil:
		logger.Error("archive regeneration failed", "error", err)
		metrics.ArchiveFinished("failed", time.Since(start))
		return Result{ProjectID: projectID}, err
	}

	logger.Info("archive regenerated",
		"key", result.Key,
		"images", result.Images,
		"missing", result.Missing,
		"bytes", result.Bytes,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	metrics.ArchiveFinished("success", time.Since(start))
	return result, nil
}

// Trigger regenerates the archive in the background. Contention and failures
// are logged, not returned.
func (s *Service) Trigger(projectID int64) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, _ = s.Regenerate(context.Background(), projectID)
	}()
}

// Wait blocks until every triggered run has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) build(ctx context.Context, projectID int64) (Result, error) {
	result := Result{ProjectID: projectID}

	images, err := s.catalog.ListImages(ctx, projectID, "")
	if err != nil {
		return result, err
	}

	key := storage.ArchiveKey(projectID)
	if len(images) == 0 {
		// Nothing left to bundle; drop a stale archive.
		if err := s.store.Delete(ctx, key); err != nil {
			return result, fmt.Errorf("delete empty archive: %w", err)
		}
		return result, nil
	}

	contents, err := s.readImages(ctx, images)
	if err != nil {
		return result, err
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for i, img := range images {
		if contents[i] == nil {
			result.Missing++
			continue
		}
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     entryName(img),
			Method:   zip.Deflate,
			Modified: img.CreatedAt,
		})
		if err != nil {
			return result, fmt.Errorf("add %s to archive: %w", img.StorageKey, err)
		}
		if _, err := w.Write(contents[i]); err != nil {
			return result, fmt.Errorf("write %s to archive: %w", img.StorageKey, err)
		}
		result.Images++
	}
	if err := zw.Close(); err != nil {
		return result, fmt.Errorf("finalize archive: %w", err)
	}

	result.Bytes = buf.Len()
	err = s.store.Put(ctx, key, &buf, storage.PutOptions{
		ContentType: "application/zip",
		Overwrite:   true,
	})
	if err != nil {
		return result, fmt.Errorf("store archive: %w", err)
	}
	result.Key = key
	return result, nil
}

// readImages loads every image with bounded concurrency. Images missing from
// storage yield a nil slot.
func (s *Service) readImages(ctx context.Context, images []domain.Image) ([][]byte, error) {
	contents := make([][]byte, len(images))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, img := range images {
		g.Go(func() error {
			rc, _, err := s.store.Get(ctx, img.StorageKey)
			if storage.IsNotFound(err) {
				s.logger.Warn("image missing from storage", "image_id", img.ID, "key", img.StorageKey)
				return nil
			}
			if err != nil {
				return fmt.Errorf("read %s: %w", img.StorageKey, err)
			}
			defer rc.Close()

			b, err := io.ReadAll(rc)
			if err != nil {
				return fmt.Errorf("read %s: %w", img.StorageKey, err)
			}
			contents[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return contents, nil
}

// entryName places each image under its kind, prefixed with the image id so
// duplicate filenames stay distinct.
func entryName(img domain.Image) string {
	return fmt.Sprintf("%s/%d_%s", img.Kind, img.ID, img.Filename)
}
