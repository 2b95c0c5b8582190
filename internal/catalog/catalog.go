// Package catalog exposes the project and image records the inspection queue
// reads and flags. Projects and images are owned by the upload pipeline; the
// queue only lists images, toggles the in-progress flag and reconciles
// per-image verdicts once a backend reports completion.
package catalog

import (
	"context"
	"errors"

	"github.com/DukeRupert/panelcheck/internal/domain"
)

// Catalog is the queue's view of projects and their images.
//
// Third-party targets resolve to a local project through the project's
// Scopito inspection id. A target with no local project is not an error: the
// flag and reconcile operations become no-ops.
type Catalog interface {
	// ListImages returns the project's images of the given kind in upload
	// order. An empty kind returns every image.
	ListImages(ctx context.Context, projectID int64, kind domain.ImageKind) ([]domain.Image, error)

	// ResolveProject returns the local project bound to target.
	ResolveProject(ctx context.Context, target domain.Target) (projectID int64, ok bool, err error)

	// SetInspectionInProgress sets the project's in-progress flag.
	SetInspectionInProgress(ctx context.Context, target domain.Target, inProgress bool) error

	// MarkQueued moves the project's pending images of kind to queued and
	// returns how many changed.
	MarkQueued(ctx context.Context, projectID int64, kind domain.ImageKind) (int, error)

	// ReconcileQueuedImages marks every queued image of the target healthy and
	// returns how many changed.
	ReconcileQueuedImages(ctx context.Context, target domain.Target) (int, error)
}

// ErrImageNotFound is returned when an image does not exist in the project.
var ErrImageNotFound = errors.New("image not found")

// NewImage describes an uploaded image before it has an id.
type NewImage struct {
	ProjectID  int64
	Kind       domain.ImageKind
	Filename   string
	StorageKey string
}

// ImageWriter records uploads and deletions for the upload pipeline.
type ImageWriter interface {
	// ProjectExists reports whether projectID names a project.
	ProjectExists(ctx context.Context, projectID int64) (bool, error)

	// CreateImage stores a pending image record.
	CreateImage(ctx context.Context, img NewImage) (domain.Image, error)

	// GetImage returns the project's image or ErrImageNotFound.
	GetImage(ctx context.Context, projectID, imageID int64) (domain.Image, error)

	// DeleteImage removes the project's image or returns ErrImageNotFound.
	DeleteImage(ctx context.Context, projectID, imageID int64) error
}
