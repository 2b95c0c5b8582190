package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/DukeRupert/panelcheck/internal/domain"
	"github.com/DukeRupert/panelcheck/internal/upload"
)

// ProjectLookup reports whether a project exists.
type ProjectLookup interface {
	ProjectExists(ctx context.Context, projectID int64) (bool, error)
}

// ProjectHandler serves image uploads and archive requests for a project.
type ProjectHandler struct {
	projects ProjectLookup
	uploads  *upload.Service
	archiver upload.Archiver
	logger   *slog.Logger
}

// NewProjectHandler creates a new ProjectHandler.
func NewProjectHandler(projects ProjectLookup, uploads *upload.Service, archiver upload.Archiver, logger *slog.Logger) *ProjectHandler {
	return &ProjectHandler{
		projects: projects,
		uploads:  uploads,
		archiver: archiver,
		logger:   logger,
	}
}

// RegisterRoutes registers project routes.
//
// Routes:
// - POST   /projects/{id}/archive           -> Archive
// - POST   /projects/{id}/images            -> UploadImage
// - DELETE /projects/{id}/images/{imageId}  -> DeleteImage
func (h *ProjectHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /projects/{id}/archive", h.Archive)
	mux.HandleFunc("POST /projects/{id}/images", h.UploadImage)
	mux.HandleFunc("DELETE /projects/{id}/images/{imageId}", h.DeleteImage)
}

// Archive handles POST /projects/{id}/archive. Regeneration runs in the
// background; a run already in flight absorbs the request.
func (h *ProjectHandler) Archive(w http.ResponseWriter, r *http.Request) {
	const op = "handler.archive_project"

	projectID, err := pathID(r, "id", op)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	if err := h.requireProject(r, op, projectID); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	h.archiver.Trigger(projectID)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":    "accepted",
		"message":   fmt.Sprintf("Archive regeneration scheduled for project %d", projectID),
		"projectId": projectID,
	})
}

// UploadImage handles POST /projects/{id}/images as multipart/form-data with
// a "file" part and a "type" field (RGB or THERMAL).
func (h *ProjectHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	const op = "handler.upload_image"

	projectID, err := pathID(r, "id", op)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, upload.MaxImageSize+(1<<20))
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			ErrorResponse(w, r, h.logger, domain.Invalid(op, "upload exceeds the maximum image size"))
			return
		}
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "expected a multipart form"))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "file is required"))
		return
	}
	defer file.Close()

	kind := domain.ImageKind(strings.ToUpper(strings.TrimSpace(r.FormValue("type"))))
	img, err := h.uploads.Upload(r.Context(), projectID, kind, header.Filename, file)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, newImageView(img))
}

// DeleteImage handles DELETE /projects/{id}/images/{imageId}.
func (h *ProjectHandler) DeleteImage(w http.ResponseWriter, r *http.Request) {
	const op = "handler.delete_image"

	projectID, err := pathID(r, "id", op)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	imageID, err := pathID(r, "imageId", op)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	if err := h.uploads.Delete(r.Context(), projectID, imageID); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ProjectHandler) requireProject(r *http.Request, op string, projectID int64) error {
	ok, err := h.projects.ProjectExists(r.Context(), projectID)
	if err != nil {
		return domain.Internal(err, op, "failed to look up project")
	}
	if !ok {
		return domain.NotFound(op, "project", strconv.FormatInt(projectID, 10))
	}
	return nil
}

// pathID parses a positive integer path value.
func pathID(r *http.Request, name, op string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.Invalid(op, fmt.Sprintf("%s must be a positive integer", name))
	}
	return id, nil
}
