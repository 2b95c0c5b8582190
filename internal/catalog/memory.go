package catalog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/DukeRupert/panelcheck/internal/domain"
)

// Project is the in-memory project record.
type Project struct {
	ID                   int64
	Name                 string
	ScopitoInspectionID  int64 // zero when the project is not linked
	InspectionInProgress bool
}

// MemoryCatalog implements Catalog in process memory.
type MemoryCatalog struct {
	mu          sync.Mutex
	projects    map[int64]*Project
	images      map[int64]*domain.Image
	nextImageID int64
}

// NewMemoryCatalog creates an empty MemoryCatalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		projects: make(map[int64]*Project),
		images:   make(map[int64]*domain.Image),
	}
}

// AddProject registers a project.
func (c *MemoryCatalog) AddProject(p Project) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cp := p
	c.projects[p.ID] = &cp
}

// AddImage registers an image and returns its id. Status defaults to pending.
func (c *MemoryCatalog) AddImage(img domain.Image) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextImageID++
	img.ID = c.nextImageID
	if img.AnalysisStatus == "" {
		img.AnalysisStatus = domain.ImageAnalysisStatusPending
	}
	if img.CreatedAt.IsZero() {
		img.CreatedAt = time.Now()
	}
	c.images[img.ID] = &img
	return img.ID
}

// Project returns a copy of the project record.
func (c *MemoryCatalog) Project(id int64) (Project, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.projects[id]
	if !ok {
		return Project{}, false
	}
	return *p, true
}

func (c *MemoryCatalog) ListImages(ctx context.Context, projectID int64, kind domain.ImageKind) ([]domain.Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []domain.Image
	for _, img := range c.images {
		if img.ProjectID == projectID && (kind == "" || img.Kind == kind) {
			out = append(out, *img)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *MemoryCatalog) ResolveProject(ctx context.Context, target domain.Target) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.resolveLocked(target)
	if p == nil {
		return 0, false, nil
	}
	return p.ID, true, nil
}

func (c *MemoryCatalog) SetInspectionInProgress(ctx context.Context, target domain.Target, inProgress bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p := c.resolveLocked(target); p != nil {
		p.InspectionInProgress = inProgress
	}
	return nil
}

func (c *MemoryCatalog) MarkQueued(ctx context.Context, projectID int64, kind domain.ImageKind) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, img := range c.images {
		if img.ProjectID == projectID && img.Kind == kind && img.AnalysisStatus == domain.ImageAnalysisStatusPending {
			img.AnalysisStatus = domain.ImageAnalysisStatusQueued
			n++
		}
	}
	return n, nil
}

func (c *MemoryCatalog) ReconcileQueuedImages(ctx context.Context, target domain.Target) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.resolveLocked(target)
	if p == nil {
		return 0, nil
	}
	n := 0
	for _, img := range c.images {
		if img.ProjectID == p.ID && img.AnalysisStatus == domain.ImageAnalysisStatusQueued {
			img.AnalysisStatus = domain.ImageAnalysisStatusHealthy
			n++
		}
	}
	return n, nil
}

func (c *MemoryCatalog) resolveLocked(target domain.Target) *Project {
	switch t := target.(type) {
	case domain.InternalTarget:
		return c.projects[t.ProjectID]
	case domain.ThirdPartyTarget:
		for _, p := range c.projects {
			if p.ScopitoInspectionID != 0 && p.ScopitoInspectionID == t.InspectionID {
				return p
			}
		}
	}
	return nil
}

func (c *MemoryCatalog) ProjectExists(ctx context.Context, projectID int64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.projects[projectID]
	return ok, nil
}

func (c *MemoryCatalog) CreateImage(ctx context.Context, img NewImage) (domain.Image, error) {
	id := c.AddImage(domain.Image{
		ProjectID:  img.ProjectID,
		Kind:       img.Kind,
		Filename:   img.Filename,
		StorageKey: img.StorageKey,
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.images[id], nil
}

func (c *MemoryCatalog) GetImage(ctx context.Context, projectID, imageID int64) (domain.Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	img, ok := c.images[imageID]
	if !ok || img.ProjectID != projectID {
		return domain.Image{}, ErrImageNotFound
	}
	return *img, nil
}

func (c *MemoryCatalog) DeleteImage(ctx context.Context, projectID, imageID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	img, ok := c.images[imageID]
	if !ok || img.ProjectID != projectID {
		return ErrImageNotFound
	}
	delete(c.images, imageID)
	return nil
}

var (
	_ Catalog     = (*MemoryCatalog)(nil)
	_ ImageWriter = (*MemoryCatalog)(nil)
)
