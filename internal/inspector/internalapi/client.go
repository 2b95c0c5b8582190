// Package internalapi submits jobs to the in-house inspection service.
package internalapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/DukeRupert/panelcheck/internal/domain"
	"github.com/DukeRupert/panelcheck/internal/inspector"
)

// imageURLExpiry is how long presigned image URLs stay valid. The service
// downloads every image long before this.
const imageURLExpiry = 24 * time.Hour

// URLResolver turns a storage key into a URL the service can download from.
// storage.Storage satisfies it.
type URLResolver interface {
	URL(ctx context.Context, key string, expires time.Duration) (string, error)
}

// Config contains configuration for the internal inspection client
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client implements inspector.Backend for the in-house service.
type Client struct {
	baseURL string
	client  *http.Client
	urls    URLResolver
	logger  *slog.Logger
}

// New creates a Client. urls may be nil, in which case images are sent by
// key only.
func New(cfg Config, urls URLResolver, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("internal inspector URL is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = inspector.DefaultTimeout
	}

	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
		urls:    urls,
		logger:  logger,
	}, nil
}

// Name implements inspector.Backend.
func (c *Client) Name() string {
	return "internal"
}

type imageRef struct {
	ID  int64  `json:"id"`
	Key string `json:"key"`
	URL string `json:"url,omitempty"`
}

type inspectRequest struct {
	JobID     int64      `json:"job_id"`
	ProjectID int64      `json:"project_id"`
	Model     string     `json:"model"`
	ImageType string     `json:"image_type"`
	Images    []imageRef `json:"images"`
}

// Submit implements inspector.Backend.
func (c *Client) Submit(ctx context.Context, req inspector.Request) error {
	target, ok := req.Target.(domain.InternalTarget)
	if !ok {
		return fmt.Errorf("internal inspector cannot handle target %s", req.Target)
	}

	payload := inspectRequest{
		JobID:     req.JobID,
		ProjectID: target.ProjectID,
		Model:     req.Model,
		ImageType: req.ImageKind.String(),
		Images:    make([]imageRef, 0, len(req.Images)),
	}
	for _, img := range req.Images {
		ref := imageRef{ID: img.ID, Key: img.StorageKey}
		if c.urls != nil {
			url, err := c.urls.URL(ctx, img.StorageKey, imageURLExpiry)
			if err != nil {
				return fmt.Errorf("resolve url for image %d: %w", img.ID, err)
			}
			ref.URL = url
		}
		payload.Images = append(payload.Images, ref)
	}

	start := time.Now()
	err := inspector.PostJSON(ctx, c.client, c.baseURL+"/inspect", nil, payload)

	c.logger.Info("internal inspection submitted",
		"job_id", req.JobID,
		"project_id", target.ProjectID,
		"model", req.Model,
		"images", len(payload.Images),
		"duration_ms", time.Since(start).Milliseconds(),
		"error", err,
	)
	return err
}

var _ inspector.Backend = (*Client)(nil)
