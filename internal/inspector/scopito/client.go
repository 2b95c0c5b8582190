// Package scopito submits jobs to the Scopito inspection platform.
package scopito

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

// Config contains configuration for the Scopito client
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client implements inspector.Backend for Scopito.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

// New creates a Scopito client.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("scopito API URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("scopito API key is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = inspector.DefaultTimeout
	}

	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
	}, nil
}

// Name implements inspector.Backend.
func (c *Client) Name() string {
	return "scopito"
}

type processRequest struct {
	JobID int64  `json:"job_id"`
	Model string `json:"model"`
}

// Submit implements inspector.Backend. Scopito already holds the imagery,
// so only the inspection id and model are sent.
func (c *Client) Submit(ctx context.Context, req inspector.Request) error {
	target, ok := req.Target.(domain.ThirdPartyTarget)
	if !ok {
		return fmt.Errorf("scopito cannot handle target %s", req.Target)
	}

	url := fmt.Sprintf("%s/inspections/%d/process", c.baseURL, target.InspectionID)
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	err := inspector.PostJSON(ctx, c.client, url, header, processRequest{
		JobID: req.JobID,
		Model: req.Model,
	})

	c.logger.Info("scopito inspection submitted",
		"job_id", req.JobID,
		"inspection_id", target.InspectionID,
		"model", req.Model,
		"duration_ms", time.Since(start).Milliseconds(),
		"error", err,
	)
	return err
}

var _ inspector.Backend = (*Client)(nil)
