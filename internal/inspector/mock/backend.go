// Package mock provides an in-process inspection backend for tests and
// local development.
package mock

import (
	"context"
	"log/slog"
	"sync"

	"github.com/DukeRupert/panelcheck/internal/inspector"
)

// Backend records submissions and accepts them unless Err is set.
type Backend struct {
	name   string
	logger *slog.Logger

	mu    sync.Mutex
	err   error
	calls []inspector.Request
}

// New creates a mock backend.
func New(name string, logger *slog.Logger) *Backend {
	return &Backend{name: name, logger: logger}
}

// Name implements inspector.Backend.
func (b *Backend) Name() string {
	return b.name
}

// Submit implements inspector.Backend.
func (b *Backend) Submit(ctx context.Context, req inspector.Request) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.calls = append(b.calls, req)
	if b.logger != nil {
		b.logger.Info("mock inspection submitted",
			"backend", b.name,
			"job_id", req.JobID,
			"target", req.Target.String(),
			"images", len(req.Images),
		)
	}
	return b.err
}

// FailWith makes subsequent submissions return err. nil restores success.
func (b *Backend) FailWith(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
}

// Calls returns a copy of every request received.
func (b *Backend) Calls() []inspector.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]inspector.Request(nil), b.calls...)
}

var _ inspector.Backend = (*Backend)(nil)
