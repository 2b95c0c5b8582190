// Package inspector defines the external inspection backends a claimed job
// is handed to.
//
// A backend only acknowledges the request. Completion is reported later
// through the status callbacks, so Submit returns as soon as the backend has
// accepted (any 2xx) or refused the job.
package inspector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/DukeRupert/panelcheck/internal/domain"
)

// DefaultTimeout bounds the wait for a backend to accept a job.
const DefaultTimeout = 30 * time.Second

const (
	maxErrorBody  = 4096     // kept for the error detail
	maxDrainBytes = 64 << 10 // read from an accepting response before closing
)

// Backend submits inspection jobs to an external processing service.
type Backend interface {
	// Name identifies the backend in logs and alerts.
	Name() string

	// Submit asks the backend to start processing. A nil error means the
	// backend accepted the job.
	Submit(ctx context.Context, req Request) error
}

// Request is everything a backend needs to start a job.
type Request struct {
	JobID     int64
	Target    domain.Target
	Model     string
	ImageKind domain.ImageKind // internal jobs only
	Images    []domain.Image   // internal jobs only
}

// Errors returned by Submit. Every Submit error wraps one of these.
var (
	// ErrRejected means the backend answered with a 4xx.
	ErrRejected = errors.New("inspection backend rejected the job")

	// ErrUnauthorized means the backend refused our credentials.
	ErrUnauthorized = errors.New("inspection backend authentication failed")

	// ErrUnavailable means the backend could not be reached or answered 5xx.
	ErrUnavailable = errors.New("inspection backend unavailable")

	// ErrTimeout means the backend did not answer within the dispatch
	// timeout.
	ErrTimeout = errors.New("inspection backend timed out")
)

// Reason returns a short label for err, for metrics.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrRejected):
		return "rejected"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

// Router picks the backend that owns a job's source.
type Router struct {
	Internal   Backend
	ThirdParty Backend
}

// For returns the backend for source.
func (r Router) For(source domain.JobSource) (Backend, error) {
	var b Backend
	switch source {
	case domain.JobSourceInternal:
		b = r.Internal
	case domain.JobSourceThirdParty:
		b = r.ThirdParty
	}
	if b == nil {
		return nil, fmt.Errorf("no inspection backend configured for source %q", source)
	}
	return b, nil
}

// PostJSON sends payload to url and maps the outcome onto the Submit errors.
// Any 2xx response is success; the body is ignored.
func PostJSON(ctx context.Context, client *http.Client, url string, header http.Header, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		// Drain a bounded amount so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return mapHTTPError(resp.StatusCode, respBody)
}

// mapHTTPError maps a non-2xx status onto the Submit errors.
func mapHTTPError(statusCode int, body []byte) error {
	detail := string(bytes.TrimSpace(body))

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return fmt.Errorf("%w (status %d)", ErrUnauthorized, statusCode)
	case statusCode == http.StatusRequestTimeout || statusCode == http.StatusGatewayTimeout:
		return fmt.Errorf("%w (status %d)", ErrTimeout, statusCode)
	case statusCode >= 400 && statusCode < 500:
		return fmt.Errorf("%w (status %d): %s", ErrRejected, statusCode, detail)
	default:
		return fmt.Errorf("%w (status %d): %s", ErrUnavailable, statusCode, detail)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
