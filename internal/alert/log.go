package alert

import (
	"context"
	"log/slog"
	"sync"
)

// LogNotifier writes alerts to the structured log.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("component", "alert")}
}

func (n *LogNotifier) DispatchFailed(ctx context.Context, a DispatchFailure) error {
	msg := FormatDispatchFailure(a)
	n.logger.Error(msg.Subject, "job_id", a.Job.ID, "backend", a.Backend, "reason", a.Reason)
	return nil
}

func (n *LogNotifier) JobStuck(ctx context.Context, a StuckJob) error {
	msg := FormatStuckJob(a)
	n.logger.Error(msg.Subject, "job_id", a.Job.ID, "elapsed", a.Elapsed.String())
	return nil
}

func (n *LogNotifier) PendingBacklog(ctx context.Context, a Backlog) error {
	msg := FormatBacklog(a)
	n.logger.Warn(msg.Subject, "jobs", len(a.Jobs), "oldest_age", a.OldestAge.String())
	return nil
}

// Recorder keeps alerts in memory.
type Recorder struct {
	mu             sync.Mutex
	DispatchAlerts []DispatchFailure
	StuckAlerts    []StuckJob
	BacklogAlerts  []Backlog
	Err            error // returned from every call when set
}

func (r *Recorder) DispatchFailed(ctx context.Context, a DispatchFailure) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.DispatchAlerts = append(r.DispatchAlerts, a)
	return r.Err
}

func (r *Recorder) JobStuck(ctx context.Context, a StuckJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.StuckAlerts = append(r.StuckAlerts, a)
	return r.Err
}

func (r *Recorder) PendingBacklog(ctx context.Context, a Backlog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.BacklogAlerts = append(r.BacklogAlerts, a)
	return r.Err
}

// Total returns the number of alerts recorded.
func (r *Recorder) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.DispatchAlerts) + len(r.StuckAlerts) + len(r.BacklogAlerts)
}

var (
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = (*Recorder)(nil)
)
