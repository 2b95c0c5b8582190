// Package alert delivers operator alerts raised by the inspection queue.
//
// Three conditions are alerted on, each with its own severity:
// - a job failed while being dispatched ([ALERT])
// - a running job stopped reporting and was failed by the sweep ([CRITICAL])
// - pending jobs have waited past the pending timeout ([WARNING])
//
// Alerts go to operators only. End users see the job status, never these
// messages.
package alert

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/DukeRupert/panelcheck/internal/domain"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Notifier sends operator alerts.
//
// Implementations:
// - SMTPNotifier: email to the configured alert recipients
// - LogNotifier: structured log lines, for deployments without SMTP
// - Recorder: keeps alerts in memory for tests
type Notifier interface {
	DispatchFailed(ctx context.Context, a DispatchFailure) error
	JobStuck(ctx context.Context, a StuckJob) error
	PendingBacklog(ctx context.Context, a Backlog) error
}

// =============================================================================
// Alert Types
// =============================================================================

// DispatchFailure describes a job failed before the backend accepted it.
type DispatchFailure struct {
	Job     *domain.Job
	Backend string
	Reason  string
}

// StuckJob describes a running job failed by the stuck-job sweep.
type StuckJob struct {
	Job     *domain.Job
	Elapsed time.Duration // time since the job was claimed
	Timeout time.Duration
}

// Backlog describes pending jobs that have waited too long.
type Backlog struct {
	Jobs      []*domain.Job
	Counts    map[domain.JobStatus]int
	OldestAge time.Duration
	Timeout   time.Duration
	Now       time.Time
}

// Message is a rendered alert.
type Message struct {
	Subject string
	Body    string
}

// =============================================================================
// Formatting
// =============================================================================

// FormatDispatchFailure renders a dispatch failure alert.
func FormatDispatchFailure(a DispatchFailure) Message {
	j := a.Job
	var b strings.Builder
	fmt.Fprintf(&b, "Inspection job %d failed during dispatch.\n\n", j.ID)
	writeJob(&b, j)
	fmt.Fprintf(&b, "Backend:  %s\n", a.Backend)
	fmt.Fprintf(&b, "Error:    %s\n", a.Reason)
	b.WriteString("\nThe queue was not advanced automatically.\n")

	return Message{
		Subject: fmt.Sprintf("[ALERT] dispatch failed for job %d (%s)", j.ID, j.Target),
		Body:    b.String(),
	}
}

// FormatStuckJob renders a stuck job alert.
func FormatStuckJob(a StuckJob) Message {
	j := a.Job
	var b strings.Builder
	fmt.Fprintf(&b, "Inspection job %d was running for %s with no update and has been marked failed.\n\n",
		j.ID, a.Elapsed.Round(time.Second))
	writeJob(&b, j)
	fmt.Fprintf(&b, "Timeout:  %s\n", a.Timeout)
	fmt.Fprintf(&b, "Updated:  %s\n", j.UpdatedAt.UTC().Format(time.RFC3339))
	b.WriteString("\nThe job was blocking the queue. The next pending job is being claimed.\n")

	return Message{
		Subject: fmt.Sprintf("[CRITICAL] job stuck: %d (%s)", j.ID, j.Target),
		Body:    b.String(),
	}
}

// FormatBacklog renders a pending backlog alert.
func FormatBacklog(a Backlog) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "%d inspection job(s) have been pending for more than %s.\n\n", len(a.Jobs), a.Timeout)

	b.WriteString("Queue:\n")
	for _, s := range domain.AllJobStatuses {
		fmt.Fprintf(&b, "  %-10s %d\n", s, a.Counts[s])
	}
	fmt.Fprintf(&b, "Oldest pending job age: %s\n\n", a.OldestAge.Round(time.Second))

	jobs := append([]*domain.Job(nil), a.Jobs...)
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].CreatedAt.Before(jobs[k].CreatedAt) })
	b.WriteString("Waiting jobs:\n")
	for _, j := range jobs {
		fmt.Fprintf(&b, "  #%d %s model=%s waiting %s\n",
			j.ID, j.Target, j.Model, a.Now.Sub(j.CreatedAt).Round(time.Second))
	}
	b.WriteString("\nPending jobs are not modified. Check that the running job's backend is reporting back.\n")

	return Message{
		Subject: fmt.Sprintf("[WARNING] queue not draining: %d job(s) pending", len(a.Jobs)),
		Body:    b.String(),
	}
}

func writeJob(b *strings.Builder, j *domain.Job) {
	fmt.Fprintf(b, "Job:      %d\n", j.ID)
	fmt.Fprintf(b, "Source:   %s\n", j.Source())
	fmt.Fprintf(b, "Target:   %s\n", j.Target)
	fmt.Fprintf(b, "Model:    %s\n", j.Model)
}
