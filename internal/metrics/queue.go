package metrics

import (
	"time"

	"github.com/DukeRupert/panelcheck/internal/domain"
)

// JobEnqueued records a new pending job.
func JobEnqueued(source domain.JobSource) {
	JobsEnqueued.WithLabelValues(source.String()).Inc()
}

// JobClaimed records a pending to running transition.
func JobClaimed(source domain.JobSource) {
	JobsClaimed.WithLabelValues(source.String()).Inc()
}

// JobFinished records a terminal transition. startedAt may be nil for jobs
// that never reported a start time.
func JobFinished(source domain.JobSource, status domain.JobStatus, startedAt *time.Time, finishedAt time.Time) {
	JobTransitions.WithLabelValues(source.String(), status.String()).Inc()
	if startedAt != nil {
		JobRunDuration.WithLabelValues(source.String()).Observe(finishedAt.Sub(*startedAt).Seconds())
	}
}

// DispatchFailed records a job failed during dispatch.
func DispatchFailed(source domain.JobSource, reason string) {
	DispatchFailures.WithLabelValues(source.String(), reason).Inc()
}

// JobReaped records a stuck running job failed by the sweep.
func JobReaped() {
	ReapedJobs.Inc()
}

// PendingAlertSent records one pending-backlog alert.
func PendingAlertSent() {
	PendingAlerts.Inc()
}

// SetQueueDepth publishes job counts per status.
func SetQueueDepth(counts map[domain.JobStatus]int) {
	for status, n := range counts {
		QueueJobs.WithLabelValues(status.String()).Set(float64(n))
	}
}
