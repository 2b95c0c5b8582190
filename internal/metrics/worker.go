package metrics

import "time"

// TaskCompleted records a successful periodic task run
func TaskCompleted(task string, duration time.Duration) {
	TaskRuns.WithLabelValues(task, "completed").Inc()
	TaskDuration.WithLabelValues(task).Observe(duration.Seconds())
}

// TaskFailed records a failed periodic task run
func TaskFailed(task string, duration time.Duration) {
	TaskRuns.WithLabelValues(task, "failed").Inc()
	TaskDuration.WithLabelValues(task).Observe(duration.Seconds())
}

// LockAttempt records the result of a lock acquisition attempt
func LockAttempt(result string) {
	LockAcquisitions.WithLabelValues(result).Inc()
}

// ArchiveFinished records an archive regeneration run
func ArchiveFinished(result string, duration time.Duration) {
	ArchiveRuns.WithLabelValues(result).Inc()
	if result != "skipped" {
		ArchiveDuration.Observe(duration.Seconds())
	}
}

// ImageUploaded records a stored image upload
func ImageUploaded(kind string) {
	ImageOperations.WithLabelValues("upload", kind).Inc()
}

// ImageDeleted records a removed image
func ImageDeleted(kind string) {
	ImageOperations.WithLabelValues("delete", kind).Inc()
}
