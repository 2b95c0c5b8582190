package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name string
		from JobStatus
		to   JobStatus
		want bool
	}{
		{"pending to running", JobStatusPending, JobStatusRunning, true},
		{"running to completed", JobStatusRunning, JobStatusCompleted, true},
		{"running to failed", JobStatusRunning, JobStatusFailed, true},

		{"pending to completed", JobStatusPending, JobStatusCompleted, false},
		{"pending to failed", JobStatusPending, JobStatusFailed, false},
		{"running to pending", JobStatusRunning, JobStatusPending, false},
		{"completed to failed", JobStatusCompleted, JobStatusFailed, false},
		{"completed to running", JobStatusCompleted, JobStatusRunning, false},
		{"failed to pending", JobStatusFailed, JobStatusPending, false},
		{"failed to completed", JobStatusFailed, JobStatusCompleted, false},
		{"running to running", JobStatusRunning, JobStatusRunning, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestJobStatus_Classification(t *testing.T) {
	assert.True(t, JobStatusCompleted.IsTerminal())
	assert.True(t, JobStatusFailed.IsTerminal())
	assert.False(t, JobStatusRunning.IsTerminal())
	assert.True(t, JobStatusPending.IsActive())
	assert.True(t, JobStatusRunning.IsActive())
	assert.False(t, JobStatusFailed.IsActive())
	assert.False(t, JobStatus("paused").IsValid())
}

func TestNewTarget(t *testing.T) {
	target, err := NewTarget(JobSourceInternal, 42)
	require.NoError(t, err)
	assert.Equal(t, InternalTarget{ProjectID: 42}, target)
	assert.Equal(t, JobSourceInternal, target.Source())
	assert.Equal(t, "project:42", target.String())

	target, err = NewTarget(JobSourceThirdParty, 7)
	require.NoError(t, err)
	assert.Equal(t, ThirdPartyTarget{InspectionID: 7}, target)
	assert.Equal(t, int64(7), target.Ref())

	_, err = NewTarget("OTHER", 1)
	assert.Error(t, err)

	_, err = NewTarget(JobSourceInternal, 0)
	assert.Error(t, err)
}

func TestImageKindForModel(t *testing.T) {
	assert.Equal(t, ImageKindRGB, ImageKindForModel(ModelClassification))
	assert.Equal(t, ImageKindThermal, ImageKindForModel("ALTITUDE_LOW"))
	assert.Equal(t, ImageKindThermal, ImageKindForModel("classification"))
}

func TestComputeEfficiency(t *testing.T) {
	processed := 45

	got, ok := ComputeEfficiency(&processed, 50)
	require.True(t, ok)
	assert.InDelta(t, 90.0, got, 0.0001)

	_, ok = ComputeEfficiency(nil, 50)
	assert.False(t, ok)

	_, ok = ComputeEfficiency(&processed, 0)
	assert.False(t, ok)
}

func TestTransitionFields_Apply(t *testing.T) {
	healthy := 10
	msg := "boom"
	job := &Job{Status: JobStatusRunning, PendingNotificationSent: true}

	TransitionFields{
		ErrorMessage:             &msg,
		ResetPendingNotification: true,
		Stats:                    &JobStats{HealthyImages: &healthy, ProcessingDetails: "ok"},
	}.Apply(job)

	assert.Equal(t, "boom", job.ErrorMessage)
	assert.False(t, job.PendingNotificationSent)
	require.NotNil(t, job.Stats.HealthyImages)
	assert.Equal(t, 10, *job.Stats.HealthyImages)
	assert.Equal(t, "ok", job.Stats.ProcessingDetails)

	// Copies must not alias the caller's values.
	healthy = 99
	assert.Equal(t, 10, *job.Stats.HealthyImages)
}

func TestErrorHelpers(t *testing.T) {
	err := NotFound("queue.on_status", "inspection job for", "project:1")
	assert.Equal(t, ENOTFOUND, ErrorCode(err))
	assert.Equal(t, "queue.on_status", ErrorOp(err))
	assert.Contains(t, ErrorMessage(err), "project:1")

	internal := Internal(errors.New("db down"), "op", "persist failed")
	assert.Equal(t, EINTERNAL, ErrorCode(internal))
	assert.NotContains(t, ErrorMessage(internal), "db down")

	assert.Equal(t, EINTERNAL, ErrorCode(errors.New("plain")))
	assert.Equal(t, "", ErrorCode(nil))

	down := Unavailable(errors.New("dial tcp"), "upload.image", "image storage is unavailable")
	assert.True(t, IsCode(down, EUNAVAILABLE))
	assert.False(t, IsCode(nil, EUNAVAILABLE))
	assert.Equal(t, "image storage is unavailable", ErrorMessage(down))

	wrapped := fmt.Errorf("outer: %w", Conflict("queue.on_status", "job is pending"))
	assert.True(t, IsCode(wrapped, ECONFLICT))
	assert.Equal(t, "queue.on_status", ErrorOp(wrapped))
	assert.Equal(t, "", ErrorOp(errors.New("plain")))
}
