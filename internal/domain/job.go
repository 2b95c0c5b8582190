// Package domain contains core business types and interfaces.
//
// This file defines the inspection Job, its status state machine and the
// Target sum type that binds a job to one of the two inspection backends.
package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// =============================================================================
// Job Source
// =============================================================================

// JobSource identifies which external inspection backend owns a job.
type JobSource string

const (
	// JobSourceInternal jobs run on the in-house inspection service and
	// reference a local project.
	JobSourceInternal JobSource = "INTERNAL"

	// JobSourceThirdParty jobs run on the Scopito platform and reference an
	// external inspection id.
	JobSourceThirdParty JobSource = "THIRD_PARTY"
)

// String returns the string representation of the source.
func (s JobSource) String() string {
	return string(s)
}

// IsValid returns true if the source is a recognized value.
func (s JobSource) IsValid() bool {
	return s == JobSourceInternal || s == JobSourceThirdParty
}

// =============================================================================
// Job Status
// =============================================================================

// JobStatus represents the lifecycle state of an inspection job.
type JobStatus string

const (
	// JobStatusPending is the initial state. The job waits in the queue.
	JobStatusPending JobStatus = "pending"

	// JobStatusRunning means the job was claimed and handed to a backend.
	// At most one job holds this state at any time.
	JobStatusRunning JobStatus = "running"

	// JobStatusCompleted is terminal: the backend reported success.
	JobStatusCompleted JobStatus = "completed"

	// JobStatusFailed is terminal: dispatch failed, the backend reported
	// failure, or the watchdog timed the job out.
	JobStatusFailed JobStatus = "failed"
)

// AllJobStatuses lists every status in lifecycle order.
var AllJobStatuses = []JobStatus{
	JobStatusPending,
	JobStatusRunning,
	JobStatusCompleted,
	JobStatusFailed,
}

// String returns the string representation of the status.
func (s JobStatus) String() string {
	return string(s)
}

// IsValid returns true if the status is a recognized value.
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// IsTerminal returns true for completed and failed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// IsActive returns true for pending and running.
func (s JobStatus) IsActive() bool {
	return s == JobStatusPending || s == JobStatusRunning
}

// CanTransitionTo checks if a job can move from s to target.
//
// Valid transitions:
// - pending -> running (queue claim)
// - running -> completed (backend success callback)
// - running -> failed (backend failure, dispatch failure, watchdog timeout)
//
// Nothing leaves a terminal state and nothing skips running.
func (s JobStatus) CanTransitionTo(target JobStatus) bool {
	switch s {
	case JobStatusPending:
		return target == JobStatusRunning
	case JobStatusRunning:
		return target == JobStatusCompleted || target == JobStatusFailed
	}
	return false
}

// =============================================================================
// Target
// =============================================================================

// Target is the resource an inspection job operates on. It is a closed sum
// type: InternalTarget or ThirdPartyTarget.
type Target interface {
	// Source returns the backend that owns jobs for this target.
	Source() JobSource
	// Ref returns the numeric reference (project id or external inspection id).
	Ref() int64
	String() string

	isTarget()
}

// InternalTarget references a local project processed by the in-house backend.
type InternalTarget struct {
	ProjectID int64
}

func (InternalTarget) Source() JobSource { return JobSourceInternal }
func (t InternalTarget) Ref() int64      { return t.ProjectID }
func (t InternalTarget) String() string  { return fmt.Sprintf("project:%d", t.ProjectID) }
func (InternalTarget) isTarget()         {}

// ThirdPartyTarget references an inspection on the Scopito platform.
type ThirdPartyTarget struct {
	InspectionID int64
}

func (ThirdPartyTarget) Source() JobSource { return JobSourceThirdParty }
func (t ThirdPartyTarget) Ref() int64      { return t.InspectionID }
func (t ThirdPartyTarget) String() string  { return fmt.Sprintf("scopito:%d", t.InspectionID) }
func (ThirdPartyTarget) isTarget()         {}

// NewTarget builds the Target for a source and reference.
func NewTarget(source JobSource, ref int64) (Target, error) {
	if ref <= 0 {
		return nil, fmt.Errorf("target reference must be positive, got %d", ref)
	}
	switch source {
	case JobSourceInternal:
		return InternalTarget{ProjectID: ref}, nil
	case JobSourceThirdParty:
		return ThirdPartyTarget{InspectionID: ref}, nil
	}
	return nil, fmt.Errorf("unknown job source %q", source)
}

// =============================================================================
// Inspection Models
// =============================================================================

// ModelClassification is the inspection profile that runs on RGB imagery.
// Every other model (altitude classes) runs on thermal imagery.
const ModelClassification = "CLASSIFICATION"

// ImageKindForModel returns the image kind an inspection model consumes.
func ImageKindForModel(model string) ImageKind {
	if model == ModelClassification {
		return ImageKindRGB
	}
	return ImageKindThermal
}

// =============================================================================
// Job Domain Type
// =============================================================================

// JobStats holds the result statistics reported by a backend on completion.
// Nil counters were not reported.
type JobStats struct {
	RGBImages            *int
	ThermalImages        *int
	HealthyImages        *int
	UnhealthyImages      *int
	ProcessedImages      *int
	ProcessingEfficiency *float64
	ProcessingDetails    string
	Raw                  json.RawMessage // Statistics payload as received
}

// ComputeEfficiency returns processed/total*100 when both are known and total
// is positive.
func ComputeEfficiency(processed *int, total int) (float64, bool) {
	if processed == nil || total <= 0 {
		return 0, false
	}
	return float64(*processed) / float64(total) * 100, true
}

// Job is one inspection request tracked through the queue.
//
// Jobs are never deleted. The table doubles as an audit trail.
type Job struct {
	ID                      int64
	Target                  Target
	Model                   string
	Status                  JobStatus
	TotalImages             int
	Stats                   JobStats
	ErrorMessage            string
	PendingNotificationSent bool
	StartedAt               *time.Time
	CompletedAt             *time.Time
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// Source returns the backend that owns the job.
func (j *Job) Source() JobSource {
	if j.Target == nil {
		return ""
	}
	return j.Target.Source()
}

// Clone returns a deep copy of the job.
func (j *Job) Clone() *Job {
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	c.Stats = j.Stats.clone()
	return &c
}

func (s JobStats) clone() JobStats {
	c := s
	c.RGBImages = cloneInt(s.RGBImages)
	c.ThermalImages = cloneInt(s.ThermalImages)
	c.HealthyImages = cloneInt(s.HealthyImages)
	c.UnhealthyImages = cloneInt(s.UnhealthyImages)
	c.ProcessedImages = cloneInt(s.ProcessedImages)
	if s.ProcessingEfficiency != nil {
		v := *s.ProcessingEfficiency
		c.ProcessingEfficiency = &v
	}
	if s.Raw != nil {
		c.Raw = append(json.RawMessage(nil), s.Raw...)
	}
	return c
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// TransitionFields are the columns written alongside a status change.
// Nil fields leave the stored value untouched.
type TransitionFields struct {
	StartedAt                *time.Time
	CompletedAt              *time.Time
	ErrorMessage             *string
	ResetPendingNotification bool
	TotalImages              *int
	Stats                    *JobStats
}

// Apply writes the fields onto j. Stores use it to keep in-memory copies in
// step with what they persisted.
func (f TransitionFields) Apply(j *Job) {
	if f.StartedAt != nil {
		t := *f.StartedAt
		j.StartedAt = &t
	}
	if f.CompletedAt != nil {
		t := *f.CompletedAt
		j.CompletedAt = &t
	}
	if f.ErrorMessage != nil {
		j.ErrorMessage = *f.ErrorMessage
	}
	if f.ResetPendingNotification {
		j.PendingNotificationSent = false
	}
	if f.TotalImages != nil {
		j.TotalImages = *f.TotalImages
	}
	if f.Stats != nil {
		s := f.Stats.clone()
		merge := func(dst **int, src *int) {
			if src != nil {
				*dst = src
			}
		}
		merge(&j.Stats.RGBImages, s.RGBImages)
		merge(&j.Stats.ThermalImages, s.ThermalImages)
		merge(&j.Stats.HealthyImages, s.HealthyImages)
		merge(&j.Stats.UnhealthyImages, s.UnhealthyImages)
		merge(&j.Stats.ProcessedImages, s.ProcessedImages)
		if s.ProcessingEfficiency != nil {
			j.Stats.ProcessingEfficiency = s.ProcessingEfficiency
		}
		if s.ProcessingDetails != "" {
			j.Stats.ProcessingDetails = s.ProcessingDetails
		}
		if s.Raw != nil {
			j.Stats.Raw = s.Raw
		}
	}
}
