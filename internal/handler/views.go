package handler

import (
	"encoding/json"
	"time"

	"github.com/DukeRupert/panelcheck/internal/domain"
)

// JobView is the JSON rendering of an inspection job.
type JobView struct {
	ID           int64           `json:"id"`
	Source       string          `json:"source"`
	ProjectID    int64           `json:"projectId,omitempty"`
	InspectionID int64           `json:"inspectionId,omitempty"`
	Model        string          `json:"model"`
	Status       string          `json:"status"`
	TotalImages  int             `json:"totalImages"`
	Statistics   *StatisticsView `json:"statistics,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	StartedAt    *time.Time      `json:"startedAt,omitempty"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// StatisticsView holds the counters a backend reported on completion.
type StatisticsView struct {
	RGBImages            *int            `json:"rgbImages,omitempty"`
	ThermalImages        *int            `json:"thermalImages,omitempty"`
	HealthyImages        *int            `json:"healthyImages,omitempty"`
	UnhealthyImages      *int            `json:"unhealthyImages,omitempty"`
	ProcessedImages      *int            `json:"processedImages,omitempty"`
	ProcessingEfficiency *float64        `json:"processingEfficiency,omitempty"`
	ProcessingDetails    string          `json:"processingDetails,omitempty"`
	Raw                  json.RawMessage `json:"raw,omitempty"`
}

func newJobView(j *domain.Job) *JobView {
	if j == nil {
		return nil
	}
	v := &JobView{
		ID:           j.ID,
		Source:       j.Source().String(),
		Model:        j.Model,
		Status:       j.Status.String(),
		TotalImages:  j.TotalImages,
		ErrorMessage: j.ErrorMessage,
		StartedAt:    j.StartedAt,
		CompletedAt:  j.CompletedAt,
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
	}
	switch t := j.Target.(type) {
	case domain.InternalTarget:
		v.ProjectID = t.ProjectID
	case domain.ThirdPartyTarget:
		v.InspectionID = t.InspectionID
	}

	s := j.Stats
	if s.RGBImages != nil || s.ThermalImages != nil || s.HealthyImages != nil ||
		s.UnhealthyImages != nil || s.ProcessedImages != nil ||
		s.ProcessingEfficiency != nil || s.ProcessingDetails != "" || len(s.Raw) > 0 {
		v.Statistics = &StatisticsView{
			RGBImages:            s.RGBImages,
			ThermalImages:        s.ThermalImages,
			HealthyImages:        s.HealthyImages,
			UnhealthyImages:      s.UnhealthyImages,
			ProcessedImages:      s.ProcessedImages,
			ProcessingEfficiency: s.ProcessingEfficiency,
			ProcessingDetails:    s.ProcessingDetails,
			Raw:                  s.Raw,
		}
	}
	return v
}

// ImageView is the JSON rendering of a stored image.
type ImageView struct {
	ID             int64     `json:"id"`
	ProjectID      int64     `json:"projectId"`
	Type           string    `json:"type"`
	Filename       string    `json:"filename"`
	StorageKey     string    `json:"storageKey"`
	AnalysisStatus string    `json:"analysisStatus"`
	CreatedAt      time.Time `json:"createdAt"`
}

func newImageView(img *domain.Image) ImageView {
	return ImageView{
		ID:             img.ID,
		ProjectID:      img.ProjectID,
		Type:           img.Kind.String(),
		Filename:       img.Filename,
		StorageKey:     img.StorageKey,
		AnalysisStatus: img.AnalysisStatus.String(),
		CreatedAt:      img.CreatedAt,
	}
}
