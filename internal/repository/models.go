package repository

import (
	"database/sql"
	"time"

	"github.com/sqlc-dev/pqtype"
)

type InspectionJob struct {
	ID                      int64
	Source                  string
	ProjectID               sql.NullInt64
	ExternalInspectionID    sql.NullInt64
	Model                   string
	Status                  string
	TotalImages             int32
	RgbImages               sql.NullInt32
	ThermalImages           sql.NullInt32
	HealthyImages           sql.NullInt32
	UnhealthyImages         sql.NullInt32
	ProcessedImages         sql.NullInt32
	ProcessingEfficiency    sql.NullFloat64
	ProcessingDetails       sql.NullString
	Statistics              pqtype.NullRawMessage
	ErrorMessage            sql.NullString
	PendingNotificationSent bool
	StartedAt               sql.NullTime
	CompletedAt             sql.NullTime
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

type Project struct {
	ID                   int64
	Name                 string
	ScopitoInspectionID  sql.NullInt64
	InspectionInProgress bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

type Image struct {
	ID             int64
	ProjectID      int64
	ImageType      string
	Filename       string
	StorageKey     string
	AnalysisStatus string
	CreatedAt      time.Time
}
