package domain

import "time"

// ImageKind is the sensor an aerial image was captured with.
type ImageKind string

const (
	ImageKindRGB     ImageKind = "RGB"
	ImageKindThermal ImageKind = "THERMAL"
)

// String returns the string representation of the kind.
func (k ImageKind) String() string {
	return string(k)
}

// IsValid returns true if the kind is a recognized value.
func (k ImageKind) IsValid() bool {
	return k == ImageKindRGB || k == ImageKindThermal
}

// ImageAnalysisStatus is the per-image inspection outcome.
type ImageAnalysisStatus string

const (
	// ImageAnalysisStatusPending means the image has not been sent anywhere.
	ImageAnalysisStatusPending ImageAnalysisStatus = "pending"

	// ImageAnalysisStatusQueued means the image was handed to a backend and
	// no verdict has been reported for it yet.
	ImageAnalysisStatusQueued ImageAnalysisStatus = "queued"

	ImageAnalysisStatusHealthy   ImageAnalysisStatus = "healthy"
	ImageAnalysisStatusUnhealthy ImageAnalysisStatus = "unhealthy"
)

// String returns the string representation of the status.
func (s ImageAnalysisStatus) String() string {
	return string(s)
}

// Image is an uploaded aerial image of a solar installation.
type Image struct {
	ID             int64
	ProjectID      int64
	Kind           ImageKind
	Filename       string
	StorageKey     string
	AnalysisStatus ImageAnalysisStatus
	CreatedAt      time.Time
}
