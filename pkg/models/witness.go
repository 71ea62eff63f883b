package models

import (
	"time"

	"github.com/google/uuid"
)

// RegressionWitness is the decision record produced when a resolved group
// is evaluated against a new occurrence. Published to external notification
// and audit plumbing; the engine itself does not store it.
type RegressionWitness struct {
	GroupID        uuid.UUID `json:"group_id"`
	ProjectID      uuid.UUID `json:"project_id"`
	OccurredAt     time.Time `json:"occurred_at"`
	ReleaseVersion string    `json:"release_version,omitempty"`
	IsRegression   bool      `json:"is_regression"`
}
