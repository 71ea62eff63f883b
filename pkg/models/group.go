// Package models contains domain types for faultline-engine.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GroupStatus values. A group is the long-lived aggregate for one distinct
// problem; its status drives workflow and regression handling.
const (
	GroupStatusUnresolved = "unresolved"
	GroupStatusResolved   = "resolved"
	GroupStatusIgnored    = "ignored"
)

// IsValidGroupStatus reports whether s is a known group status.
func IsValidGroupStatus(s string) bool {
	switch s {
	case GroupStatusUnresolved, GroupStatusResolved, GroupStatusIgnored:
		return true
	}
	return false
}

// Group is one distinct problem, aggregated across every occurrence whose
// root hash resolved to it.
//
// times_seen only increases, last_seen is monotonic non-decreasing and
// first_seen monotonic non-increasing; all three are enforced store-side so
// concurrent attaches cannot corrupt them.
type Group struct {
	ID        uuid.UUID `json:"id"`
	ProjectID uuid.UUID `json:"project_id"`
	// ShortID is the human-facing, per-project monotonic identifier.
	ShortID   int64     `json:"short_id"`
	Status    string    `json:"status"`
	TimesSeen int64     `json:"times_seen"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	// ActiveAt is the watermark consulted and advanced by regression
	// handling.
	ActiveAt time.Time `json:"active_at"`
	// Score ranks groups by recency and volume. Any function monotonic in
	// both is acceptable; the engine uses log(times_seen)*600 + last_seen
	// epoch seconds.
	Score int64 `json:"score"`
	// Metadata carries title/culprit/type fields. Opaque to the engine.
	Metadata  JSONBMap  `json:"metadata"`
	CreatedAt time.Time `json:"created_at"`
}

// JSONBMap is a map type that handles PostgreSQL JSONB serialization.
type JSONBMap map[string]interface{}

// Value implements driver.Valuer for database serialization.
func (j JSONBMap) Value() (driver.Value, error) {
	if j == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(j)
}

// Scan implements sql.Scanner for database deserialization.
func (j *JSONBMap) Scan(value interface{}) error {
	if value == nil {
		*j = make(map[string]interface{})
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into JSONBMap", value)
	}

	return json.Unmarshal(bytes, j)
}
