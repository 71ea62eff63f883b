package models

import (
	"time"

	"github.com/google/uuid"
)

// GroupResolution kinds.
const (
	// ResolutionKindInRelease pins a fix to a specific release. Occurrences
	// on that release or older do not regress the group.
	ResolutionKindInRelease = "in_release"
	// ResolutionKindPendingCommit records a referenced fix commit that has
	// not shipped in any release yet. The engine waits for release
	// propagation instead of flapping the group.
	ResolutionKindPendingCommit = "pending_commit"
)

// GroupResolution records how a group was resolved. Consulted by the
// regression engine; written by workflow tooling outside this engine,
// cleared here when a regression flips the group back to unresolved.
type GroupResolution struct {
	ID      uuid.UUID `json:"id"`
	GroupID uuid.UUID `json:"group_id"`
	Kind    string    `json:"kind"`
	// ReleaseVersion and ReleaseDate are set for in_release resolutions.
	ReleaseVersion string     `json:"release_version,omitempty"`
	ReleaseDate    *time.Time `json:"release_date,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// CoversRelease reports whether an in_release resolution still covers an
// occurrence on the given release. No release info, or a release that is
// not strictly newer than the pinned one, stays covered.
func (r *GroupResolution) CoversRelease(rel *Release) bool {
	if r.Kind != ResolutionKindInRelease {
		return false
	}
	if rel == nil {
		return true
	}
	if rel.Version == r.ReleaseVersion {
		return true
	}
	if r.ReleaseDate == nil {
		return true
	}
	return !rel.ReleasedAt.After(*r.ReleaseDate)
}
