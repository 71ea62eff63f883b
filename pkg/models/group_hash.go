package models

import (
	"time"

	"github.com/google/uuid"
)

// GroupHash states. State transitions are driven by admin tooling; the
// engine only reads them.
const (
	// HashStateUnlocked is the normal state: the hash may be attached to a
	// group.
	HashStateUnlocked = "unlocked"
	// HashStateLockedInMigration marks a hash owned by a concurrent
	// administrative migration. It must not be (re)assigned until unlocked.
	HashStateLockedInMigration = "locked_in_migration"
	// HashStateSplit marks a hash that proved too coarse. It owns no group;
	// resolution descends to the next, more specific hash in the
	// hierarchical chain.
	HashStateSplit = "split"
	// HashStateTombstoned marks a hash whose occurrences are discarded
	// outright. A tombstoned hash is never attached to any group.
	HashStateTombstoned = "tombstoned"
)

// IsValidHashState reports whether s is a known hash state.
func IsValidHashState(s string) bool {
	switch s {
	case HashStateUnlocked, HashStateLockedInMigration, HashStateSplit, HashStateTombstoned:
		return true
	}
	return false
}

// GroupHash maps one fingerprint value to at most one owning group.
// (project_id, hash) is unique. GroupID stays nil until the creation race
// winner, or a later migration, assigns it.
type GroupHash struct {
	ID        uuid.UUID  `json:"id"`
	ProjectID uuid.UUID  `json:"project_id"`
	Hash      string     `json:"hash"`
	GroupID   *uuid.UUID `json:"group_id,omitempty"`
	State     string     `json:"state"`
	CreatedAt time.Time  `json:"created_at"`
}

// Assigned reports whether the hash already belongs to a group.
func (gh *GroupHash) Assigned() bool {
	return gh.GroupID != nil
}

// Assignable reports whether the aggregator may set this hash's group.
// Tombstoned hashes never reach assignment (resolution discards first);
// split hashes own no group by definition.
func (gh *GroupHash) Assignable() bool {
	return gh.GroupID == nil &&
		gh.State != HashStateLockedInMigration &&
		gh.State != HashStateSplit &&
		gh.State != HashStateTombstoned
}
