package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestGroupHashAssignable(t *testing.T) {
	groupID := uuid.New()

	tests := []struct {
		name       string
		hash       GroupHash
		assignable bool
	}{
		{"unlocked and free", GroupHash{State: HashStateUnlocked}, true},
		{"already assigned", GroupHash{State: HashStateUnlocked, GroupID: &groupID}, false},
		{"locked in migration", GroupHash{State: HashStateLockedInMigration}, false},
		{"split", GroupHash{State: HashStateSplit}, false},
		{"tombstoned", GroupHash{State: HashStateTombstoned}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.assignable, tt.hash.Assignable())
		})
	}
}

func TestGroupHashAssigned(t *testing.T) {
	groupID := uuid.New()

	assert.False(t, (&GroupHash{}).Assigned())
	assert.True(t, (&GroupHash{GroupID: &groupID}).Assigned())
}

func TestIsValidHashState(t *testing.T) {
	for _, s := range []string{HashStateUnlocked, HashStateLockedInMigration, HashStateSplit, HashStateTombstoned} {
		assert.True(t, IsValidHashState(s), s)
	}
	assert.False(t, IsValidHashState("melted"))
}
