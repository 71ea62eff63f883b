package models

import (
	"time"

	"github.com/google/uuid"
)

// Release identifies the deployed version an occurrence was observed on.
// The engine does not own release bookkeeping; it only compares what the
// normalizer hands it against release-pinned resolutions.
type Release struct {
	Version    string    `json:"version"`
	ReleasedAt time.Time `json:"released_at"`
}

// NormalizedOccurrence is the inbound unit of work: one already-normalized
// error event with its fingerprint hashes precomputed by the external
// grouping-config provider. The engine never recomputes hashes.
type NormalizedOccurrence struct {
	ProjectID uuid.UUID `json:"project_id"`
	// FlatHashes are the ordered candidate fingerprints.
	FlatHashes []string `json:"flat_hashes"`
	// HierarchicalHashes are ordered most-specific first. They allow a
	// too-coarse fingerprint to be split into narrower sub-fingerprints
	// later without re-merging old traffic.
	HierarchicalHashes []string `json:"hierarchical_hashes,omitempty"`
	OccurredAt         time.Time `json:"occurred_at"`
	Release            *Release  `json:"release,omitempty"`
	Platform           string    `json:"platform,omitempty"`
	// SummaryFields feed the group metadata blob on creation (title,
	// culprit, type). Opaque to grouping.
	SummaryFields map[string]interface{} `json:"summary_fields,omitempty"`
}

// Tag is a key/value annotation contributed for an occurrence.
type Tag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// AttachResult is the outcome of processing one occurrence, consumed by
// quota accounting, search indexing and event-stream publication.
type AttachResult struct {
	GroupID      uuid.UUID `json:"group_id"`
	ShortID      int64     `json:"short_id"`
	IsNewGroup   bool      `json:"is_new_group"`
	IsRegression bool      `json:"is_regression"`
	Tags         []Tag     `json:"tags,omitempty"`
}

// DiscardReason explains an expected, terminal drop of one occurrence.
type DiscardReason string

const (
	// DiscardReasonTombstoned: a candidate hash is tombstoned.
	DiscardReasonTombstoned DiscardReason = "tombstoned"
	// DiscardReasonRateLimited: the load-shed policy rejected group
	// creation for this project.
	DiscardReasonRateLimited DiscardReason = "rate_limited"
	// DiscardReasonShortIDTimeout: short-id allocation did not complete in
	// time; a backpressure signal, not a hard error.
	DiscardReasonShortIDTimeout DiscardReason = "short_id_timeout"
	// DiscardReasonLockTimeout: the creation row lock could not be acquired
	// in time. The caller may resubmit later; the engine never retries.
	DiscardReasonLockTimeout DiscardReason = "lock_timeout"
	// DiscardReasonHashLocked: every candidate hash is held by an
	// administrative migration or split, leaving nothing to anchor a new
	// group on.
	DiscardReasonHashLocked DiscardReason = "hash_locked"
)

// Discard is the typed "abandon this occurrence" outcome. It travels as a
// result variant, not through the error channel: discards are expected flow
// and are never logged as application errors.
type Discard struct {
	Reason DiscardReason `json:"reason"`
}
