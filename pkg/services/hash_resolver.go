package services

import (
	"github.com/faultline-hq/faultline-engine/pkg/apperrors"
	"github.com/faultline-hq/faultline-engine/pkg/models"
)

// Resolution is the outcome of root-hash resolution for one occurrence.
type Resolution struct {
	// Existing is the first candidate that already owns a group, nil when
	// a creation is required.
	Existing *models.GroupHash

	// Root is the hierarchical descent point chosen for this occurrence:
	// the most specific assigned level, or the coarsest unsplit level when
	// none is assigned yet. Nil when the occurrence carried no hierarchical
	// chain.
	Root *models.GroupHash

	// Candidates are the scanned hashes in precedence order: Root (when
	// present), then the flat hashes. Unassigned candidates are migrated
	// onto the resolved group. Hierarchical levels finer than Root are
	// deliberately NOT candidates; they stay free so a future split can
	// fan traffic out to them.
	Candidates []*models.GroupHash

	// SplitFound records that the hierarchical walk hit a split marker, in
	// which case flat hashes were excluded from Candidates so traffic
	// cannot re-merge into the pre-split group.
	SplitFound bool
}

// HashResolver determines which existing group, if any, owns one of an
// occurrence's candidate hashes, and which hash is the authoritative root
// when the fingerprint hierarchy has been refined.
//
// It is a pure function over already-materialized GroupHash rows, which is
// what lets the aggregator run it twice: once locklessly on the fast path
// and once against row-locked state on the creation path.
type HashResolver struct{}

// NewHashResolver creates a new HashResolver.
func NewHashResolver() *HashResolver {
	return &HashResolver{}
}

// Resolve walks the hierarchical chain (ordered most-specific first) and
// the flat hashes for one occurrence.
//
// Returns a non-nil Discard when a scanned candidate is tombstoned: the
// occurrence must be dropped without touching any group. Returns
// apperrors.ErrNoHashes when the caller supplied no hashes at all.
func (r *HashResolver) Resolve(flat, hierarchical []*models.GroupHash) (*Resolution, *models.Discard, error) {
	if len(flat) == 0 && len(hierarchical) == 0 {
		return nil, nil, apperrors.ErrNoHashes
	}

	res := &Resolution{}

	for _, gh := range hierarchical {
		if gh.State == models.HashStateSplit {
			// This level was explicitly split: the previously visited,
			// more specific hash is the descent point. If even the most
			// specific hash is split (pathological), it stays the root
			// anyway.
			res.SplitFound = true
			if res.Root == nil {
				res.Root = hierarchical[0]
			}
			break
		}

		res.Root = gh
		if gh.Assigned() {
			// The most specific already-grouped level wins; descending
			// further would only find coarser hashes.
			break
		}
	}

	if res.Root != nil {
		res.Candidates = append(res.Candidates, res.Root)
	}
	if !res.SplitFound {
		res.Candidates = append(res.Candidates, flat...)
	}

	for _, gh := range res.Candidates {
		if gh.State == models.HashStateTombstoned {
			return nil, &models.Discard{Reason: models.DiscardReasonTombstoned}, nil
		}
		if gh.Assigned() {
			res.Existing = gh
			break
		}
	}

	return res, nil, nil
}

// assignableHashes returns the hash values from candidates that may still
// be attached to a group.
func assignableHashes(candidates []*models.GroupHash) []string {
	var hashes []string
	for _, gh := range candidates {
		if gh.Assignable() {
			hashes = append(hashes, gh.Hash)
		}
	}
	return hashes
}
