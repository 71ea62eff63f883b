package apperrors

import "errors"

var (
	ErrNotFound = errors.New("not found")
	// ErrNoHashes means the caller supplied an occurrence with zero
	// candidate hashes. A contract violation, not a discard.
	ErrNoHashes = errors.New("occurrence has no candidate hashes")
	// ErrInvariantViolation means a guarded update touched more rows than
	// the schema allows. A bug; raised loudly, never swallowed.
	ErrInvariantViolation = errors.New("store invariant violated")
)
