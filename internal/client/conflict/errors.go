package conflict

import "errors"

var (
	// ErrConflictNotFound is returned for an unknown conflict id
	ErrConflictNotFound = errors.New("conflict not found")

	// ErrNotAutoResolvable is returned by AutoResolveConflict when the
	// suggestion is not confident enough or needs user confirmation
	ErrNotAutoResolvable = errors.New("conflict is not auto-resolvable")

	// ErrManualResolutionRequired is returned when a strategy cannot produce
	// data without a user decision
	ErrManualResolutionRequired = errors.New("manual resolution required")
)
