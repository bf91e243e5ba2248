package sentinel

import "errors"

// Sentinel dependency errors. Stores and clients return these (optionally
// wrapped) so callers can translate them into domain errors exactly once.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("unavailable")
	ErrCorrupt     = errors.New("corrupt stored data")
)
