// Package store persists receipts submitted to the receipt endpoint.
//
// Error contract shared by every implementation:
//   - Save returns sentinel.ErrConflict when the receipt id already exists
//   - FindByID returns sentinel.ErrNotFound when nothing matches
//   - infrastructure failures are wrapped with context
package store

// DefaultListLimit caps listings that do not ask for a limit.
const DefaultListLimit = 50

// MaxListLimit caps any listing.
const MaxListLimit = 500

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultListLimit
	case n > MaxListLimit:
		return MaxListLimit
	default:
		return n
	}
}
