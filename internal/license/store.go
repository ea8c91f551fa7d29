package license

import (
	"context"
	"time"
)

// Store persists license rows. Implementations must keep at most one
// live (non-soft-deleted) row: Insert soft-deletes any prior live row
// in the same transaction.
type Store interface {
	// GetActive returns the single live row, or ErrNotActivated.
	GetActive(ctx context.Context) (*LicenseInfo, error)

	// Insert persists a new activation, soft-deleting the previous
	// live row.
	Insert(ctx context.Context, info *LicenseInfo) error

	// Update mutates the live row given by info.ID.
	Update(ctx context.Context, info *LicenseInfo) error

	// SoftDeleteActive marks the live row deleted, if one exists.
	SoftDeleteActive(ctx context.Context, at time.Time) error

	// History lists rows newest-first, soft-deleted included.
	History(ctx context.Context, limit int) ([]LicenseInfo, error)
}
