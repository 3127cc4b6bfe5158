package notify

import "context"

// Repository defines the interface for token record persistence.
// Records are only ever inserted by registration and deleted after dispatch.
type Repository interface {
	// Upsert stores a record. A duplicate (store, number, token) is a no-op.
	// Returns true if a new record was created.
	Upsert(ctx context.Context, record *TokenRecord) (created bool, err error)

	// ListByTicket retrieves every record registered for a ticket.
	ListByTicket(ctx context.Context, storeID int64, queueNumber int) ([]*TokenRecord, error)

	// DeleteByIDs removes records and returns how many were deleted.
	DeleteByIDs(ctx context.Context, ids []int64) (int64, error)
}
