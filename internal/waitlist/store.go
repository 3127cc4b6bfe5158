package waitlist

import "context"

// Store reads store and ticket state.
type Store interface {
	// GetStore returns ErrStoreNotFound for unknown stores.
	GetStore(ctx context.Context, storeID int64) (*StoreInfo, error)

	// ListTickets returns every ticket of a store ordered by queue number.
	ListTickets(ctx context.Context, storeID int64) ([]Ticket, error)

	// GetTicketByNumber returns ErrTicketNotFound if no ticket holds the number.
	GetTicketByNumber(ctx context.Context, storeID int64, queueNumber int) (*Ticket, error)
}

// Feed delivers row changes on the queues table.
type Feed interface {
	// Subscribe opens a subscription scoped to one store. The store filter is
	// coarse; consumers must still check ChangeEvent.StoreID.
	Subscribe(ctx context.Context, storeID int64) (Subscription, error)
}

// Subscription is a live handle on a Feed.
type Subscription interface {
	// Events is closed when the subscription terminates.
	Events() <-chan ChangeEvent

	// Err returns why the subscription terminated, or nil after Close.
	Err() error

	// Close unsubscribes. It is safe to call more than once.
	Close()
}
