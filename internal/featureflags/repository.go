package featureflags

import "context"

// Repository persists flags per scope. A scope is a key plus a store id,
// where GlobalScope holds the value shared by all stores.
type Repository interface {
	// Get returns the flag stored for key in exactly the given scope.
	// It does not fall back to the global value.
	Get(ctx context.Context, key string, storeID int64) (*Flag, error)

	// List returns every stored flag, globals and overrides, ordered by
	// key and then store id.
	List(ctx context.Context) ([]*Flag, error)

	// Put creates or replaces the flag in its scope.
	Put(ctx context.Context, flag *Flag) error

	// Delete removes one scope of a flag.
	Delete(ctx context.Context, key string, storeID int64) error
}
