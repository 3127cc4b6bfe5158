package featureflags

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"
)

// InMemoryRepository keeps flags in a map. It backs local runs without a
// database and tests.
type InMemoryRepository struct {
	mu    sync.RWMutex
	flags map[scope]Flag
}

// NewInMemoryRepository creates a repository seeded with DefaultFlags.
func NewInMemoryRepository() *InMemoryRepository {
	return NewInMemoryRepositoryWithFlags(DefaultFlags())
}

// NewInMemoryRepositoryWithFlags creates a repository seeded with flags.
// Map keys are ignored; each flag is stored under its own scope.
func NewInMemoryRepositoryWithFlags(flags map[string]*Flag) *InMemoryRepository {
	repo := &InMemoryRepository{flags: make(map[scope]Flag, len(flags))}
	for _, f := range flags {
		repo.flags[scopeOf(f)] = *f
	}
	return repo
}

func (r *InMemoryRepository) Get(_ context.Context, key string, storeID int64) (*Flag, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.flags[scope{key: key, storeID: storeID}]
	if !ok {
		return nil, ErrFlagNotFound
	}
	return &f, nil
}

func (r *InMemoryRepository) List(_ context.Context) ([]*Flag, error) {
	r.mu.RLock()
	out := make([]*Flag, 0, len(r.flags))
	for _, f := range r.flags {
		f := f
		out = append(out, &f)
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Flag) int {
		if c := cmp.Compare(a.Key, b.Key); c != 0 {
			return c
		}
		return cmp.Compare(a.StoreID, b.StoreID)
	})
	return out, nil
}

func (r *InMemoryRepository) Put(_ context.Context, flag *Flag) error {
	stored := *flag
	stored.UpdatedAt = time.Now()

	r.mu.Lock()
	r.flags[scopeOf(flag)] = stored
	r.mu.Unlock()
	return nil
}

func (r *InMemoryRepository) Delete(_ context.Context, key string, storeID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sc := scope{key: key, storeID: storeID}
	if _, ok := r.flags[sc]; !ok {
		return ErrFlagNotFound
	}
	delete(r.flags, sc)
	return nil
}

var _ Repository = (*InMemoryRepository)(nil)
