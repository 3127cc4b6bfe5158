package notify

import (
	"context"
	"sort"
	"sync"
	"time"
)

type tokenKey struct {
	storeID     int64
	queueNumber int
	token       string
}

// InMemoryRepository is an in-memory implementation of Repository.
// This is intended for testing. Production should use the PostgreSQL implementation.
type InMemoryRepository struct {
	mu      sync.RWMutex
	records map[int64]*TokenRecord // keyed by record ID
	keys    map[tokenKey]int64     // unique triple -> record ID
	nextID  int64
}

// NewInMemoryRepository creates a new in-memory token repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		records: make(map[int64]*TokenRecord),
		keys:    make(map[tokenKey]int64),
	}
}

// Upsert stores a record, leaving an existing identical record untouched.
func (r *InMemoryRepository) Upsert(_ context.Context, record *TokenRecord) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := tokenKey{storeID: record.StoreID, queueNumber: record.QueueNumber, token: record.Token}
	if id, ok := r.keys[key]; ok {
		existing := r.records[id]
		record.ID = existing.ID
		record.CreatedAt = existing.CreatedAt
		return false, nil
	}

	r.nextID++
	record.ID = r.nextID
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	r.records[record.ID] = copyRecord(record)
	r.keys[key] = record.ID
	return true, nil
}

// ListByTicket retrieves every record registered for a ticket.
func (r *InMemoryRepository) ListByTicket(_ context.Context, storeID int64, queueNumber int) ([]*TokenRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var records []*TokenRecord
	for _, record := range r.records {
		if record.StoreID == storeID && record.QueueNumber == queueNumber {
			records = append(records, copyRecord(record))
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

// DeleteByIDs removes records by ID.
func (r *InMemoryRepository) DeleteByIDs(_ context.Context, ids []int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var deleted int64
	for _, id := range ids {
		record, ok := r.records[id]
		if !ok {
			continue
		}
		delete(r.keys, tokenKey{storeID: record.StoreID, queueNumber: record.QueueNumber, token: record.Token})
		delete(r.records, id)
		deleted++
	}
	return deleted, nil
}

// Count returns the number of stored records.
func (r *InMemoryRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

func copyRecord(r *TokenRecord) *TokenRecord {
	c := *r
	return &c
}

// Ensure InMemoryRepository implements Repository interface.
var _ Repository = (*InMemoryRepository)(nil)
