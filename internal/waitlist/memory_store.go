package waitlist

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory implementation of Store.
// This is intended for testing and local development.
type MemoryStore struct {
	mu      sync.RWMutex
	stores  map[int64]*StoreInfo
	tickets map[int64]map[int]*Ticket // store ID -> queue number -> ticket
	nextID  int64
}

// NewMemoryStore creates a new in-memory waitlist store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		stores:  make(map[int64]*StoreInfo),
		tickets: make(map[int64]map[int]*Ticket),
	}
}

// PutStore creates or replaces a store.
func (s *MemoryStore) PutStore(info StoreInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stores[info.StoreID] = &info
	if _, ok := s.tickets[info.StoreID]; !ok {
		s.tickets[info.StoreID] = make(map[int]*Ticket)
	}
}

// PutTicket inserts or updates a ticket and returns the resulting change.
func (s *MemoryStore) PutTicket(ticket Ticket) ChangeEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	byNumber, ok := s.tickets[ticket.StoreID]
	if !ok {
		byNumber = make(map[int]*Ticket)
		s.tickets[ticket.StoreID] = byNumber
	}

	event := ChangeEvent{Type: EventInsert}
	if existing, ok := byNumber[ticket.QueueNumber]; ok {
		old := *existing
		event.Type = EventUpdate
		event.Old = &old
		ticket.QueueID = existing.QueueID
	} else if ticket.QueueID == 0 {
		s.nextID++
		ticket.QueueID = s.nextID
	}

	stored := ticket
	byNumber[ticket.QueueNumber] = &stored
	updated := ticket
	event.New = &updated
	return event
}

// DeleteTicket removes a ticket and returns the resulting change.
// The second result is false if no ticket held the number.
func (s *MemoryStore) DeleteTicket(storeID int64, queueNumber int) (ChangeEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.tickets[storeID][queueNumber]
	if !ok {
		return ChangeEvent{}, false
	}
	delete(s.tickets[storeID], queueNumber)

	old := *existing
	return ChangeEvent{Type: EventDelete, Old: &old}, true
}

// GetStore retrieves a store by ID.
func (s *MemoryStore) GetStore(_ context.Context, storeID int64) (*StoreInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.stores[storeID]
	if !ok {
		return nil, ErrStoreNotFound
	}

	result := *info
	return &result, nil
}

// ListTickets retrieves all tickets for a store ordered by queue number.
func (s *MemoryStore) ListTickets(_ context.Context, storeID int64) ([]Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tickets := make([]Ticket, 0, len(s.tickets[storeID]))
	for _, t := range s.tickets[storeID] {
		tickets = append(tickets, *t)
	}
	sort.Slice(tickets, func(i, j int) bool {
		return tickets[i].QueueNumber < tickets[j].QueueNumber
	})
	return tickets, nil
}

// GetTicketByNumber retrieves a ticket by its queue number.
func (s *MemoryStore) GetTicketByNumber(_ context.Context, storeID int64, queueNumber int) (*Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ticket, ok := s.tickets[storeID][queueNumber]
	if !ok {
		return nil, ErrTicketNotFound
	}

	result := *ticket
	return &result, nil
}

// Ensure MemoryStore implements Store interface.
var _ Store = (*MemoryStore)(nil)
