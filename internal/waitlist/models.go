// Package waitlist provides the ticket model, status normalization and the
// store/feed contracts shared by the broadcaster, the notifier and the client.
package waitlist

import (
	"errors"
	"time"
)

// Store and feed errors.
var (
	ErrStoreNotFound     = errors.New("store not found")
	ErrTicketNotFound    = errors.New("ticket not found")
	ErrFeedClosed        = errors.New("change feed closed")
	ErrFeedUnavailable   = errors.New("change feed unavailable")
	ErrSubscriberLagging = errors.New("change feed subscriber lagging")
	ErrMalformedMessage  = errors.New("malformed stream message")
)

// DefaultStoreName is used in notifications when a store has no name.
const DefaultStoreName = "TableQR"

// Ticket is one waitlist entry. The JSON shape matches the rows the
// change feed and the stream carry.
type Ticket struct {
	QueueID     int64      `json:"queue_id"`
	StoreID     int64      `json:"store_id"`
	QueueNumber int        `json:"queue_number"`
	Status      Status     `json:"status"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
	CalledAt    *time.Time `json:"called_at,omitempty"`
}

// IsTerminal reports whether the ticket has left the board.
func (t *Ticket) IsTerminal() bool {
	return t.Status.IsTerminal()
}

// StoreInfo is the subset of store data the waitlist needs.
type StoreInfo struct {
	StoreID int64
	Name    string
}

// DisplayName returns the store name, falling back to DefaultStoreName.
func (s *StoreInfo) DisplayName() string {
	if s == nil || s.Name == "" {
		return DefaultStoreName
	}
	return s.Name
}

// EventType is the kind of row change delivered by the change feed.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// Valid reports whether the event type is one of the known kinds.
func (e EventType) Valid() bool {
	switch e {
	case EventInsert, EventUpdate, EventDelete:
		return true
	default:
		return false
	}
}

// ChangeEvent is a single row change on the queues table.
type ChangeEvent struct {
	Type EventType `json:"eventType"`
	New  *Ticket   `json:"new"`
	Old  *Ticket   `json:"old"`
}

// StoreID returns the store the change belongs to, preferring the new row.
func (e ChangeEvent) StoreID() int64 {
	if e.New != nil {
		return e.New.StoreID
	}
	if e.Old != nil {
		return e.Old.StoreID
	}
	return 0
}

// IsReadyTransition reports whether the change moved a ticket into READY.
// An INSERT straight into READY counts; a READY -> READY update does not.
func (e ChangeEvent) IsReadyTransition() bool {
	if e.New == nil || e.New.Status != StatusReady {
		return false
	}
	return e.Old == nil || e.Old.Status != StatusReady
}
