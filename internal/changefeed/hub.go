// Package changefeed turns database change notifications into per-store
// subscriptions for the queue broadcaster.
package changefeed

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tableqr/waitlist/internal/waitlist"
)

// DefaultBufferSize is the per-subscription event buffer.
const DefaultBufferSize = 64

// HubConfig holds configuration for a Hub.
type HubConfig struct {
	BufferSize int
	Logger     zerolog.Logger
	// StartUnavailable makes Subscribe fail until a source marks the hub
	// available. Database-backed sources set this.
	StartUnavailable bool
	// Forward, when set, sees every published event whether or not any
	// subscription matches. It must not block.
	Forward func(waitlist.ChangeEvent)
}

// Hub fans change events out to subscriptions. It implements waitlist.Feed.
type Hub struct {
	mu         sync.Mutex
	subs       map[*subscription]struct{}
	bufferSize int
	available  bool
	closed     bool
	forward    func(waitlist.ChangeEvent)
	logger     zerolog.Logger
}

// NewHub creates a new Hub.
func NewHub(cfg HubConfig) *Hub {
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Hub{
		subs:       make(map[*subscription]struct{}),
		bufferSize: bufferSize,
		available:  !cfg.StartUnavailable,
		forward:    cfg.Forward,
		logger:     cfg.Logger,
	}
}

// Subscribe opens a subscription for one store.
func (h *Hub) Subscribe(ctx context.Context, storeID int64) (waitlist.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, waitlist.ErrFeedClosed
	}
	if !h.available {
		return nil, waitlist.ErrFeedUnavailable
	}

	sub := &subscription{
		hub:     h,
		storeID: storeID,
		events:  make(chan waitlist.ChangeEvent, h.bufferSize),
	}
	h.subs[sub] = struct{}{}
	return sub, nil
}

// Publish delivers an event to every subscription of its store. A
// subscription whose buffer is full is terminated with
// waitlist.ErrSubscriberLagging so its client resyncs from a snapshot.
func (h *Hub) Publish(event waitlist.ChangeEvent) {
	storeID := event.StoreID()
	if h.forward != nil {
		h.forward(event)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs {
		if sub.storeID != storeID {
			continue
		}
		select {
		case sub.events <- event:
		default:
			h.logger.Warn().
				Int64("store_id", storeID).
				Msg("change feed subscriber lagging, terminating subscription")
			h.terminateLocked(sub, waitlist.ErrSubscriberLagging)
		}
	}
}

// SetAvailable marks whether the upstream source is connected. While
// unavailable, Subscribe fails with waitlist.ErrFeedUnavailable.
func (h *Hub) SetAvailable(available bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.available = available
}

// Available reports whether new subscriptions are accepted.
func (h *Hub) Available() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.available && !h.closed
}

// Fail terminates every open subscription with err and marks the hub
// unavailable until a source reconnects.
func (h *Hub) Fail(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.available = false
	for sub := range h.subs {
		h.terminateLocked(sub, err)
	}
}

// Close terminates every subscription and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for sub := range h.subs {
		h.terminateLocked(sub, waitlist.ErrFeedClosed)
	}
}

// SubscriberCount returns the number of open subscriptions.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// terminateLocked removes sub and closes its channel. h.mu must be held.
func (h *Hub) terminateLocked(sub *subscription, err error) {
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	sub.setErr(err)
	close(sub.events)
}

type subscription struct {
	hub     *Hub
	storeID int64
	events  chan waitlist.ChangeEvent

	mu  sync.Mutex
	err error
}

func (s *subscription) Events() <-chan waitlist.ChangeEvent {
	return s.events
}

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	s.hub.terminateLocked(s, nil)
}

func (s *subscription) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Ensure Hub implements waitlist.Feed interface.
var _ waitlist.Feed = (*Hub)(nil)
