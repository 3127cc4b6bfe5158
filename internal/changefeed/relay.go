package changefeed

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tableqr/waitlist/internal/waitlist"
)

// EventPublisher sends a change event to another transport.
type EventPublisher interface {
	Publish(ctx context.Context, event waitlist.ChangeEvent) error
}

// RelayConfig holds configuration for a Relay.
type RelayConfig struct {
	Publisher EventPublisher
	Logger    zerolog.Logger

	// BufferSize bounds events waiting to be published. Default: 256
	BufferSize int

	// PublishTimeout bounds one publish. Default: 2s
	PublishTimeout time.Duration
}

// Relay republishes the events of a Hub, typically onto Redis so API
// instances running the redis backend share one database listener. Plug
// Forward into HubConfig.Forward and run Run alongside the source.
type Relay struct {
	publisher EventPublisher
	events    chan waitlist.ChangeEvent
	timeout   time.Duration
	logger    zerolog.Logger

	relayed atomic.Int64
	dropped atomic.Int64
}

// NewRelay creates a new Relay.
func NewRelay(cfg RelayConfig) *Relay {
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = 256
	}
	timeout := cfg.PublishTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Relay{
		publisher: cfg.Publisher,
		events:    make(chan waitlist.ChangeEvent, bufferSize),
		timeout:   timeout,
		logger:    cfg.Logger.With().Str("component", "changefeed_relay").Logger(),
	}
}

// Forward queues an event without blocking. When the buffer is full the
// event is dropped; readers of the relayed channel recover on their next
// snapshot.
func (r *Relay) Forward(event waitlist.ChangeEvent) {
	select {
	case r.events <- event:
	default:
		r.dropped.Add(1)
		r.logger.Warn().Int64("store_id", event.StoreID()).Msg("relay buffer full, dropping change event")
	}
}

// Run publishes queued events in order until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-r.events:
			r.publish(ctx, event)
		}
	}
}

func (r *Relay) publish(ctx context.Context, event waitlist.ChangeEvent) {
	publishCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.publisher.Publish(publishCtx, event); err != nil {
		r.logger.Error().
			Err(err).
			Int64("store_id", event.StoreID()).
			Str("event_type", string(event.Type)).
			Msg("failed to relay change event")
		return
	}
	r.relayed.Add(1)
}

// Stats returns the number of events relayed and dropped so far.
func (r *Relay) Stats() (relayed, dropped int64) {
	return r.relayed.Load(), r.dropped.Load()
}

// Ensure RedisPublisher implements EventPublisher interface.
var _ EventPublisher = (*RedisPublisher)(nil)
