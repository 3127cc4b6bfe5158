// Package broadcast streams a store's queue to connected clients: one
// snapshot, then every change in feed order. Tickets that become ready
// trigger push notifications alongside the stream.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/tableqr/waitlist/internal/featureflags"
	"github.com/tableqr/waitlist/internal/notify"
	"github.com/tableqr/waitlist/internal/telemetry"
	"github.com/tableqr/waitlist/internal/waitlist"
)

const instrumentationName = "github.com/tableqr/waitlist/internal/broadcast"

// Defaults for BroadcasterConfig.
const (
	DefaultDispatchTimeout = 30 * time.Second
	DefaultKeepAlive       = featureflags.DefaultStreamKeepAliveSeconds * time.Second
)

// ReadyNotifier sends the "order ready" notification for a ticket.
type ReadyNotifier interface {
	NotifyReady(ctx context.Context, storeID int64, queueNumber int) (*notify.Result, error)
}

// KeepAliveSource supplies the keep-alive interval for new streams.
// Zero disables keep-alives.
type KeepAliveSource interface {
	StreamKeepAlive(ctx context.Context) time.Duration
}

// Sink receives the messages of one stream.
type Sink interface {
	Send(msg waitlist.Message) error
	// Ping keeps an idle connection open.
	Ping() error
}

// BroadcasterConfig holds configuration for the Broadcaster.
type BroadcasterConfig struct {
	Store    waitlist.Store
	Feed     waitlist.Feed
	Notifier ReadyNotifier
	// KeepAlive is optional; DefaultKeepAlive applies when nil.
	KeepAlive       KeepAliveSource
	Logger          zerolog.Logger
	DispatchTimeout time.Duration
}

// Broadcaster opens live queue streams. It holds no per-connection state;
// every Stream owns its own feed subscription.
type Broadcaster struct {
	store           waitlist.Store
	feed            waitlist.Feed
	notifier        ReadyNotifier
	keepAlive       KeepAliveSource
	logger          zerolog.Logger
	dispatchTimeout time.Duration

	active    metric.Int64UpDownCounter
	forwarded metric.Int64Counter
}

// NewBroadcaster creates a new Broadcaster.
func NewBroadcaster(cfg BroadcasterConfig) *Broadcaster {
	dispatchTimeout := cfg.DispatchTimeout
	if dispatchTimeout <= 0 {
		dispatchTimeout = DefaultDispatchTimeout
	}

	meter := telemetry.Meter(instrumentationName)
	active, _ := meter.Int64UpDownCounter(
		"waitlist.stream.active",
		metric.WithDescription("Open queue streams"),
		metric.WithUnit("{stream}"),
	)
	forwarded, _ := meter.Int64Counter(
		"waitlist.stream.mutations",
		metric.WithDescription("Mutations forwarded to queue streams"),
		metric.WithUnit("{message}"),
	)

	return &Broadcaster{
		store:           cfg.Store,
		feed:            cfg.Feed,
		notifier:        cfg.Notifier,
		keepAlive:       cfg.KeepAlive,
		logger:          cfg.Logger.With().Str("component", "broadcaster").Logger(),
		dispatchTimeout: dispatchTimeout,
		active:          active,
		forwarded:       forwarded,
	}
}

// Open prepares a stream for one store. Nothing has been sent when Open
// returns an error. The feed subscription is taken before the snapshot is
// read, so no change falls between the two.
func (b *Broadcaster) Open(ctx context.Context, storeID int64) (*Stream, error) {
	if _, err := b.store.GetStore(ctx, storeID); err != nil {
		if errors.Is(err, waitlist.ErrStoreNotFound) {
			return nil, err
		}
		return nil, &waitlist.UpstreamError{Op: "load store", Err: err}
	}

	sub, err := b.feed.Subscribe(ctx, storeID)
	if err != nil {
		return nil, &waitlist.UpstreamError{Op: "subscribe to change feed", Err: err}
	}

	tickets, err := b.store.ListTickets(ctx, storeID)
	if err != nil {
		sub.Close()
		return nil, &waitlist.UpstreamError{Op: "load tickets", Err: err}
	}

	keepAlive := DefaultKeepAlive
	if b.keepAlive != nil {
		keepAlive = b.keepAlive.StreamKeepAlive(ctx)
	}

	return &Stream{
		broadcaster: b,
		storeID:     storeID,
		sub:         sub,
		snapshot:    tickets,
		keepAlive:   keepAlive,
		logger:      b.logger.With().Int64("store_id", storeID).Logger(),
	}, nil
}

// Stream is one client's view of a store's queue.
type Stream struct {
	broadcaster *Broadcaster
	storeID     int64
	sub         waitlist.Subscription
	snapshot    []waitlist.Ticket
	keepAlive   time.Duration
	logger      zerolog.Logger

	closeOnce  sync.Once
	dispatches sync.WaitGroup
}

// Run sends the snapshot and then forwards changes until ctx is cancelled
// or the feed ends. Cancellation returns nil; a feed failure returns the
// feed's error and the client is expected to reconnect. Run closes the
// stream and waits for notification dispatches it started.
func (s *Stream) Run(ctx context.Context, sink Sink) error {
	defer s.dispatches.Wait()
	defer s.Close()

	attrs := metric.WithAttributes(attribute.Int64("waitlist.store_id", s.storeID))
	s.broadcaster.active.Add(ctx, 1, attrs)
	defer s.broadcaster.active.Add(context.WithoutCancel(ctx), -1, attrs)

	if err := sink.Send(waitlist.NewSnapshot(s.snapshot)); err != nil {
		return fmt.Errorf("send snapshot: %w", err)
	}
	s.logger.Debug().Int("tickets", len(s.snapshot)).Msg("queue stream opened")

	var keepAlive <-chan time.Time
	if s.keepAlive > 0 {
		ticker := time.NewTicker(s.keepAlive)
		defer ticker.Stop()
		keepAlive = ticker.C
	}

	events := s.sub.Events()
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug().Msg("queue stream closed by client")
			return nil

		case event, ok := <-events:
			if !ok {
				if err := s.sub.Err(); err != nil {
					s.logger.Warn().Err(err).Msg("change feed ended, closing queue stream")
					return err
				}
				return nil
			}
			if event.StoreID() != s.storeID {
				continue
			}
			if err := sink.Send(waitlist.NewMutation(event)); err != nil {
				return fmt.Errorf("send mutation: %w", err)
			}
			s.broadcaster.forwarded.Add(ctx, 1, attrs)
			if event.IsReadyTransition() {
				s.dispatch(ctx, event.New.QueueNumber)
			}

		case <-keepAlive:
			if err := sink.Ping(); err != nil {
				return fmt.Errorf("send keep-alive: %w", err)
			}
		}
	}
}

// Close unsubscribes from the change feed. It is safe to call more than
// once and from several goroutines.
func (s *Stream) Close() {
	s.closeOnce.Do(s.sub.Close)
}

// dispatch notifies a ticket's registered tokens without holding up the
// stream. The dispatch outlives client disconnects up to the timeout.
func (s *Stream) dispatch(ctx context.Context, queueNumber int) {
	notifier := s.broadcaster.notifier
	if notifier == nil {
		return
	}

	s.dispatches.Add(1)
	go func() {
		defer s.dispatches.Done()

		dispatchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.broadcaster.dispatchTimeout)
		defer cancel()

		logger := s.logger.With().Int("queue_number", queueNumber).Logger()
		result, err := notifier.NotifyReady(dispatchCtx, s.storeID, queueNumber)
		if err != nil {
			logger.Error().Err(err).Msg("ready notification failed")
			return
		}
		if result.Skipped {
			logger.Debug().Str("reason", result.SkipReason).Msg("ready notification skipped")
			return
		}
		logger.Debug().
			Int("success", result.SuccessCount).
			Int("failure", result.FailureCount).
			Bool("shared", result.Shared).
			Msg("ready notification sent")
	}()
}
