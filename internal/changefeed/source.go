package changefeed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/tableqr/waitlist/internal/waitlist"
)

// Source feeds a Hub from an upstream notification channel.
type Source interface {
	// Run blocks until ctx is cancelled, reconnecting on failure.
	Run(ctx context.Context) error
}

// listenFunc holds one upstream connection open. It calls ready once the
// connection is established and returns when the connection fails.
type listenFunc func(ctx context.Context, ready func()) error

// runWithReconnect keeps listen running with exponential backoff between
// attempts. Every connection loss fails the hub's open subscriptions so
// their clients reconnect and resync from a fresh snapshot.
func runWithReconnect(ctx context.Context, name string, hub *Hub, logger zerolog.Logger, initial, maxInterval time.Duration, listen listenFunc) error {
	if initial <= 0 {
		initial = DefaultReconnectInitial
	}
	if maxInterval <= 0 {
		maxInterval = DefaultReconnectMax
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = maxInterval
	b.MaxElapsedTime = 0 // retry forever
	b.Reset()

	hub.SetAvailable(false)

	for {
		err := listen(ctx, func() {
			b.Reset()
			hub.SetAvailable(true)
			logger.Info().Str("source", name).Msg("change feed connected")
		})

		if ctx.Err() != nil {
			hub.Close()
			return nil
		}

		if err == nil {
			err = errors.New("connection closed")
		}
		hub.Fail(fmt.Errorf("%w: %s: %v", waitlist.ErrFeedUnavailable, name, err))

		wait := b.NextBackOff()
		logger.Warn().
			Err(err).
			Str("source", name).
			Dur("retry_in", wait).
			Msg("change feed disconnected")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			hub.Close()
			return nil
		case <-timer.C:
		}
	}
}
