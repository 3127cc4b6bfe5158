package changefeed

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// PostgresSourceConfig holds configuration for a PostgresSource.
type PostgresSourceConfig struct {
	Pool             *pgxpool.Pool
	Hub              *Hub
	Channel          string
	Logger           zerolog.Logger
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
}

// PostgresSource listens on a NOTIFY channel populated by the queues table
// trigger and publishes each change into a Hub.
type PostgresSource struct {
	pool             *pgxpool.Pool
	hub              *Hub
	channel          string
	logger           zerolog.Logger
	reconnectInitial time.Duration
	reconnectMax     time.Duration
}

// NewPostgresSource creates a new PostgresSource.
func NewPostgresSource(cfg PostgresSourceConfig) *PostgresSource {
	channel := cfg.Channel
	if channel == "" {
		channel = DefaultChannel
	}
	return &PostgresSource{
		pool:             cfg.Pool,
		hub:              cfg.Hub,
		channel:          channel,
		logger:           cfg.Logger.With().Str("component", "pg_changefeed").Logger(),
		reconnectInitial: cfg.ReconnectInitial,
		reconnectMax:     cfg.ReconnectMax,
	}
}

// Run listens until ctx is cancelled.
func (s *PostgresSource) Run(ctx context.Context) error {
	return runWithReconnect(ctx, "postgres", s.hub, s.logger, s.reconnectInitial, s.reconnectMax, s.listen)
}

func (s *PostgresSource) listen(ctx context.Context, ready func()) error {
	pooled, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	// The LISTEN session must not go back into the pool.
	conn := pooled.Hijack()
	defer conn.Close(context.Background()) //nolint:errcheck // connection is discarded

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{s.channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen %s: %w", s.channel, err)
	}
	ready()

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}

		event, err := DecodeEvent([]byte(notification.Payload))
		if err != nil {
			s.logger.Warn().Err(err).Msg("dropping malformed change notification")
			continue
		}
		s.hub.Publish(event)
	}
}

// Ensure PostgresSource implements Source interface.
var _ Source = (*PostgresSource)(nil)
