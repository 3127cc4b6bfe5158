package changefeed

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/tableqr/waitlist/internal/waitlist"
)

// RedisSourceConfig holds configuration for a RedisSource.
type RedisSourceConfig struct {
	Client           *redis.Client
	Hub              *Hub
	Prefix           string
	Logger           zerolog.Logger
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
}

// RedisSource subscribes to per-store Redis channels ({prefix}{storeID})
// and publishes each change into a Hub.
type RedisSource struct {
	client           *redis.Client
	hub              *Hub
	prefix           string
	logger           zerolog.Logger
	reconnectInitial time.Duration
	reconnectMax     time.Duration
}

// NewRedisSource creates a new RedisSource.
func NewRedisSource(cfg RedisSourceConfig) *RedisSource {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisSource{
		client:           cfg.Client,
		hub:              cfg.Hub,
		prefix:           prefix,
		logger:           cfg.Logger.With().Str("component", "redis_changefeed").Logger(),
		reconnectInitial: cfg.ReconnectInitial,
		reconnectMax:     cfg.ReconnectMax,
	}
}

// Run subscribes until ctx is cancelled.
func (s *RedisSource) Run(ctx context.Context) error {
	return runWithReconnect(ctx, "redis", s.hub, s.logger, s.reconnectInitial, s.reconnectMax, s.listen)
}

func (s *RedisSource) listen(ctx context.Context, ready func()) error {
	pubsub := s.client.PSubscribe(ctx, s.prefix+"*")
	defer pubsub.Close()

	// Receive blocks until the subscription is confirmed.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("psubscribe: %w", err)
	}
	ready()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			return fmt.Errorf("receive: %w", err)
		}

		event, err := DecodeEvent([]byte(msg.Payload))
		if err != nil {
			s.logger.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping malformed change message")
			continue
		}
		s.hub.Publish(event)
	}
}

// RedisPublisher writes change events onto the channels a RedisSource reads.
type RedisPublisher struct {
	client *redis.Client
	prefix string
}

// NewRedisPublisher creates a new RedisPublisher.
func NewRedisPublisher(client *redis.Client, prefix string) *RedisPublisher {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisPublisher{client: client, prefix: prefix}
}

// Publish sends an event to its store's channel.
func (p *RedisPublisher) Publish(ctx context.Context, event waitlist.ChangeEvent) error {
	storeID := event.StoreID()
	if storeID == 0 {
		return errors.New("change event has no store")
	}

	payload, err := EncodeEvent(event)
	if err != nil {
		return err
	}

	channel := p.prefix + strconv.FormatInt(storeID, 10)
	if err := p.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

// Ensure RedisSource implements Source interface.
var _ Source = (*RedisSource)(nil)
