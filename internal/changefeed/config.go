package changefeed

import (
	"os"
	"strconv"
	"time"
)

// Backend selects the change feed source.
type Backend string

const (
	BackendPostgres Backend = "postgres"
	BackendRedis    Backend = "redis"
	BackendMemory   Backend = "memory"
)

// Defaults for change feed sources.
const (
	DefaultChannel          = "queue_changes"
	DefaultRedisPrefix      = "waitlist:changes:"
	DefaultReconnectInitial = 500 * time.Millisecond
	DefaultReconnectMax     = 30 * time.Second
)

// Config holds change feed configuration.
type Config struct {
	Backend          Backend
	Channel          string
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	RedisPrefix      string
	BufferSize       int
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
	// RelayToRedis makes the worker forward database changes onto the
	// Redis channels read by API instances on the redis backend.
	RelayToRedis bool
}

// ConfigFromEnv creates a Config from environment variables.
func ConfigFromEnv() Config {
	redisDB, _ := strconv.Atoi(getEnvOrDefault("REDIS_DB", "0"))
	bufferSize, _ := strconv.Atoi(getEnvOrDefault("FEED_BUFFER_SIZE", strconv.Itoa(DefaultBufferSize)))
	initial, _ := time.ParseDuration(getEnvOrDefault("FEED_RECONNECT_INITIAL", DefaultReconnectInitial.String()))
	maxInterval, _ := time.ParseDuration(getEnvOrDefault("FEED_RECONNECT_MAX", DefaultReconnectMax.String()))
	relay, _ := strconv.ParseBool(os.Getenv("FEED_RELAY_TO_REDIS"))

	return Config{
		Backend:          Backend(getEnvOrDefault("FEED_BACKEND", string(BackendPostgres))),
		Channel:          getEnvOrDefault("FEED_CHANNEL", DefaultChannel),
		RedisAddr:        getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		RedisDB:          redisDB,
		RedisPrefix:      getEnvOrDefault("FEED_REDIS_PREFIX", DefaultRedisPrefix),
		BufferSize:       bufferSize,
		ReconnectInitial: initial,
		ReconnectMax:     maxInterval,
		RelayToRedis:     relay,
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
