// Package worker consumes queue events from Pub/Sub and sends the
// matching ready notifications.
package worker

import (
	"os"
	"strconv"
	"time"
)

// Config holds configuration for the ready-event worker.
type Config struct {
	ProjectID        string
	SubscriptionName string

	// MaxOutstanding bounds the messages held unacknowledged at once.
	// Default: 10
	MaxOutstanding int

	// MaxExtension is how long a message's ack deadline keeps being
	// extended while it is processed. Default: 10 minutes
	MaxExtension time.Duration

	// JobTimeout bounds one notification, token lookup and prune included.
	// Default: 30 seconds
	JobTimeout time.Duration

	// Concurrency is the number of notifications a batch message sends at once.
	// Default: 3
	Concurrency int
}

// DefaultConfig returns the default worker configuration.
func DefaultConfig() Config {
	return Config{
		SubscriptionName: "queue-ready-worker",
		MaxOutstanding:   10,
		MaxExtension:     10 * time.Minute,
		JobTimeout:       30 * time.Second,
		Concurrency:      3,
	}
}

// ConfigFromEnv creates a Config from environment variables, starting
// from DefaultConfig.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.ProjectID = os.Getenv("GOOGLE_CLOUD_PROJECT")
	if v := os.Getenv("PUBSUB_SUBSCRIPTION"); v != "" {
		cfg.SubscriptionName = v
	}
	if n, err := strconv.Atoi(os.Getenv("WORKER_MAX_OUTSTANDING")); err == nil && n > 0 {
		cfg.MaxOutstanding = n
	}
	if n, err := strconv.Atoi(os.Getenv("WORKER_CONCURRENCY")); err == nil && n > 0 {
		cfg.Concurrency = n
	}
	if d, err := time.ParseDuration(os.Getenv("WORKER_JOB_TIMEOUT")); err == nil && d > 0 {
		cfg.JobTimeout = d
	}
	return cfg
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxOutstanding <= 0 {
		c.MaxOutstanding = def.MaxOutstanding
	}
	if c.MaxExtension <= 0 {
		c.MaxExtension = def.MaxExtension
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = def.JobTimeout
	}
	if c.Concurrency <= 0 {
		c.Concurrency = def.Concurrency
	}
	return c
}
