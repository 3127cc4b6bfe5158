// Package featureflags provides runtime switches for the waitlist service.
package featureflags

import (
	"errors"
	"strconv"
	"time"
)

// ErrFlagNotFound is returned when a feature flag is not found.
var ErrFlagNotFound = errors.New("feature flag not found")

// Well-known feature flag keys.
const (
	// FlagDisableReadyNotifications stops push delivery on ready transitions.
	// Token records are kept so delivery resumes once re-enabled.
	FlagDisableReadyNotifications = "disable_ready_notifications"

	// FlagDisableQueueStream rejects new live queue streams with 503.
	FlagDisableQueueStream = "disable_queue_stream"

	// FlagStreamKeepAliveSeconds sets the keep-alive interval for live streams.
	FlagStreamKeepAliveSeconds = "stream_keepalive_seconds"
)

// DefaultStreamKeepAliveSeconds is used when the keep-alive flag is unset.
const DefaultStreamKeepAliveSeconds = 15

// GlobalScope is the StoreID of a flag that applies to every store.
const GlobalScope int64 = 0

// Flag represents a feature flag with its current value. A non-zero
// StoreID makes it an override for that store only.
type Flag struct {
	Key       string      `json:"key"`
	StoreID   int64       `json:"storeId,omitempty"`
	Value     interface{} `json:"value"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// IsOverride reports whether the flag is scoped to one store.
func (f *Flag) IsOverride() bool {
	return f != nil && f.StoreID != GlobalScope
}

type scope struct {
	key     string
	storeID int64
}

func scopeOf(f *Flag) scope {
	return scope{key: f.Key, storeID: f.StoreID}
}

// BoolValue interprets the value as a switch. Numbers are on when
// non-zero and strings are parsed with strconv.ParseBool. Anything else,
// or a nil flag, yields defaultValue.
func (f *Flag) BoolValue(defaultValue bool) bool {
	if f == nil {
		return defaultValue
	}
	switch v := f.Value.(type) {
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

// IntValue interprets the value as an integer, truncating JSON numbers.
func (f *Flag) IntValue(defaultValue int) int {
	if f == nil {
		return defaultValue
	}
	switch v := f.Value.(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

// SecondsValue interprets the value as a duration: a number counts
// seconds and a string is parsed with time.ParseDuration, so both 15 and
// "15s" work.
func (f *Flag) SecondsValue(defaultValue time.Duration) time.Duration {
	if f == nil {
		return defaultValue
	}
	switch v := f.Value.(type) {
	case float64:
		return time.Duration(v * float64(time.Second))
	case int:
		return time.Duration(v) * time.Second
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

// DefaultFlags returns the default feature flags for the service.
func DefaultFlags() map[string]*Flag {
	now := time.Now()
	return map[string]*Flag{
		FlagDisableReadyNotifications: {
			Key:       FlagDisableReadyNotifications,
			Value:     false,
			UpdatedAt: now,
		},
		FlagDisableQueueStream: {
			Key:       FlagDisableQueueStream,
			Value:     false,
			UpdatedAt: now,
		},
		FlagStreamKeepAliveSeconds: {
			Key:       FlagStreamKeepAliveSeconds,
			Value:     float64(DefaultStreamKeepAliveSeconds),
			UpdatedAt: now,
		},
	}
}
