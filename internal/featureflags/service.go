package featureflags

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ServiceConfig holds configuration for the feature flag service.
type ServiceConfig struct {
	Repository Repository
	Logger     zerolog.Logger
	// CacheTTL bounds how long a lookup, including a miss, is reused.
	CacheTTL     time.Duration
	DefaultFlags map[string]*Flag
}

// Service evaluates feature flags. Store overrides win over global values,
// which win over the built-in defaults. Lookups are cached for CacheTTL and
// repository failures fall back to the defaults.
type Service struct {
	repo         Repository
	logger       zerolog.Logger
	cacheTTL     time.Duration
	defaultFlags map[string]*Flag

	mu          sync.RWMutex
	cache       map[scope]*Flag // nil value records a miss
	cacheExpiry time.Time
}

// NewService creates a new feature flag service.
func NewService(cfg ServiceConfig) *Service {
	cacheTTL := cfg.CacheTTL
	if cacheTTL == 0 {
		cacheTTL = 30 * time.Second
	}

	defaultFlags := cfg.DefaultFlags
	if defaultFlags == nil {
		defaultFlags = DefaultFlags()
	}

	return &Service{
		repo:         cfg.Repository,
		logger:       cfg.Logger.With().Str("component", "feature_flags").Logger(),
		cacheTTL:     cacheTTL,
		defaultFlags: defaultFlags,
		cache:        make(map[scope]*Flag),
	}
}

// GetFlag returns the global value of key, or its default. Returns nil if
// the key is unknown everywhere.
func (s *Service) GetFlag(ctx context.Context, key string) *Flag {
	if flag := s.lookup(ctx, scope{key: key, storeID: GlobalScope}); flag != nil {
		return flag
	}
	return s.defaultFlags[key]
}

// GetStoreFlag returns the override of key for storeID when one exists and
// the global value otherwise.
func (s *Service) GetStoreFlag(ctx context.Context, key string, storeID int64) *Flag {
	if storeID != GlobalScope {
		if flag := s.lookup(ctx, scope{key: key, storeID: storeID}); flag != nil {
			return flag
		}
	}
	return s.GetFlag(ctx, key)
}

// GetAllFlags returns the global flags merged over the defaults.
func (s *Service) GetAllFlags(ctx context.Context) map[string]*Flag {
	result := make(map[string]*Flag, len(s.defaultFlags))
	for k, v := range s.defaultFlags {
		result[k] = v
	}
	for _, f := range s.list(ctx) {
		if !f.IsOverride() {
			result[f.Key] = f
		}
	}
	return result
}

// Overrides returns every store-scoped flag.
func (s *Service) Overrides(ctx context.Context) []*Flag {
	var out []*Flag
	for _, f := range s.list(ctx) {
		if f.IsOverride() {
			out = append(out, f)
		}
	}
	return out
}

// SetFlag stores a flag in its scope and updates the cache.
func (s *Service) SetFlag(ctx context.Context, flag *Flag) error {
	flag.UpdatedAt = time.Now()
	if err := s.repo.Put(ctx, flag); err != nil {
		return err
	}
	s.setCached(scopeOf(flag), flag)
	return nil
}

// ClearOverride removes the override of key for storeID so the store
// follows the global value again.
func (s *Service) ClearOverride(ctx context.Context, key string, storeID int64) error {
	if storeID == GlobalScope {
		return errors.New("featureflags: global flags cannot be cleared as overrides")
	}
	err := s.repo.Delete(ctx, key, storeID)
	if err != nil && !errors.Is(err, ErrFlagNotFound) {
		return err
	}
	s.setCached(scope{key: key, storeID: storeID}, nil)
	return nil
}

// InvalidateCache clears the cached flags, forcing a refresh on next access.
func (s *Service) InvalidateCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[scope]*Flag)
	s.cacheExpiry = time.Time{}
}

// IsEnabled reports whether the global value of key is truthy.
func (s *Service) IsEnabled(ctx context.Context, key string) bool {
	return s.GetFlag(ctx, key).BoolValue(false)
}

// IsEnabledForStore reports whether key is truthy for storeID.
func (s *Service) IsEnabledForStore(ctx context.Context, key string, storeID int64) bool {
	return s.GetStoreFlag(ctx, key, storeID).BoolValue(false)
}

// ReadyNotificationsDisabled reports whether push delivery is switched off
// for the store.
func (s *Service) ReadyNotificationsDisabled(ctx context.Context, storeID int64) bool {
	return s.IsEnabledForStore(ctx, FlagDisableReadyNotifications, storeID)
}

// QueueStreamDisabled reports whether new live streams of the store are
// rejected.
func (s *Service) QueueStreamDisabled(ctx context.Context, storeID int64) bool {
	return s.IsEnabledForStore(ctx, FlagDisableQueueStream, storeID)
}

// StreamKeepAlive returns the keep-alive interval for live streams.
// Zero or negative values disable keep-alives.
func (s *Service) StreamKeepAlive(ctx context.Context) time.Duration {
	interval := s.GetFlag(ctx, FlagStreamKeepAliveSeconds).SecondsValue(DefaultStreamKeepAliveSeconds * time.Second)
	if interval <= 0 {
		return 0
	}
	return interval
}

// lookup reads one scope through the cache. Misses are cached too, so a
// store without overrides costs one query per TTL rather than per call.
func (s *Service) lookup(ctx context.Context, sc scope) *Flag {
	if flag, ok := s.getCached(sc); ok {
		return flag
	}
	if s.repo == nil {
		return nil
	}

	flag, err := s.repo.Get(ctx, sc.key, sc.storeID)
	switch {
	case err == nil:
		s.setCached(sc, flag)
		return flag
	case errors.Is(err, ErrFlagNotFound):
		s.setCached(sc, nil)
		return nil
	default:
		s.logger.Warn().
			Err(err).
			Str("flag", sc.key).
			Int64("store_id", sc.storeID).
			Msg("failed to get feature flag from repository")
		return nil
	}
}

func (s *Service) list(ctx context.Context) []*Flag {
	if s.repo == nil {
		return nil
	}
	flags, err := s.repo.List(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to list feature flags, using defaults")
		return nil
	}
	return flags
}

func (s *Service) getCached(sc scope) (*Flag, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if time.Now().After(s.cacheExpiry) {
		return nil, false
	}
	flag, ok := s.cache[sc]
	return flag, ok
}

func (s *Service) setCached(sc scope, flag *Flag) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cacheExpiry.Before(time.Now()) {
		// stale entries must not be revived by the new expiry
		s.cache = make(map[scope]*Flag)
		s.cacheExpiry = time.Now().Add(s.cacheTTL)
	}
	s.cache[sc] = flag
}
