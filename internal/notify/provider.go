package notify

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// Support is the outcome of the one-time push provider check.
type Support int

const (
	SupportUnknown Support = iota
	Supported
	Unsupported
)

// String returns the support state name.
func (s Support) String() string {
	switch s {
	case Supported:
		return "supported"
	case Unsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// InitFunc builds the real dispatcher. Returning an error marks the
// environment unsupported.
type InitFunc func(ctx context.Context) (Dispatcher, error)

// Provider constructs a dispatcher lazily, exactly once, and remembers
// whether the environment supports push delivery. When it does not, the
// fallback dispatcher is used. Provider is itself a Dispatcher.
type Provider struct {
	build    InitFunc
	fallback Dispatcher
	logger   zerolog.Logger

	once       sync.Once
	mu         sync.RWMutex
	support    Support
	dispatcher Dispatcher
	initErr    error
}

// NewProvider creates a new Provider.
func NewProvider(build InitFunc, fallback Dispatcher, logger zerolog.Logger) *Provider {
	if fallback == nil {
		fallback = NewLogDispatcher(logger)
	}
	return &Provider{
		build:    build,
		fallback: fallback,
		logger:   logger,
	}
}

// Dispatcher returns the dispatcher, running the support check on first use.
func (p *Provider) Dispatcher(ctx context.Context) Dispatcher {
	p.once.Do(func() {
		support := Supported
		var dispatcher Dispatcher
		var err error
		if p.build == nil {
			err = errNoInit
		} else {
			dispatcher, err = p.build(ctx)
		}
		if err != nil || dispatcher == nil {
			support = Unsupported
			dispatcher = p.fallback
			p.logger.Warn().Err(err).Msg("push delivery unsupported, using fallback dispatcher")
		} else {
			p.logger.Info().Msg("push delivery initialized")
		}

		p.mu.Lock()
		p.support = support
		p.dispatcher = dispatcher
		p.initErr = err
		p.mu.Unlock()
	})

	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.dispatcher
}

// Support returns the cached support state without triggering the check.
func (p *Provider) Support() Support {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.support
}

// InitErr returns why initialization failed, if it did.
func (p *Provider) InitErr() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.initErr
}

// SendMulticast delivers through the lazily constructed dispatcher.
func (p *Provider) SendMulticast(ctx context.Context, msg *Message) (*BatchResult, error) {
	return p.Dispatcher(ctx).SendMulticast(ctx, msg)
}

var errNoInit = errors.New("no dispatcher configured")

var (
	sharedOnce     sync.Once
	sharedProvider *Provider
)

// SharedProvider returns the process-wide FCM provider. The configuration
// of the first call wins. Without credentials, or when disabled, the
// environment is reported unsupported and notifications are only logged.
func SharedProvider(cfg FCMConfig, logger zerolog.Logger) *Provider {
	sharedOnce.Do(func() {
		build := func(ctx context.Context) (Dispatcher, error) {
			if cfg.Disabled {
				return nil, errors.New("push delivery disabled")
			}
			if !cfg.HasCredentials() {
				return nil, errors.New("no firebase credentials configured")
			}
			return NewFCMDispatcherFromConfig(ctx, cfg, logger)
		}
		sharedProvider = NewProvider(build, NewLogDispatcher(logger), logger)
	})
	return sharedProvider
}

// Ensure Provider implements Dispatcher interface.
var _ Dispatcher = (*Provider)(nil)
