// Package api provides the HTTP API of the waitlist service.
package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/tableqr/waitlist/internal/api/handler"
	"github.com/tableqr/waitlist/internal/api/middleware"
	"github.com/tableqr/waitlist/internal/broadcast"
	"github.com/tableqr/waitlist/internal/featureflags"
	"github.com/tableqr/waitlist/internal/notify"
	"github.com/tableqr/waitlist/internal/provider/resilience"
	"github.com/tableqr/waitlist/internal/waitlist"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics
	RequireTLS  bool

	Store         waitlist.Store
	Broadcaster   *broadcast.Broadcaster
	Registrations *notify.RegistrationService
	Notifier      broadcast.ReadyNotifier
	FeatureFlags  *featureflags.Service

	Database  handler.Pinger
	Feed      handler.FeedStatus
	Push      handler.PushSupport
	Providers *resilience.Registry
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "waitlist-api"
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing(serviceName))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
	}
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.RequireTLS(cfg.RequireTLS))
	r.Use(middleware.ContentTypeJSON)

	opsHandler := handler.NewOpsHandler(handler.OpsHandlerConfig{
		Version:   cfg.Version,
		BuildTime: cfg.BuildTime,
		Database:  cfg.Database,
		Feed:      cfg.Feed,
		Push:      cfg.Push,
		Providers: cfg.Providers,
		Flags:     cfg.FeatureFlags,
	})

	var gate handler.StreamGate
	if cfg.FeatureFlags != nil {
		gate = cfg.FeatureFlags
	}
	queueHandler := handler.NewQueueHandler(handler.QueueHandlerConfig{
		Broadcaster:   cfg.Broadcaster,
		Store:         cfg.Store,
		Registrations: cfg.Registrations,
		Notifier:      cfg.Notifier,
		Gate:          gate,
		Logger:        cfg.Logger,
	})

	streamRateLimit := middleware.RateLimitByIPAndStore(middleware.StreamRateLimit)
	registrationRateLimit := middleware.RateLimitByIPAndStore(middleware.RegistrationRateLimit)
	standardRateLimit := middleware.RateLimitByIP(middleware.StandardRateLimit)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			r.Get("/status", opsHandler.SystemStatus)
			r.Get("/flags", opsHandler.Flags)
		})

		r.Route("/stores/{storeId}", func(r chi.Router) {
			r.With(streamRateLimit).Get("/queue-stream", queueHandler.Stream)
			r.With(standardRateLimit).Get("/queues", queueHandler.Queues)
			r.With(registrationRateLimit, middleware.RequireJSON).
				Post("/queue-notifications", queueHandler.RegisterNotification)
		})

		r.With(standardRateLimit, middleware.RequireJSON).Post("/queue-events/ready", queueHandler.Ready)
	})

	return r
}
