// Package main provides the entrypoint for the waitlist API server.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/tableqr/waitlist/internal/api"
	"github.com/tableqr/waitlist/internal/api/handler"
	"github.com/tableqr/waitlist/internal/api/middleware"
	"github.com/tableqr/waitlist/internal/broadcast"
	"github.com/tableqr/waitlist/internal/changefeed"
	"github.com/tableqr/waitlist/internal/database"
	"github.com/tableqr/waitlist/internal/featureflags"
	"github.com/tableqr/waitlist/internal/notify"
	"github.com/tableqr/waitlist/internal/provider/resilience"
	"github.com/tableqr/waitlist/internal/telemetry"
	"github.com/tableqr/waitlist/internal/waitlist"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "waitlist-api"

	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting waitlist API")

	port := os.Getenv("APP_PORT")
	if port == "" {
		port = "8080"
	}
	requireTLS, _ := strconv.ParseBool(os.Getenv("REQUIRE_TLS"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetryConfig := telemetry.ConfigFromEnv(serviceName, Version)
	tp, err := telemetry.Init(ctx, telemetryConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()
	if telemetryConfig.Enabled {
		log.Info().
			Str("otlp_endpoint", telemetryConfig.OTLPEndpoint).
			Msg("OpenTelemetry initialized")
	}

	metrics, err := middleware.NewMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize metrics")
		os.Exit(1) //nolint:gocritic // telemetry cleanup is best-effort
	}

	// Storage: Postgres when configured, otherwise in memory.
	var (
		pool     *pgxpool.Pool
		store    waitlist.Store
		tokens   notify.Repository
		flagRepo featureflags.Repository
		pinger   handler.Pinger
	)
	dbConfig := database.ConfigFromEnv()
	if dbConfig.ApplicationName == "" {
		dbConfig.ApplicationName = serviceName
	}
	if dbConfig.Configured() {
		pool, err = database.Connect(ctx, dbConfig)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()

		pgStore := waitlist.NewPostgresStore(pool)
		store = pgStore
		pinger = pgStore
		tokens = notify.NewPostgresRepository(pool)
		flagRepo = featureflags.NewPostgresRepository(pool)
		log.Info().
			Str("host", dbConfig.Host).
			Str("database", dbConfig.Database).
			Msg("database connected")
	} else {
		store = waitlist.NewMemoryStore()
		tokens = notify.NewInMemoryRepository()
		flagRepo = featureflags.NewInMemoryRepository()
		log.Warn().Msg("no database configured, using in-memory storage")
	}

	flags := featureflags.NewService(featureflags.ServiceConfig{
		Repository: flagRepo,
		Logger:     log,
		CacheTTL:   time.Minute,
	})

	// Change feed.
	feedConfig := changefeed.ConfigFromEnv()
	hub := changefeed.NewHub(changefeed.HubConfig{
		BufferSize:       feedConfig.BufferSize,
		Logger:           log,
		StartUnavailable: feedConfig.Backend != changefeed.BackendMemory,
	})

	var source changefeed.Source
	switch feedConfig.Backend {
	case changefeed.BackendPostgres:
		if pool == nil {
			log.Fatal().Msg("postgres change feed requires a database")
		}
		source = changefeed.NewPostgresSource(changefeed.PostgresSourceConfig{
			Pool:             pool,
			Hub:              hub,
			Channel:          feedConfig.Channel,
			Logger:           log,
			ReconnectInitial: feedConfig.ReconnectInitial,
			ReconnectMax:     feedConfig.ReconnectMax,
		})
	case changefeed.BackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     feedConfig.RedisAddr,
			Password: feedConfig.RedisPassword,
			DB:       feedConfig.RedisDB,
		})
		defer rdb.Close()
		source = changefeed.NewRedisSource(changefeed.RedisSourceConfig{
			Client:           rdb,
			Hub:              hub,
			Prefix:           feedConfig.RedisPrefix,
			Logger:           log,
			ReconnectInitial: feedConfig.ReconnectInitial,
			ReconnectMax:     feedConfig.ReconnectMax,
		})
	case changefeed.BackendMemory:
		log.Warn().Msg("in-memory change feed, no external changes will be seen")
	default:
		log.Fatal().Str("backend", string(feedConfig.Backend)).Msg("unknown change feed backend")
	}

	feedDone := make(chan struct{})
	if source != nil {
		go func() {
			defer close(feedDone)
			if runErr := source.Run(ctx); runErr != nil {
				log.Error().Err(runErr).Msg("change feed stopped")
			}
		}()
	} else {
		close(feedDone)
	}
	log.Info().Str("backend", string(feedConfig.Backend)).Msg("change feed started")

	// Push delivery.
	providers := resilience.NewRegistry()
	push := notify.SharedProvider(notify.FCMConfigFromEnv(), log)
	if d, ok := push.Dispatcher(ctx).(*notify.FCMDispatcher); ok {
		providers.Register(notify.ProviderName, d)
	}
	log.Info().Stringer("support", push.Support()).Msg("push provider initialized")

	notifier := notify.NewNotifier(notify.NotifierConfig{
		Store:      store,
		Repository: tokens,
		Dispatcher: push,
		Flags:      flags,
		Logger:     log,
		Icon:       os.Getenv("NOTIFICATION_ICON_URL"),
	})

	broadcaster := broadcast.NewBroadcaster(broadcast.BroadcasterConfig{
		Store:     store,
		Feed:      hub,
		Notifier:  notifier,
		KeepAlive: flags,
		Logger:    log,
	})

	registrations := notify.NewRegistrationService(notify.RegistrationServiceConfig{
		Store:      store,
		Repository: tokens,
		Logger:     log,
	})

	routerConfig := api.RouterConfig{
		Version:       Version,
		BuildTime:     BuildTime,
		Logger:        log,
		ServiceName:   serviceName,
		Metrics:       metrics,
		RequireTLS:    requireTLS,
		Store:         store,
		Broadcaster:   broadcaster,
		Registrations: registrations,
		Notifier:      notifier,
		FeatureFlags:  flags,
		Feed:          hub,
		Push:          push,
		Providers:     providers,
	}
	// A nil *PostgresStore in the interface would look configured.
	if pinger != nil {
		routerConfig.Database = pinger
	}
	router := api.NewRouter(routerConfig)

	// Streams inherit this context and end when shutdown begins.
	streamCtx, cancelStreams := context.WithCancel(context.Background())
	defer cancelStreams()

	server := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return streamCtx },
	}
	server.RegisterOnShutdown(cancelStreams)

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	<-feedDone

	log.Info().Msg("server stopped")
}
