// Package main provides the entrypoint for the ready-event worker.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/tableqr/waitlist/internal/api/response"
	"github.com/tableqr/waitlist/internal/changefeed"
	"github.com/tableqr/waitlist/internal/database"
	"github.com/tableqr/waitlist/internal/featureflags"
	"github.com/tableqr/waitlist/internal/notify"
	"github.com/tableqr/waitlist/internal/telemetry"
	"github.com/tableqr/waitlist/internal/waitlist"
	"github.com/tableqr/waitlist/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "waitlist-worker"

	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().Str("build_time", BuildTime).Msg("starting ready-event worker")

	// The worker exposes a health endpoint for Cloud Run.
	port := os.Getenv("APP_PORT")
	if port == "" {
		port = "8080"
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.Init(ctx, telemetry.ConfigFromEnv(serviceName, Version))
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

	dbConfig := database.ConfigFromEnv()
	if dbConfig.ApplicationName == "" {
		dbConfig.ApplicationName = serviceName
	}
	if !dbConfig.Configured() {
		log.Fatal().Msg("worker requires a database: set DATABASE_URL or DB_HOST")
	}
	pool, err := database.Connect(ctx, dbConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	flags := featureflags.NewService(featureflags.ServiceConfig{
		Repository: featureflags.NewPostgresRepository(pool),
		Logger:     log,
		CacheTTL:   time.Minute,
	})

	push := notify.SharedProvider(notify.FCMConfigFromEnv(), log)
	push.Dispatcher(ctx)
	log.Info().Stringer("support", push.Support()).Msg("push provider initialized")

	notifier := notify.NewNotifier(notify.NotifierConfig{
		Store:      waitlist.NewPostgresStore(pool),
		Repository: notify.NewPostgresRepository(pool),
		Dispatcher: push,
		Flags:      flags,
		Logger:     log,
		Icon:       os.Getenv("NOTIFICATION_ICON_URL"),
	})

	cfg := worker.ConfigFromEnv()
	job := worker.NewReadyJob(worker.ReadyJobConfig{
		Notifier:    notifier,
		Timeout:     cfg.JobTimeout,
		Concurrency: cfg.Concurrency,
		Logger:      log,
	})

	handler, err := worker.NewPubSubHandler(ctx, worker.PubSubConfig{
		Config:    cfg,
		Processor: worker.NewProcessor(job, log),
		Logger:    log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create pubsub handler")
	}
	defer func() {
		if closeErr := handler.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("failed to close pubsub client")
		}
	}()

	// Optional relay of database changes onto Redis for API instances
	// running the redis change feed backend.
	feedConfig := changefeed.ConfigFromEnv()
	var relay *changefeed.Relay
	relayDone := make(chan struct{})
	if feedConfig.RelayToRedis {
		rdb := redis.NewClient(&redis.Options{
			Addr:     feedConfig.RedisAddr,
			Password: feedConfig.RedisPassword,
			DB:       feedConfig.RedisDB,
		})
		defer rdb.Close()

		relay = changefeed.NewRelay(changefeed.RelayConfig{
			Publisher: changefeed.NewRedisPublisher(rdb, feedConfig.RedisPrefix),
			Logger:    log,
		})
		hub := changefeed.NewHub(changefeed.HubConfig{
			Logger:           log,
			StartUnavailable: true,
			Forward:          relay.Forward,
		})
		source := changefeed.NewPostgresSource(changefeed.PostgresSourceConfig{
			Pool:             pool,
			Hub:              hub,
			Channel:          feedConfig.Channel,
			Logger:           log,
			ReconnectInitial: feedConfig.ReconnectInitial,
			ReconnectMax:     feedConfig.ReconnectMax,
		})

		go func() {
			defer close(relayDone)
			go func() { _ = relay.Run(ctx) }()
			if runErr := source.Run(ctx); runErr != nil {
				log.Error().Err(runErr).Msg("change feed relay stopped")
			}
		}()
		log.Info().Str("redis", feedConfig.RedisAddr).Msg("relaying change feed to redis")
	} else {
		close(relayDone)
	}

	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]interface{}{
			"status":  "healthy",
			"version": Version,
			"support": push.Support().String(),
			"jobs":    job.MetricsSnapshot(),
		}
		if relay != nil {
			relayed, dropped := relay.Stats()
			body["relay"] = map[string]int64{"relayed": relayed, "dropped": dropped}
		}
		response.JSON(w, r, http.StatusOK, body)
	})

	server := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("health server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("health server error")
		}
	}()

	receiveDone := make(chan struct{})
	go func() {
		defer close(receiveDone)
		if err := handler.Start(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("pubsub receive stopped")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down worker")

	// Receive returns once in-flight messages are handled.
	<-receiveDone
	<-relayDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server forced to shutdown")
	}

	log.Info().Msg("worker stopped")
}
