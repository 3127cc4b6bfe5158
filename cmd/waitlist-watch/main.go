// Command waitlist-watch follows one store's live queue board and,
// optionally, registers a push token for a ticket.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/tableqr/waitlist/internal/provider/resilience"
	"github.com/tableqr/waitlist/internal/tracker"
)

type options struct {
	server         string
	storeID        int64
	ticket         string
	token          string
	reconnectDelay time.Duration
	exitOnReady    bool
	snapshotWait   time.Duration
	verbose        bool
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := pflag.NewFlagSet("waitlist-watch", pflag.ContinueOnError)
	fs.StringVar(&opts.server, "server", "http://localhost:8080/v1", "API base URL")
	fs.Int64Var(&opts.storeID, "store", 0, "store id to watch (required)")
	fs.StringVar(&opts.ticket, "ticket", "", "ticket number to be notified about")
	fs.StringVar(&opts.token, "token", "", "push token to register for --ticket")
	fs.DurationVar(&opts.reconnectDelay, "reconnect-delay", tracker.DefaultReconnectDelay, "pause before reconnecting a dropped stream")
	fs.BoolVar(&opts.exitOnReady, "exit-on-ready", false, "exit once the tracked ticket is ready")
	fs.DurationVar(&opts.snapshotWait, "snapshot-timeout", 15*time.Second, "how long to wait for the first board before registering")
	fs.BoolVarP(&opts.verbose, "verbose", "v", false, "log connection details")

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if opts.storeID <= 0 {
		return opts, errors.New("--store must be a positive store id")
	}
	if opts.exitOnReady && opts.ticket == "" {
		return opts, errors.New("--exit-on-ready needs --ticket")
	}
	return opts, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	level := zerolog.InfoLevel
	if opts.verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().
		Timestamp().
		Int64("store", opts.storeID).
		Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, log); err != nil {
		log.Error().Err(err).Msg("waitlist-watch failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, log zerolog.Logger) error {
	firstBoard := make(chan struct{})
	ready := make(chan struct{}, 1)
	var boardOnce sync.Once

	engine := tracker.NewEngine(tracker.EngineConfig{
		OnChange: func(s tracker.State) {
			log.Info().
				Str("preparing", formatNumbers(s.Waiting)).
				Str("ready", formatNumbers(s.Ready)).
				Msg("board")
			boardOnce.Do(func() { close(firstBoard) })
		},
		OnNotice: func(n tracker.Notice) {
			log.Info().Stringer("notice", n.Kind).Int("ticket", n.QueueNumber).Msg(n.Message)
			if n.Kind == tracker.NoticeReady {
				select {
				case ready <- struct{}{}:
				default:
				}
			}
		},
		Logger: log,
	})

	conn := tracker.NewConn(tracker.ConnConfig{
		StreamURL:      tracker.StreamURL(opts.server, opts.storeID),
		Handle:         engine.HandleMessage,
		ReconnectDelay: opts.reconnectDelay,
		OnStateChange: func(s tracker.ConnState) {
			log.Debug().Stringer("state", s).Msg("connection")
		},
		Logger: log,
	})
	conn.Start()
	defer conn.Close()

	if opts.ticket != "" {
		if err := subscribe(ctx, opts, engine, firstBoard, log); err != nil {
			return err
		}
	}

	select {
	case <-ctx.Done():
		return nil
	case <-readyOrNever(opts.exitOnReady, ready):
		return nil
	}
}

func subscribe(ctx context.Context, opts options, engine *tracker.Engine, firstBoard <-chan struct{}, log zerolog.Logger) error {
	select {
	case <-firstBoard:
	case <-ctx.Done():
		return nil
	case <-time.After(opts.snapshotWait):
		return fmt.Errorf("no queue board received within %s", opts.snapshotWait)
	}

	client := resilience.NewClient(resilience.DefaultClientConfig("waitlist-api"))
	subscriber := tracker.NewSubscriber(tracker.SubscriberConfig{
		Engine:    engine,
		Tokens:    tracker.StaticTokenSource(opts.token),
		Registrar: tracker.NewHTTPRegistrar(client, opts.server, opts.storeID),
		Logger:    log,
	})

	if _, err := subscriber.Submit(ctx, opts.ticket); err != nil {
		var regErr *tracker.RegistrationError
		if errors.As(err, &regErr) {
			return fmt.Errorf("server rejected registration (%d): %s", regErr.Status, regErr.Message)
		}
		return err
	}
	return nil
}

func readyOrNever(enabled bool, ready <-chan struct{}) <-chan struct{} {
	if enabled {
		return ready
	}
	return nil
}

func formatNumbers(numbers []int) string {
	if len(numbers) == 0 {
		return "-"
	}
	parts := make([]string, len(numbers))
	for i, n := range numbers {
		parts[i] = fmt.Sprintf("%02d", n)
	}
	return strings.Join(parts, " ")
}
