package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// DefaultReconnectDelay is the fixed pause before reconnecting a dropped stream.
const DefaultReconnectDelay = 3 * time.Second

// ConnState is the state of a live queue connection.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateConnected
	StateDisconnected
	StateClosed
)

// String returns the state name.
func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Timer is a pending reconnect.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc satisfies it.
type AfterFunc func(d time.Duration, f func()) Timer

// ConnConfig holds configuration for a Conn.
type ConnConfig struct {
	// StreamURL is the queue-stream endpoint of one store.
	StreamURL string
	// HTTPClient must not set a timeout; the stream is long-lived.
	HTTPClient *http.Client
	// Handle receives every event payload, in arrival order, on the
	// connection's goroutine.
	Handle         func(data []byte)
	ReconnectDelay time.Duration
	OnStateChange  func(ConnState)
	AfterFunc      AfterFunc
	Logger         zerolog.Logger
}

// Conn keeps one live stream open, reconnecting after a fixed delay for as
// long as it is not closed. It owns at most one pending reconnect.
type Conn struct {
	url           string
	client        *http.Client
	handle        func([]byte)
	onStateChange func(ConnState)
	afterFunc     AfterFunc
	policy        backoff.BackOff
	logger        zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	state    ConnState
	timer    Timer
	attempts int
	closed   bool
	started  bool
}

// NewConn creates a Conn. Call Start to connect.
func NewConn(cfg ConnConfig) *Conn {
	delay := cfg.ReconnectDelay
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	afterFunc := cfg.AfterFunc
	if afterFunc == nil {
		afterFunc = func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		}
	}
	handle := cfg.Handle
	if handle == nil {
		handle = func([]byte) {}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		url:           cfg.StreamURL,
		client:        client,
		handle:        handle,
		onStateChange: cfg.OnStateChange,
		afterFunc:     afterFunc,
		policy:        backoff.NewConstantBackOff(delay),
		logger:        cfg.Logger.With().Str("component", "queue_conn").Logger(),
		ctx:           ctx,
		cancel:        cancel,
		state:         StateDisconnected,
	}
}

// Start opens the first connection. Later calls do nothing.
func (c *Conn) Start() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	c.connect()
}

// State returns the current connection state.
func (c *Conn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns how many connections have been opened.
func (c *Conn) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Close aborts the open stream and any pending reconnect, then waits for
// the connection goroutine to exit. It is safe to call more than once.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	c.transition(StateClosed)
}

func (c *Conn) connect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.attempts++
	c.wg.Add(1)
	c.mu.Unlock()

	c.transition(StateConnecting)
	go c.run()
}

func (c *Conn) run() {
	defer c.wg.Done()

	err := c.stream(c.ctx)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.transition(StateDisconnected)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	delay := c.policy.NextBackOff()
	c.timer = c.afterFunc(delay, c.connect)
	c.logger.Warn().Err(err).Dur("retry_in", delay).Msg("queue stream dropped, reconnecting")
}

// stream runs one connection until it fails. It never returns nil.
func (c *Conn) stream(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-store")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	c.transition(StateConnected)

	scanner := newEventScanner(resp.Body)
	for scanner.Next() {
		c.handle(scanner.Data())
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return io.ErrUnexpectedEOF
}

func (c *Conn) transition(state ConnState) {
	c.mu.Lock()
	if c.state == state || (c.closed && state != StateClosed) {
		c.mu.Unlock()
		return
	}
	c.state = state
	c.mu.Unlock()

	if c.onStateChange != nil {
		c.onStateChange(state)
	}
}
