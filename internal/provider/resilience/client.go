package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen is returned without a request being made while the
// client's breaker is open or its half-open trial slots are taken.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ClientConfig holds configuration for the resilient HTTP client.
type ClientConfig struct {
	// Name identifies the client's breaker.
	Name string

	// Timeout bounds each attempt. Zero means no timeout, which streaming
	// callers need.
	Timeout time.Duration

	// MaxRetries caps attempts after the first. Default: 3
	MaxRetries uint64

	// InitialInterval and MaxInterval shape the exponential backoff
	// between attempts. Defaults: 100ms and 5s
	InitialInterval time.Duration
	MaxInterval     time.Duration

	// MaxRetryAfter is the longest Retry-After hint the client will wait
	// out. A longer hint ends the retries and the response is returned as
	// is. Default: 5s
	MaxRetryAfter time.Duration

	// CircuitBreaker defaults to DefaultCircuitBreakerConfig(Name).
	CircuitBreaker *CircuitBreakerConfig

	// Transport overrides the HTTP transport, mainly for tests.
	Transport http.RoundTripper

	// Logger receives retry and breaker transitions.
	Logger zerolog.Logger
}

// DefaultClientConfig returns the configuration used to call the waitlist
// API from the command line tools.
func DefaultClientConfig(name string) ClientConfig {
	cbConfig := DefaultCircuitBreakerConfig(name)
	return ClientConfig{
		Name:            name,
		Timeout:         10 * time.Second,
		MaxRetries:      3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		MaxRetryAfter:   5 * time.Second,
		CircuitBreaker:  &cbConfig,
	}
}

// StatusError is a response that may succeed when repeated: a 5xx or a
// 429. RetryAfter holds the server's hint, zero when there was none.
type StatusError struct {
	StatusCode int
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server answered %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Throttled reports whether the server rejected the call for rate.
func (e *StatusError) Throttled() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// Client is an HTTP client that retries transient failures with
// exponential backoff behind a circuit breaker. 5xx answers count against
// the breaker; 429 answers are retried but do not.
type Client struct {
	httpClient      *http.Client
	breaker         *gobreaker.CircuitBreaker[*http.Response]
	maxRetries      uint64
	initialInterval time.Duration
	maxInterval     time.Duration
	maxRetryAfter   time.Duration
	logger          zerolog.Logger
}

// NewClient creates a Client, filling unset fields from
// DefaultClientConfig.
func NewClient(cfg ClientConfig) *Client {
	def := DefaultClientConfig(cfg.Name)
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = def.InitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = def.MaxInterval
	}
	if cfg.MaxRetryAfter <= 0 {
		cfg.MaxRetryAfter = def.MaxRetryAfter
	}

	logger := cfg.Logger.With().Str("client", cfg.Name).Logger()

	cbConfig := *def.CircuitBreaker
	if cfg.CircuitBreaker != nil {
		cbConfig = *cfg.CircuitBreaker
	}
	cbConfig.Logger = logger
	isSuccessful := cbConfig.IsSuccessful
	if isSuccessful == nil {
		isSuccessful = DefaultIsSuccessful
	}
	cbConfig.IsSuccessful = func(err error) bool {
		var se *StatusError
		if errors.As(err, &se) && se.Throttled() {
			return true
		}
		return isSuccessful(err)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
		},
		breaker:         NewCircuitBreaker[*http.Response](cbConfig), //nolint:bodyclose // type param, not response
		maxRetries:      cfg.MaxRetries,
		initialInterval: cfg.InitialInterval,
		maxInterval:     cfg.MaxInterval,
		maxRetryAfter:   cfg.MaxRetryAfter,
		logger:          logger,
	}
}

// Do sends req using its own context.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.DoWithContext(req.Context(), req)
}

// DoWithContext sends req, retrying network errors, 5xx and 429 answers.
// When retries run out on an answered request the last response is
// returned with a nil error, so callers see the server's problem body.
// Requests with a body are retried only if GetBody can replay it.
func (c *Client) DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error) {
	retries := c.maxRetries
	if !replayable(req) {
		retries = 0
	}
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.initialInterval
	expo.MaxInterval = c.maxInterval
	expo.MaxElapsedTime = 0
	policy := &hintedBackOff{BackOff: backoff.WithMaxRetries(expo, retries)}

	var (
		last    *http.Response
		attempt int
	)
	operation := func() error {
		discard(last)
		last = nil

		clone, err := prepare(ctx, req, attempt)
		if err != nil {
			return backoff.Permanent(err)
		}
		attempt++

		resp, err := c.breaker.Execute(func() (*http.Response, error) { //nolint:bodyclose // returned to the caller
			return c.roundTrip(clone)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(ErrCircuitOpen)
		}
		last = resp
		if err == nil {
			return nil
		}

		var se *StatusError
		if errors.As(err, &se) && se.RetryAfter > 0 {
			if se.RetryAfter > c.maxRetryAfter {
				return backoff.Permanent(err)
			}
			policy.hint = se.RetryAfter
		}
		return err
	}

	logRetry := func(err error, wait time.Duration) {
		c.logger.Debug().
			Err(err).
			Str("url", req.URL.Redacted()).
			Int("attempt", attempt).
			Dur("wait", wait).
			Msg("retrying request")
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), logRetry); err != nil {
		if last != nil && ctx.Err() == nil {
			return last, nil
		}
		discard(last)
		return nil, err
	}
	return last, nil
}

func (c *Client) roundTrip(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return resp, &StatusError{
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	}
	return resp, nil
}

// CircuitBreakerState returns the current state of the client's breaker.
func (c *Client) CircuitBreakerState() gobreaker.State {
	return c.breaker.State()
}

// CircuitBreakerCounts returns the current counts of the client's breaker.
func (c *Client) CircuitBreakerCounts() gobreaker.Counts {
	return c.breaker.Counts()
}

func replayable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

func prepare(ctx context.Context, req *http.Request, attempt int) (*http.Request, error) {
	clone := req.Clone(ctx)
	if attempt > 0 && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("rewind request body: %w", err)
		}
		clone.Body = body
	}
	return clone, nil
}

func discard(resp *http.Response) {
	if resp == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
}

// parseRetryAfter reads delay-seconds or an HTTP date. Invalid or past
// values yield zero.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

// hintedBackOff uses a server supplied delay once in place of the next
// computed interval. The retry cap still applies.
type hintedBackOff struct {
	backoff.BackOff
	hint time.Duration
}

func (b *hintedBackOff) NextBackOff() time.Duration {
	next := b.BackOff.NextBackOff()
	if next == backoff.Stop {
		return backoff.Stop
	}
	if b.hint > 0 {
		next, b.hint = b.hint, 0
	}
	return next
}
