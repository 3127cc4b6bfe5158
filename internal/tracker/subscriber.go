package tracker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Submission errors. Their messages are meant for the user.
var (
	ErrEmptyInput       = errors.New("enter a ticket number.")
	ErrNotNumeric       = errors.New("only digits are allowed.")
	ErrNotWaiting       = errors.New("not a currently-preparing ticket.")
	ErrPermissionDenied = errors.New("allow notifications to get an alert when your order is ready.")
	ErrSubmitInFlight   = errors.New("a registration is already in progress.")
)

// SanitizeDigits drops every character that is not an ASCII digit.
func SanitizeDigits(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// TokenSource acquires the push token of this device.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource always returns the same token. An empty token counts
// as denied permission.
type StaticTokenSource string

// Token returns the token.
func (s StaticTokenSource) Token(context.Context) (string, error) {
	if strings.TrimSpace(string(s)) == "" {
		return "", ErrPermissionDenied
	}
	return string(s), nil
}

type permission int

const (
	permissionUnknown permission = iota
	permissionGranted
	permissionDenied
)

// PromptTokenSource asks for notification permission once, remembers the
// answer, and caches the first token it obtains.
type PromptTokenSource struct {
	// Ask requests permission from the user.
	Ask func(ctx context.Context) (bool, error)
	// Fetch obtains a token once permission is granted.
	Fetch func(ctx context.Context) (string, error)

	mu         sync.Mutex
	permission permission
	token      string
}

// Token returns the cached token or acquires one.
func (s *PromptTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" {
		return s.token, nil
	}

	switch s.permission {
	case permissionDenied:
		return "", ErrPermissionDenied
	case permissionUnknown:
		granted, err := s.Ask(ctx)
		if err != nil {
			return "", fmt.Errorf("request notification permission: %w", err)
		}
		if !granted {
			s.permission = permissionDenied
			return "", ErrPermissionDenied
		}
		s.permission = permissionGranted
	}

	token, err := s.Fetch(ctx)
	if err != nil {
		return "", fmt.Errorf("fetch notification token: %w", err)
	}
	if token == "" {
		return "", ErrPermissionDenied
	}
	s.token = token
	return token, nil
}

// Registrar records a token against a ticket on the server.
type Registrar interface {
	Register(ctx context.Context, queueNumber int, token string) error
}

// SubscriberConfig holds configuration for the Subscriber.
type SubscriberConfig struct {
	Engine    *Engine
	Tokens    TokenSource
	Registrar Registrar
	Logger    zerolog.Logger
}

// Subscriber lets the user claim a ticket and get notified when it is ready.
type Subscriber struct {
	engine    *Engine
	tokens    TokenSource
	registrar Registrar
	logger    zerolog.Logger
	inFlight  atomic.Bool
}

// NewSubscriber creates a new Subscriber.
func NewSubscriber(cfg SubscriberConfig) *Subscriber {
	return &Subscriber{
		engine:    cfg.Engine,
		tokens:    cfg.Tokens,
		registrar: cfg.Registrar,
		logger:    cfg.Logger,
	}
}

// Submit validates the input, registers this device's token for the
// ticket and starts tracking it. The waiting check is local only; the
// server has the final say. On any failure the tracked ticket is cleared.
// A second Submit while one is running fails with ErrSubmitInFlight.
func (s *Subscriber) Submit(ctx context.Context, input string) (int, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return 0, ErrSubmitInFlight
	}
	defer s.inFlight.Store(false)

	queueNumber, err := s.submit(ctx, input)
	if err != nil {
		s.engine.Track(0)
		return 0, err
	}

	s.engine.Track(queueNumber)
	s.engine.Notify(Notice{
		Kind:        NoticeRegistered,
		QueueNumber: queueNumber,
		Message:     fmt.Sprintf("You will be notified when order %02d is ready.", queueNumber),
	})
	return queueNumber, nil
}

func (s *Subscriber) submit(ctx context.Context, input string) (int, error) {
	digits := strings.TrimSpace(input)
	if digits == "" {
		return 0, ErrEmptyInput
	}
	if SanitizeDigits(digits) != digits {
		return 0, ErrNotNumeric
	}
	queueNumber, err := strconv.Atoi(digits)
	if err != nil {
		return 0, ErrNotNumeric
	}

	if !s.engine.IsWaiting(queueNumber) {
		return 0, ErrNotWaiting
	}

	token, err := s.tokens.Token(ctx)
	if err != nil {
		return 0, err
	}

	if err := s.registrar.Register(ctx, queueNumber, token); err != nil {
		s.logger.Warn().Err(err).Int("queue_number", queueNumber).Msg("ticket registration failed")
		return 0, err
	}
	return queueNumber, nil
}
