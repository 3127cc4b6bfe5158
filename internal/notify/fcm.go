package notify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"google.golang.org/api/option"

	"github.com/tableqr/waitlist/internal/provider/resilience"
)

const (
	// ProviderName names the push provider in health reports.
	ProviderName = "fcm"

	// MaxMulticastTokens is the provider limit on tokens per multicast call.
	MaxMulticastTokens = 500
)

// ErrDispatchUnavailable is returned while the dispatcher's circuit is open.
var ErrDispatchUnavailable = errors.New("push dispatch unavailable")

// FCMConfig holds Firebase Cloud Messaging configuration.
type FCMConfig struct {
	ProjectID       string
	CredentialsFile string
	CredentialsJSON string
	SendTimeout     time.Duration
	// Disabled skips Firebase initialization entirely.
	Disabled bool
}

// FCMConfigFromEnv creates an FCMConfig from environment variables.
func FCMConfigFromEnv() FCMConfig {
	timeout, _ := time.ParseDuration(os.Getenv("FCM_SEND_TIMEOUT"))
	return FCMConfig{
		ProjectID:       os.Getenv("FIREBASE_PROJECT_ID"),
		CredentialsFile: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		CredentialsJSON: os.Getenv("FIREBASE_CREDENTIALS_JSON"),
		SendTimeout:     timeout,
		Disabled:        os.Getenv("FCM_DISABLED") == "true",
	}
}

// HasCredentials reports whether any credential source is configured.
func (c FCMConfig) HasCredentials() bool {
	return c.CredentialsFile != "" || c.CredentialsJSON != ""
}

// MulticastClient is the subset of *messaging.Client the dispatcher uses.
type MulticastClient interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// FCMDispatcher delivers notifications through Firebase Cloud Messaging.
// Calls go through a circuit breaker so an outage fails fast.
type FCMDispatcher struct {
	client  MulticastClient
	breaker *gobreaker.CircuitBreaker[*messaging.BatchResponse]
	timeout time.Duration
}

// NewFCMDispatcher creates a dispatcher around an existing messaging client.
func NewFCMDispatcher(client MulticastClient, breaker resilience.CircuitBreakerConfig, timeout time.Duration) *FCMDispatcher {
	if breaker.Name == "" {
		breaker = resilience.DefaultCircuitBreakerConfig(ProviderName)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &FCMDispatcher{
		client:  client,
		breaker: resilience.NewCircuitBreaker[*messaging.BatchResponse](breaker),
		timeout: timeout,
	}
}

// NewFCMDispatcherFromConfig initializes a Firebase app and messaging
// client. Breaker transitions are logged to logger.
func NewFCMDispatcherFromConfig(ctx context.Context, cfg FCMConfig, logger zerolog.Logger) (*FCMDispatcher, error) {
	var opts []option.ClientOption
	switch {
	case cfg.CredentialsJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	var appConfig *firebase.Config
	if cfg.ProjectID != "" {
		appConfig = &firebase.Config{ProjectID: cfg.ProjectID}
	}

	app, err := firebase.NewApp(ctx, appConfig, opts...)
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("init messaging client: %w", err)
	}

	breaker := resilience.DefaultCircuitBreakerConfig(ProviderName)
	breaker.Logger = logger
	return NewFCMDispatcher(client, breaker, cfg.SendTimeout), nil
}

// SendMulticast delivers msg to every token, in chunks of MaxMulticastTokens.
// Responses stay aligned with msg.Tokens. If a chunk fails, the result so
// far is returned with the error and every token not yet sent is marked
// CodeUnavailable.
func (d *FCMDispatcher) SendMulticast(ctx context.Context, msg *Message) (*BatchResult, error) {
	result := &BatchResult{Responses: make([]SendResult, 0, len(msg.Tokens))}

	for start := 0; start < len(msg.Tokens); start += MaxMulticastTokens {
		end := min(start+MaxMulticastTokens, len(msg.Tokens))
		chunk := toMulticast(msg, msg.Tokens[start:end])

		resp, err := d.breaker.Execute(func() (*messaging.BatchResponse, error) {
			sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
			defer cancel()
			return d.client.SendEachForMulticast(sendCtx, chunk)
		})
		if err != nil {
			for range msg.Tokens[start:] {
				result.FailureCount++
				result.Responses = append(result.Responses, SendResult{ErrorCode: CodeUnavailable})
			}
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return result, ErrDispatchUnavailable
			}
			return result, fmt.Errorf("send multicast: %w", err)
		}

		for i := range chunk.Tokens {
			var sr SendResult
			if i < len(resp.Responses) && resp.Responses[i] != nil {
				r := resp.Responses[i]
				sr.Success = r.Success
				sr.MessageID = r.MessageID
				if !r.Success {
					sr.ErrorCode = errorCode(r.Error)
				}
			} else {
				sr.ErrorCode = CodeUnknown
			}
			if sr.Success {
				result.SuccessCount++
			} else {
				result.FailureCount++
			}
			result.Responses = append(result.Responses, sr)
		}
	}

	return result, nil
}

// CircuitBreakerState returns the current state of the circuit breaker.
func (d *FCMDispatcher) CircuitBreakerState() gobreaker.State {
	return d.breaker.State()
}

// CircuitBreakerCounts returns the current counts of the circuit breaker.
func (d *FCMDispatcher) CircuitBreakerCounts() gobreaker.Counts {
	return d.breaker.Counts()
}

func toMulticast(msg *Message, tokens []string) *messaging.MulticastMessage {
	return &messaging.MulticastMessage{
		Tokens: tokens,
		Data:   msg.Data,
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				ChannelID: msg.AndroidChannelID,
				Sound:     msg.Sound,
			},
		},
		Webpush: &messaging.WebpushConfig{
			Headers: map[string]string{"Urgency": msg.WebpushUrgency},
			Notification: &messaging.WebpushNotification{
				Title: msg.Title,
				Body:  msg.Body,
				Icon:  msg.Icon,
				Tag:   msg.Tag,
			},
		},
	}
}

// errorCode maps a per-token provider error onto a stable code.
// Per-token INVALID_ARGUMENT is reported for malformed tokens; payload
// errors fail the whole call instead.
func errorCode(err error) string {
	switch {
	case err == nil:
		return CodeUnknown
	case messaging.IsUnregistered(err):
		return CodeTokenNotRegistered
	case messaging.IsInvalidArgument(err):
		return CodeInvalidToken
	case messaging.IsQuotaExceeded(err):
		return CodeQuotaExceeded
	case messaging.IsUnavailable(err):
		return CodeUnavailable
	case messaging.IsInternal(err):
		return CodeInternal
	case messaging.IsSenderIDMismatch(err):
		return CodeSenderMismatch
	case messaging.IsThirdPartyAuthError(err):
		return CodeThirdPartyAuth
	default:
		return CodeUnknown
	}
}

// Ensure FCMDispatcher implements Dispatcher interface.
var _ Dispatcher = (*FCMDispatcher)(nil)
