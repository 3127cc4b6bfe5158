package notify

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/tableqr/waitlist/internal/waitlist"
)

// Message is a push notification addressed to a set of tokens.
type Message struct {
	Tokens           []string
	Title            string
	Body             string
	Data             map[string]string
	AndroidChannelID string
	Sound            string
	WebpushUrgency   string
	Icon             string
	Tag              string
}

// SendResult is the outcome for one token.
type SendResult struct {
	Success   bool
	MessageID string
	ErrorCode string
}

// BatchResult is the outcome of a multicast. Responses are positionally
// aligned with Message.Tokens.
type BatchResult struct {
	SuccessCount int
	FailureCount int
	Responses    []SendResult
}

// Dispatcher delivers push notifications. When delivery stops partway an
// implementation may return a non-nil BatchResult with the error: tokens
// already delivered keep their results and the rest report a transient
// failure.
type Dispatcher interface {
	SendMulticast(ctx context.Context, msg *Message) (*BatchResult, error)
}

// Ready notification defaults.
const (
	ReadyChannelID = "order-status"
	ReadySound     = "default"
	ReadyUrgency   = "high"
	DefaultIcon    = "/file.svg"
)

// BuildReadyMessage builds the "order ready" notification for a ticket.
// Tokens are filled in by the caller.
func BuildReadyMessage(storeName string, storeID int64, queueNumber int, icon string) *Message {
	if storeName == "" {
		storeName = waitlist.DefaultStoreName
	}
	if icon == "" {
		icon = DefaultIcon
	}
	return &Message{
		Title: storeName,
		Body:  fmt.Sprintf("Order %02d is ready.", queueNumber),
		Data: map[string]string{
			"queueNumber": strconv.Itoa(queueNumber),
			"ready":       "true",
		},
		AndroidChannelID: ReadyChannelID,
		Sound:            ReadySound,
		WebpushUrgency:   ReadyUrgency,
		Icon:             icon,
		Tag:              fmt.Sprintf("queue-%d-%d", storeID, queueNumber),
	}
}

// LogDispatcher stands in where push delivery is not configured. It logs
// each message and reports every token as a transient failure, so no
// registration is pruned.
type LogDispatcher struct {
	logger zerolog.Logger
}

// NewLogDispatcher creates a new LogDispatcher.
func NewLogDispatcher(logger zerolog.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

// SendMulticast logs the message and fails every token.
func (d *LogDispatcher) SendMulticast(_ context.Context, msg *Message) (*BatchResult, error) {
	d.logger.Info().
		Str("title", msg.Title).
		Str("tag", msg.Tag).
		Int("tokens", len(msg.Tokens)).
		Msg("push delivery not configured, notification skipped")

	result := &BatchResult{
		FailureCount: len(msg.Tokens),
		Responses:    make([]SendResult, len(msg.Tokens)),
	}
	for i := range result.Responses {
		result.Responses[i] = SendResult{ErrorCode: CodeUnsupported}
	}
	return result, nil
}

// Ensure LogDispatcher implements Dispatcher interface.
var _ Dispatcher = (*LogDispatcher)(nil)
