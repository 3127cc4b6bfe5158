package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"

	"github.com/tableqr/waitlist/internal/waitlist"
)

// Job types carried in Message.JobType.
const (
	JobQueueReady      = "queue_ready"
	JobQueueReadyBatch = "queue_ready_batch"
)

// Message is the JSON body of a queue event.
type Message struct {
	JobType      string `json:"job_type"`
	StoreID      int64  `json:"store_id"`
	QueueNumber  int    `json:"queue_number,omitempty"`
	QueueNumbers []int  `json:"queue_numbers,omitempty"`
}

// Disposition is what to do with a message once processed.
type Disposition int

const (
	Ack Disposition = iota
	Nack
)

// String returns the disposition name.
func (d Disposition) String() string {
	if d == Nack {
		return "nack"
	}
	return "ack"
}

// Processor turns message bodies into ready jobs. Messages that can never
// succeed are acknowledged; upstream failures are nacked for redelivery,
// which is safe because delivered and dead tokens are pruned.
type Processor struct {
	job    *ReadyJob
	logger zerolog.Logger
}

// NewProcessor creates a Processor.
func NewProcessor(job *ReadyJob, logger zerolog.Logger) *Processor {
	return &Processor{job: job, logger: logger}
}

// Process handles one message body.
func (p *Processor) Process(ctx context.Context, data []byte) Disposition {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		p.logger.Error().Err(err).Msg("dropping malformed message")
		return Ack
	}

	logger := p.logger.With().
		Str("job_type", msg.JobType).
		Int64("store_id", msg.StoreID).
		Logger()

	switch msg.JobType {
	case JobQueueReady:
		_, err := p.job.Run(ctx, Ticket{StoreID: msg.StoreID, QueueNumber: msg.QueueNumber})
		return dispose(logger, err)
	case JobQueueReadyBatch:
		if len(msg.QueueNumbers) == 0 {
			logger.Warn().Msg("dropping batch without queue numbers")
			return Ack
		}
		tickets := make([]Ticket, len(msg.QueueNumbers))
		for i, n := range msg.QueueNumbers {
			tickets[i] = Ticket{StoreID: msg.StoreID, QueueNumber: n}
		}
		result := p.job.RunBatch(ctx, tickets)
		logger.Info().
			Int("total", result.Total).
			Int("succeeded", result.Succeeded).
			Int("retryable", result.Retryable).
			Int("invalid", result.Invalid).
			Dur("duration", result.Duration).
			Msg("ready batch processed")
		if result.Retryable > 0 {
			return Nack
		}
		return Ack
	default:
		logger.Warn().Msg("unknown job type")
		return Ack
	}
}

func dispose(logger zerolog.Logger, err error) Disposition {
	if err == nil {
		return Ack
	}
	var validation *waitlist.ValidationError
	if errors.As(err, &validation) {
		logger.Warn().Err(err).Msg("dropping invalid ready event")
		return Ack
	}
	logger.Error().Err(err).Msg("ready notification failed, will be redelivered")
	return Nack
}

// PubSubHandler receives queue events from a Pub/Sub subscription.
type PubSubHandler struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	subscriptionName string
	processor        *Processor
	logger           zerolog.Logger
}

// PubSubConfig holds configuration for the Pub/Sub handler.
type PubSubConfig struct {
	Config    Config
	Processor *Processor
	Logger    zerolog.Logger
}

// NewPubSubHandler creates a new Pub/Sub handler.
func NewPubSubHandler(ctx context.Context, cfg PubSubConfig) (*PubSubHandler, error) {
	wc := cfg.Config.withDefaults()

	client, err := pubsub.NewClient(ctx, wc.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(wc.SubscriptionName)
	subscriber.ReceiveSettings.MaxOutstandingMessages = wc.MaxOutstanding
	subscriber.ReceiveSettings.MaxExtension = wc.MaxExtension

	return &PubSubHandler{
		client:           client,
		subscriber:       subscriber,
		subscriptionName: wc.SubscriptionName,
		processor:        cfg.Processor,
		logger:           cfg.Logger,
	}, nil
}

// Start receives messages until ctx is cancelled.
func (h *PubSubHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("subscription", h.subscriptionName).
		Msg("starting pubsub handler")

	return h.subscriber.Receive(ctx, h.handleMessage)
}

// Close closes the Pub/Sub client.
func (h *PubSubHandler) Close() error {
	return h.client.Close()
}

func (h *PubSubHandler) handleMessage(ctx context.Context, msg *pubsub.Message) {
	start := time.Now()

	disposition := h.processor.Process(ctx, msg.Data)
	switch disposition {
	case Nack:
		msg.Nack()
	default:
		msg.Ack()
	}

	h.logger.Debug().
		Str("message_id", msg.ID).
		Time("publish_time", msg.PublishTime).
		Stringer("disposition", disposition).
		Dur("duration", time.Since(start)).
		Msg("pubsub message handled")
}
