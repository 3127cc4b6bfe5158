package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"

	"github.com/tableqr/waitlist/internal/telemetry"
	"github.com/tableqr/waitlist/internal/waitlist"
)

const instrumentationName = "github.com/tableqr/waitlist/internal/notify"

// Skip reasons reported in Result.SkipReason.
const (
	SkipDisabled = "notifications disabled"
	SkipNoTokens = "no tokens registered"
)

// FlagChecker is the kill switch for ready notifications.
type FlagChecker interface {
	ReadyNotificationsDisabled(ctx context.Context, storeID int64) bool
}

// NotifierConfig holds configuration for the Notifier.
type NotifierConfig struct {
	Store      waitlist.Store
	Repository Repository
	Dispatcher Dispatcher
	Flags      FlagChecker
	Logger     zerolog.Logger
	Icon       string
}

// Result summarizes one ready notification.
type Result struct {
	Tokens       int
	SuccessCount int
	FailureCount int
	Pruned       int64
	Skipped      bool
	SkipReason   string
	// Shared is true when the result came from a concurrent identical call.
	Shared bool
}

// Notifier sends "order ready" notifications and prunes the token
// registry afterwards. Dispatch and prune are independent steps: a prune
// failure is logged and leaves the records for the next attempt.
type Notifier struct {
	store      waitlist.Store
	repo       Repository
	dispatcher Dispatcher
	flags      FlagChecker
	logger     zerolog.Logger
	icon       string
	group      singleflight.Group

	dispatched metric.Int64Counter
	failed     metric.Int64Counter
	pruned     metric.Int64Counter
}

// NewNotifier creates a new Notifier.
func NewNotifier(cfg NotifierConfig) *Notifier {
	meter := telemetry.Meter(instrumentationName)
	dispatched, _ := meter.Int64Counter(
		"waitlist.notify.delivered",
		metric.WithDescription("Ready notifications accepted by the push provider"),
		metric.WithUnit("{token}"),
	)
	failed, _ := meter.Int64Counter(
		"waitlist.notify.failed",
		metric.WithDescription("Ready notifications rejected by the push provider"),
		metric.WithUnit("{token}"),
	)
	pruned, _ := meter.Int64Counter(
		"waitlist.notify.pruned",
		metric.WithDescription("Token records removed after dispatch"),
		metric.WithUnit("{token}"),
	)

	return &Notifier{
		store:      cfg.Store,
		repo:       cfg.Repository,
		dispatcher: cfg.Dispatcher,
		flags:      cfg.Flags,
		logger:     cfg.Logger.With().Str("component", "notifier").Logger(),
		icon:       cfg.Icon,
		dispatched: dispatched,
		failed:     failed,
		pruned:     pruned,
	}
}

// NotifyReady notifies every token registered for a ticket that it is
// ready, then deletes the records that were delivered or are permanently
// invalid. Concurrent calls for the same ticket share one dispatch.
func (n *Notifier) NotifyReady(ctx context.Context, storeID int64, queueNumber int) (*Result, error) {
	key := fmt.Sprintf("%d:%d", storeID, queueNumber)
	v, err, shared := n.group.Do(key, func() (interface{}, error) {
		return n.notifyReady(ctx, storeID, queueNumber)
	})
	if err != nil {
		return nil, err
	}

	result := *v.(*Result)
	result.Shared = shared
	return &result, nil
}

func (n *Notifier) notifyReady(ctx context.Context, storeID int64, queueNumber int) (*Result, error) {
	ctx, span := telemetry.Tracer(instrumentationName).Start(ctx, "notify.ready")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("waitlist.store_id", storeID),
		attribute.Int("waitlist.queue_number", queueNumber),
	)

	logger := n.logger.With().Int64("store_id", storeID).Int("queue_number", queueNumber).Logger()

	if n.flags != nil && n.flags.ReadyNotificationsDisabled(ctx, storeID) {
		logger.Info().Msg("ready notifications disabled by feature flag")
		return &Result{Skipped: true, SkipReason: SkipDisabled}, nil
	}

	records, err := n.repo.ListByTicket(ctx, storeID, queueNumber)
	if err != nil {
		span.SetStatus(codes.Error, "load tokens")
		return nil, &waitlist.UpstreamError{Op: "load tokens", Err: err}
	}
	if len(records) == 0 {
		return &Result{Skipped: true, SkipReason: SkipNoTokens}, nil
	}

	storeName := waitlist.DefaultStoreName
	if info, err := n.store.GetStore(ctx, storeID); err != nil {
		logger.Warn().Err(err).Msg("failed to load store name, using default")
	} else {
		storeName = info.DisplayName()
	}

	msg := BuildReadyMessage(storeName, storeID, queueNumber, n.icon)
	msg.Tokens = make([]string, len(records))
	for i, record := range records {
		msg.Tokens[i] = record.Token
	}

	start := time.Now()
	batch, err := n.dispatcher.SendMulticast(ctx, msg)
	if err != nil {
		span.SetStatus(codes.Error, "dispatch")
		if batch != nil {
			// tokens reached before the failure must not be notified again on retry
			n.prune(ctx, logger, records, batch, storeID)
		}
		return nil, &waitlist.UpstreamError{Op: "dispatch notifications", Err: err}
	}

	result := &Result{
		Tokens:       len(records),
		SuccessCount: batch.SuccessCount,
		FailureCount: batch.FailureCount,
	}

	attrs := metric.WithAttributes(attribute.Int64("waitlist.store_id", storeID))
	n.dispatched.Add(ctx, int64(batch.SuccessCount), attrs)
	n.failed.Add(ctx, int64(batch.FailureCount), attrs)

	result.Pruned = n.prune(ctx, logger, records, batch, storeID)

	logger.Info().
		Int("tokens", result.Tokens).
		Int("success", result.SuccessCount).
		Int("failure", result.FailureCount).
		Int64("pruned", result.Pruned).
		Dur("duration", time.Since(start)).
		Msg("ready notification dispatched")

	return result, nil
}

// prune deletes the records PruneIDs selects. Failures are logged only.
func (n *Notifier) prune(ctx context.Context, logger zerolog.Logger, records []*TokenRecord, batch *BatchResult, storeID int64) int64 {
	ids := PruneIDs(records, batch)
	if len(ids) == 0 {
		return 0
	}
	deleted, err := n.repo.DeleteByIDs(ctx, ids)
	if err != nil {
		logger.Warn().Err(err).Int("records", len(ids)).Msg("failed to prune token records")
		return 0
	}
	n.pruned.Add(ctx, deleted, metric.WithAttributes(attribute.Int64("waitlist.store_id", storeID)))
	return deleted
}

// PruneIDs returns the deduplicated IDs of records whose token was either
// delivered or permanently rejected. Responses align with records by index.
func PruneIDs(records []*TokenRecord, batch *BatchResult) []int64 {
	seen := make(map[int64]struct{}, len(records))
	var ids []int64
	for i, record := range records {
		if i >= len(batch.Responses) {
			break
		}
		resp := batch.Responses[i]
		if !resp.Success && !IsPermanentFailure(resp.ErrorCode) {
			continue
		}
		if _, ok := seen[record.ID]; ok {
			continue
		}
		seen[record.ID] = struct{}{}
		ids = append(ids, record.ID)
	}
	return ids
}
