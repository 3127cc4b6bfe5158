package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/tableqr/waitlist/internal/api/middleware"
	"github.com/tableqr/waitlist/internal/api/models"
	"github.com/tableqr/waitlist/internal/api/response"
	"github.com/tableqr/waitlist/internal/broadcast"
	"github.com/tableqr/waitlist/internal/notify"
	"github.com/tableqr/waitlist/internal/waitlist"
)

// StreamGate can switch off new live streams.
type StreamGate interface {
	QueueStreamDisabled(ctx context.Context, storeID int64) bool
}

// QueueHandlerConfig holds configuration for the QueueHandler.
type QueueHandlerConfig struct {
	Broadcaster   *broadcast.Broadcaster
	Store         waitlist.Store
	Registrations *notify.RegistrationService
	Notifier      broadcast.ReadyNotifier
	// Gate is optional.
	Gate   StreamGate
	Logger zerolog.Logger
}

// QueueHandler serves the live queue, notification registration and the
// ready webhook.
type QueueHandler struct {
	broadcaster   *broadcast.Broadcaster
	store         waitlist.Store
	registrations *notify.RegistrationService
	notifier      broadcast.ReadyNotifier
	gate          StreamGate
	logger        zerolog.Logger
}

// NewQueueHandler creates a new QueueHandler.
func NewQueueHandler(cfg QueueHandlerConfig) *QueueHandler {
	return &QueueHandler{
		broadcaster:   cfg.Broadcaster,
		store:         cfg.Store,
		registrations: cfg.Registrations,
		notifier:      cfg.Notifier,
		gate:          cfg.Gate,
		logger:        cfg.Logger.With().Str("component", "queue_handler").Logger(),
	}
}

// Stream handles GET /stores/{storeId}/queue-stream.
// Every failure before the stream opens is answered with a problem
// response; once headers are sent, errors only end the stream.
func (h *QueueHandler) Stream(w http.ResponseWriter, r *http.Request) {
	storeID, ok := storeIDParam(w, r)
	if !ok {
		return
	}
	if h.gate != nil && h.gate.QueueStreamDisabled(r.Context(), storeID) {
		response.ServiceUnavailable(w, r, "live queue is temporarily unavailable")
		return
	}

	stream, err := h.broadcaster.Open(r.Context(), storeID)
	if err != nil {
		response.FromError(w, r, h.logger, err, "failed to open queue stream")
		return
	}
	defer stream.Close()

	log := h.logger.With().
		Int64("store_id", storeID).
		Str("request_id", middleware.GetRequestID(r.Context())).
		Logger()

	sink := broadcast.NewSSESink(w)
	if err := sink.Start(); err != nil {
		log.Warn().Err(err).Msg("failed to start queue stream")
		return
	}

	if err := stream.Run(r.Context(), sink); err != nil {
		log.Warn().Err(err).Msg("queue stream ended")
	}
}

// Queues handles GET /stores/{storeId}/queues.
func (h *QueueHandler) Queues(w http.ResponseWriter, r *http.Request) {
	storeID, ok := storeIDParam(w, r)
	if !ok {
		return
	}

	if _, err := h.store.GetStore(r.Context(), storeID); err != nil {
		response.FromError(w, r, h.logger, err, "failed to load store")
		return
	}
	tickets, err := h.store.ListTickets(r.Context(), storeID)
	if err != nil {
		response.FromError(w, r, h.logger, err, "failed to load queues")
		return
	}
	if tickets == nil {
		tickets = []waitlist.Ticket{}
	}

	response.JSON(w, r, http.StatusOK, models.QueuesResponse{Queues: tickets})
}

// RegisterNotification handles POST /stores/{storeId}/queue-notifications.
func (h *QueueHandler) RegisterNotification(w http.ResponseWriter, r *http.Request) {
	storeID, ok := storeIDParam(w, r)
	if !ok {
		return
	}

	var input models.RegisterNotificationRequest
	if !response.DecodeJSON(w, r, &input) {
		return
	}

	if _, _, err := h.registrations.Register(r.Context(), storeID, input.QueueNumber, input.FCMToken); err != nil {
		response.FromError(w, r, h.logger, err, "failed to register for notifications")
		return
	}

	response.Created(w, r, models.OKResponse{OK: true})
}

// Ready handles POST /queue-events/ready. It sends the ready notification
// for one ticket and reports the delivery counts.
func (h *QueueHandler) Ready(w http.ResponseWriter, r *http.Request) {
	var input models.ReadyEventRequest
	if !response.DecodeJSON(w, r, &input) {
		return
	}
	if input.StoreID <= 0 {
		response.BadRequest(w, r, "storeId must be a positive integer",
			[]models.FieldError{{Field: "storeId", Message: "must be a positive integer"}})
		return
	}
	if input.QueueNumber < notify.MinQueueNumber || input.QueueNumber > notify.MaxQueueNumber {
		response.BadRequest(w, r, "queueNumber must be between 1 and 9999",
			[]models.FieldError{{Field: "queueNumber", Message: "out of range"}})
		return
	}

	result, err := h.notifier.NotifyReady(r.Context(), input.StoreID, input.QueueNumber)
	if err != nil {
		response.FromError(w, r, h.logger, err, "failed to send ready notification")
		return
	}

	response.JSON(w, r, http.StatusOK, models.ReadyEventResponse{
		OK:           true,
		SuccessCount: result.SuccessCount,
		FailureCount: result.FailureCount,
		Pruned:       result.Pruned,
		Skipped:      result.SkipReason,
	})
}

func storeIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	storeID, err := strconv.ParseInt(chi.URLParam(r, "storeId"), 10, 64)
	if err != nil || storeID <= 0 {
		response.BadRequest(w, r, "invalid store id",
			[]models.FieldError{{Field: "storeId", Message: "must be a positive integer"}})
		return 0, false
	}
	return storeID, true
}
