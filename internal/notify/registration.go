package notify

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tableqr/waitlist/internal/waitlist"
)

// RegistrationServiceConfig holds configuration for the registration service.
type RegistrationServiceConfig struct {
	Store      waitlist.Store
	Repository Repository
	Logger     zerolog.Logger
}

// RegistrationService records interest in a ticket's readiness.
type RegistrationService struct {
	store  waitlist.Store
	repo   Repository
	logger zerolog.Logger
}

// NewRegistrationService creates a new registration service.
func NewRegistrationService(cfg RegistrationServiceConfig) *RegistrationService {
	return &RegistrationService{
		store:  cfg.Store,
		repo:   cfg.Repository,
		logger: cfg.Logger,
	}
}

// ValidateRegistration checks the caller-supplied fields.
func ValidateRegistration(queueNumber int, token string) error {
	if queueNumber < MinQueueNumber || queueNumber > MaxQueueNumber {
		return &waitlist.ValidationError{Field: "queueNumber", Message: "queueNumber must be between 1 and 9999"}
	}
	if strings.TrimSpace(token) == "" {
		return &waitlist.ValidationError{Field: "fcmToken", Message: "fcmToken is required"}
	}
	return nil
}

// Register stores a token for a ticket. The ticket must exist and still be
// on the board; otherwise waitlist.ErrTicketNotFound is returned.
// Registering the same token twice succeeds without a second record.
func (s *RegistrationService) Register(ctx context.Context, storeID int64, queueNumber int, token string) (*TokenRecord, bool, error) {
	if err := ValidateRegistration(queueNumber, token); err != nil {
		return nil, false, err
	}

	ticket, err := s.store.GetTicketByNumber(ctx, storeID, queueNumber)
	if err != nil {
		if errors.Is(err, waitlist.ErrTicketNotFound) {
			return nil, false, waitlist.ErrTicketNotFound
		}
		return nil, false, &waitlist.UpstreamError{Op: "load ticket", Err: err}
	}
	if ticket.IsTerminal() {
		return nil, false, waitlist.ErrTicketNotFound
	}

	record := &TokenRecord{
		StoreID:     storeID,
		QueueNumber: queueNumber,
		Token:       strings.TrimSpace(token),
		CreatedAt:   time.Now(),
	}

	created, err := s.repo.Upsert(ctx, record)
	if err != nil {
		return nil, false, &waitlist.UpstreamError{Op: "save token", Err: err}
	}

	s.logger.Debug().
		Int64("store_id", storeID).
		Int("queue_number", queueNumber).
		Str("token_suffix", record.TokenSuffix()).
		Bool("created", created).
		Msg("queue notification registered")

	return record, created, nil
}
