// Package notify registers push tokens against waitlist tickets and
// delivers "order ready" notifications to them.
package notify

import (
	"strings"
	"time"
)

// Queue number bounds accepted for registration.
const (
	MinQueueNumber = 1
	MaxQueueNumber = 9999
)

// TokenRecord is one recipient's registration of interest in a ticket.
// (StoreID, QueueNumber, Token) is unique.
type TokenRecord struct {
	ID          int64
	StoreID     int64
	QueueNumber int
	Token       string `json:"-"`
	CreatedAt   time.Time
}

// TokenSuffix returns the last 6 characters of the token for logging.
func (r *TokenRecord) TokenSuffix() string {
	if len(r.Token) <= 6 {
		return r.Token
	}
	return r.Token[len(r.Token)-6:]
}

// Provider error codes reported per token.
const (
	CodeTokenNotRegistered = "registration-token-not-registered"
	CodeInvalidToken       = "invalid-registration-token"
	CodeQuotaExceeded      = "message-rate-exceeded"
	CodeUnavailable        = "server-unavailable"
	CodeInternal           = "internal-error"
	CodeSenderMismatch     = "mismatched-credential"
	CodeThirdPartyAuth     = "third-party-auth-error"
	CodeUnsupported        = "unsupported-environment"
	CodeUnknown            = "unknown-error"
)

// IsPermanentFailure reports whether a per-token error code means the
// token will never be deliverable again. The provider's "messaging/"
// prefix is accepted.
func IsPermanentFailure(code string) bool {
	switch strings.TrimPrefix(code, "messaging/") {
	case CodeTokenNotRegistered, CodeInvalidToken:
		return true
	default:
		return false
	}
}
