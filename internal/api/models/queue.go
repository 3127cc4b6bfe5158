package models

import "github.com/tableqr/waitlist/internal/waitlist"

// RegisterNotificationRequest is the body of POST /stores/{storeId}/queue-notifications.
type RegisterNotificationRequest struct {
	QueueNumber int    `json:"queueNumber"`
	FCMToken    string `json:"fcmToken"`
}

// OKResponse acknowledges a write.
type OKResponse struct {
	OK bool `json:"ok"`
}

// QueuesResponse is the body of GET /stores/{storeId}/queues.
type QueuesResponse struct {
	Queues []waitlist.Ticket `json:"queues"`
}

// ReadyEventRequest is the body of POST /queue-events/ready.
type ReadyEventRequest struct {
	StoreID     int64 `json:"storeId"`
	QueueNumber int   `json:"queueNumber"`
}

// ReadyEventResponse reports the outcome of a ready notification.
type ReadyEventResponse struct {
	OK           bool   `json:"ok"`
	SuccessCount int    `json:"successCount"`
	FailureCount int    `json:"failureCount"`
	Pruned       int64  `json:"pruned"`
	Skipped      string `json:"skipped,omitempty"`
}
