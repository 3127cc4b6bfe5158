package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tableqr/waitlist/internal/api/models"
	"github.com/tableqr/waitlist/internal/provider/resilience"
)

// StreamURL returns the live queue endpoint of a store.
func StreamURL(baseURL string, storeID int64) string {
	return fmt.Sprintf("%s/stores/%d/queue-stream", strings.TrimRight(baseURL, "/"), storeID)
}

// RegistrationURL returns the notification registration endpoint of a store.
func RegistrationURL(baseURL string, storeID int64) string {
	return fmt.Sprintf("%s/stores/%d/queue-notifications", strings.TrimRight(baseURL, "/"), storeID)
}

// RegistrationError is a registration the server refused. Message is the
// server's explanation, suitable for the user.
type RegistrationError struct {
	Status  int
	Message string
}

func (e *RegistrationError) Error() string {
	return e.Message
}

const defaultRegistrationFailure = "failed to register for notifications."

// HTTPRegistrar posts registrations to the queue-notifications endpoint.
type HTTPRegistrar struct {
	client *resilience.Client
	url    string
}

// NewHTTPRegistrar creates a registrar for one store.
func NewHTTPRegistrar(client *resilience.Client, baseURL string, storeID int64) *HTTPRegistrar {
	return &HTTPRegistrar{
		client: client,
		url:    RegistrationURL(baseURL, storeID),
	}
}

type registrationRequest struct {
	QueueNumber int    `json:"queueNumber"`
	FCMToken    string `json:"fcmToken"`
}

// Register posts the ticket and token. Any non-2xx answer becomes a
// *RegistrationError carrying the server's problem detail.
func (r *HTTPRegistrar) Register(ctx context.Context, queueNumber int, token string) error {
	body, err := json.Marshal(registrationRequest{QueueNumber: queueNumber, FCMToken: token})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("post registration: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	regErr := &RegistrationError{Status: resp.StatusCode, Message: defaultRegistrationFailure}
	var problem models.Problem
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&problem); err == nil {
		switch {
		case problem.Detail != "":
			regErr.Message = problem.Detail
		case problem.Title != "":
			regErr.Message = problem.Title
		}
	}
	return regErr
}
