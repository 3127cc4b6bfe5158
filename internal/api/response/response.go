// Package response provides utilities for HTTP response handling.
package response

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/tableqr/waitlist/internal/api/middleware"
	"github.com/tableqr/waitlist/internal/api/models"
	"github.com/tableqr/waitlist/internal/waitlist"
)

// MaxBodyBytes bounds JSON request bodies.
const MaxBodyBytes = 64 << 10

// JSON writes a JSON response with the given status code.
// Includes X-Request-Id header for correlation.
func JSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	if requestID := middleware.GetRequestID(r.Context()); requestID != "" {
		w.Header().Set("X-Request-Id", requestID)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// Created writes a 201 Created response.
func Created(w http.ResponseWriter, r *http.Request, data interface{}) {
	JSON(w, r, http.StatusCreated, data)
}

// DecodeJSON reads a bounded JSON body into dst. On failure it writes a
// 400 problem and returns false.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	body := http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		BadRequest(w, r, "invalid JSON body", nil)
		return false
	}
	return true
}

// Error writes a Problem+JSON error response.
func Error(w http.ResponseWriter, r *http.Request, problem *models.Problem) {
	problem.Instance = r.URL.Path
	problem.Write(w)
}

// BadRequest writes a 400 Bad Request error response.
func BadRequest(w http.ResponseWriter, r *http.Request, detail string, errors []models.FieldError) {
	Error(w, r, models.NewBadRequest(middleware.GetRequestID(r.Context()), detail, errors))
}

// NotFound writes a 404 Not Found error response.
func NotFound(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, models.NewNotFound(middleware.GetRequestID(r.Context()), detail))
}

// InternalError writes a 500 Internal Server Error response.
func InternalError(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, models.NewInternalError(middleware.GetRequestID(r.Context()), detail))
}

// ServiceUnavailable writes a 503 Service Unavailable error response.
func ServiceUnavailable(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, models.NewServiceUnavailable(middleware.GetRequestID(r.Context()), detail))
}

// FromError maps a domain error to a problem response: validation errors
// become 400, unknown stores and tickets 404, anything else 500 with
// fallback as the detail. Only 500s are logged.
func FromError(w http.ResponseWriter, r *http.Request, log zerolog.Logger, err error, fallback string) {
	var validationErr *waitlist.ValidationError
	switch {
	case errors.As(err, &validationErr):
		var fields []models.FieldError
		if validationErr.Field != "" {
			fields = []models.FieldError{{Field: validationErr.Field, Message: validationErr.Message}}
		}
		BadRequest(w, r, validationErr.Message, fields)
	case errors.Is(err, waitlist.ErrStoreNotFound):
		NotFound(w, r, "store not found")
	case errors.Is(err, waitlist.ErrTicketNotFound):
		NotFound(w, r, "ticket not found")
	default:
		log.Error().
			Err(err).
			Str("request_id", middleware.GetRequestID(r.Context())).
			Str("path", r.URL.Path).
			Msg(fallback)
		InternalError(w, r, fallback)
	}
}
