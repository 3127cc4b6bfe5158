package models_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tableqr/waitlist/internal/api/models"
)

func TestProblem_Builders(t *testing.T) {
	p := models.NewProblem(models.ProblemTypeValidation, "Validation error", http.StatusBadRequest, "req_1").
		WithDetail("queueNumber must be between 1 and 9999").
		WithInstance("/stores/3/queue-notifications").
		WithErrors([]models.FieldError{{Field: "queueNumber", Message: "out of range", Code: "OUT_OF_RANGE"}})

	assert.Equal(t, "queueNumber must be between 1 and 9999", p.Detail)
	assert.Equal(t, "/stores/3/queue-notifications", p.Instance)
	require.Len(t, p.Errors, 1)
	assert.Equal(t, "OUT_OF_RANGE", p.Errors[0].Code)
}

func TestProblem_Serve(t *testing.T) {
	p := models.NewNotFound("req_abc", "ticket not found")

	w := httptest.NewRecorder()
	p.Serve(w, httptest.NewRequest(http.MethodPost, "/stores/3/queue-notifications", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	assert.Equal(t, "req_abc", w.Header().Get("X-Request-Id"))

	var got models.Problem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, models.ProblemTypeNotFound, got.Type)
	assert.Equal(t, "ticket not found", got.Detail)
	assert.Equal(t, "/stores/3/queue-notifications", got.Instance)
	assert.Equal(t, "req_abc", got.TraceID)
	assert.Nil(t, got.Errors)
}

func TestProblem_Constructors(t *testing.T) {
	tests := []struct {
		name       string
		problem    *models.Problem
		wantType   string
		wantTitle  string
		wantStatus int
	}{
		{
			name:       "bad request",
			problem:    models.NewBadRequest("req_1", "invalid store id", nil),
			wantType:   models.ProblemTypeValidation,
			wantTitle:  "Validation error",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "tls required",
			problem:    models.NewTLSRequired("req_1", "this endpoint requires HTTPS"),
			wantType:   models.ProblemTypeTLSRequired,
			wantTitle:  "TLS required",
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "not found",
			problem:    models.NewNotFound("req_1", "store not found"),
			wantType:   models.ProblemTypeNotFound,
			wantTitle:  "Not found",
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "too many requests",
			problem:    models.NewTooManyRequests("req_1", "slow down"),
			wantType:   models.ProblemTypeTooManyRequests,
			wantTitle:  "Too many requests",
			wantStatus: http.StatusTooManyRequests,
		},
		{
			name:       "unsupported media type",
			problem:    models.NewUnsupportedMediaType("req_1", "Content-Type must be application/json"),
			wantType:   models.ProblemTypeUnsupportedMediaType,
			wantTitle:  "Unsupported media type",
			wantStatus: http.StatusUnsupportedMediaType,
		},
		{
			name:       "internal",
			problem:    models.NewInternalError("req_1", "failed to load queues"),
			wantType:   models.ProblemTypeInternal,
			wantTitle:  "Internal server error",
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "unavailable",
			problem:    models.NewServiceUnavailable("req_1", "queue stream disabled"),
			wantType:   models.ProblemTypeUnavailable,
			wantTitle:  "Service unavailable",
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantType, tt.problem.Type)
			assert.Equal(t, tt.wantTitle, tt.problem.Title)
			assert.Equal(t, tt.wantStatus, tt.problem.Status)
			assert.Equal(t, "req_1", tt.problem.TraceID)
			assert.NotEmpty(t, tt.problem.Detail)
		})
	}
}

func TestProblemFor_UnregisteredStatus(t *testing.T) {
	p := models.ProblemFor(http.StatusConflict, "req_9", "already registered")

	assert.Equal(t, "about:blank", p.Type)
	assert.Equal(t, "Conflict", p.Title)
	assert.Equal(t, http.StatusConflict, p.Status)
	assert.Equal(t, "already registered", p.Detail)
}
