package middleware_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tableqr/waitlist/internal/api/middleware"
)

func serveLogged(t *testing.T, handler http.Handler, req *http.Request) map[string]interface{} {
	t.Helper()
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	middleware.RequestID(middleware.Logger(log)(handler)).ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLogger_LogsRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/stores/1/queues", http.NoBody)
	req.Header.Set("User-Agent", "test-agent")

	entry := serveLogged(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"queues":[]}`))
	}), req)

	assert.Equal(t, "request completed", entry["message"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "GET", entry["method"])
	assert.Equal(t, "/v1/stores/1/queues", entry["path"])
	assert.Equal(t, float64(200), entry["status"])
	assert.Equal(t, float64(13), entry["bytes"])
	assert.Equal(t, "test-agent", entry["user_agent"])
	assert.Contains(t, entry["request_id"], "req_")
	assert.NotContains(t, entry, "trace_id")
}

func TestLogger_ServerErrorsLogAtErrorLevel(t *testing.T) {
	entry := serveLogged(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}), httptest.NewRequest(http.MethodPost, "/v1/queue-events/ready", http.NoBody))

	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, float64(500), entry["status"])
}

func TestLogger_StreamClosed(t *testing.T) {
	entry := serveLogged(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {}\n\n"))
	}), httptest.NewRequest(http.MethodGet, "/v1/stores/1/queue-stream", http.NoBody))

	assert.Equal(t, "stream closed", entry["message"])
	assert.Equal(t, "info", entry["level"])
}

func TestLogger_IncludesTraceID(t *testing.T) {
	setupTestTracer(t)

	var buf bytes.Buffer
	handler := middleware.Tracing("waitlist-api")(middleware.Logger(zerolog.New(&buf))(okHandler))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	traceID, ok := entry["trace_id"].(string)
	require.True(t, ok)
	assert.Len(t, traceID, 32)

	spanID, ok := entry["span_id"].(string)
	require.True(t, ok)
	assert.Len(t, spanID, 16)
}
