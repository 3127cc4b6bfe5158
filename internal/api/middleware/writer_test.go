package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tableqr/waitlist/internal/api/middleware"
)

func TestChain_FlushReachesUnderlyingWriter(t *testing.T) {
	metrics, err := middleware.NewMetrics()
	require.NoError(t, err)

	var flushErr error
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {}\n\n"))
		flushErr = http.NewResponseController(w).Flush()
	})

	handler := middleware.Logger(zerolog.Nop())(
		metrics.Middleware()(middleware.Tracing("waitlist-api")(inner)),
	)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/stores/1/queue-stream", http.NoBody))

	require.NoError(t, flushErr)
	assert.True(t, rec.Flushed)
	assert.Equal(t, "data: {}\n\n", rec.Body.String())
}
