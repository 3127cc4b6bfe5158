package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/tableqr/waitlist/internal/api/middleware"
)

func setupTestMeter(t *testing.T) *sdkmetric.ManualReader {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(mp)
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	return reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader, name string) metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name == name {
				return m.Data
			}
		}
	}
	return nil
}

func requestTotals(t *testing.T, reader *sdkmetric.ManualReader) []metricdata.DataPoint[int64] {
	t.Helper()
	sum, ok := collect(t, reader, "http.server.request.total").(metricdata.Sum[int64])
	require.True(t, ok)
	return sum.DataPoints
}

func histogramCount(t *testing.T, reader *sdkmetric.ManualReader, name string) uint64 {
	t.Helper()
	hist, ok := collect(t, reader, name).(metricdata.Histogram[float64])
	if !ok {
		return 0
	}
	var n uint64
	for _, dp := range hist.DataPoints {
		n += dp.Count
	}
	return n
}

func attr(set attribute.Set, key string) string {
	v, _ := set.Value(attribute.Key(key))
	return v.Emit()
}

func TestMetrics_RecordsRoutePattern(t *testing.T) {
	reader := setupTestMeter(t)
	metrics, err := middleware.NewMetrics()
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(metrics.Middleware())
	r.Get("/stores/{storeId}/queues", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"queues":[]}`))
	})

	for _, path := range []string{"/stores/1/queues", "/stores/2/queues", "/stores/3/queues"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, http.NoBody))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	points := requestTotals(t, reader)
	require.Len(t, points, 1, "one series for every store")
	assert.Equal(t, int64(3), points[0].Value)
	assert.Equal(t, "/stores/{storeId}/queues", attr(points[0].Attributes, "http.route"))
	assert.Equal(t, "200", attr(points[0].Attributes, "http.status_code"))
	assert.Equal(t, "false", attr(points[0].Attributes, "error"))
}

func TestMetrics_UnmatchedAndErrors(t *testing.T) {
	reader := setupTestMeter(t)
	metrics, err := middleware.NewMetrics()
	require.NoError(t, err)

	handler := metrics.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/queue-events/ready", http.NoBody))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	points := requestTotals(t, reader)
	require.Len(t, points, 1)
	assert.Equal(t, "unmatched", attr(points[0].Attributes, "http.route"))
	assert.Equal(t, "POST", attr(points[0].Attributes, "http.method"))
	assert.Equal(t, "true", attr(points[0].Attributes, "error"))
}

func TestMetrics_StreamsMeasuredSeparately(t *testing.T) {
	reader := setupTestMeter(t)
	metrics, err := middleware.NewMetrics()
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(metrics.Middleware())
	r.Get("/stores/{storeId}/queue-stream", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {}\n\n"))
	})
	r.Get("/stores/{storeId}/queues", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"queues":[]}`))
	})

	for _, path := range []string{"/stores/1/queue-stream", "/stores/2/queue-stream", "/stores/1/queues"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, http.NoBody))
	}

	assert.Equal(t, uint64(2), histogramCount(t, reader, "waitlist.queue_stream.duration"))
	assert.Equal(t, uint64(1), histogramCount(t, reader, "http.server.request.duration"))
	assert.Len(t, requestTotals(t, reader), 2, "streams still counted as requests")
}
