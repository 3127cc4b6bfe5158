package middleware

import (
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/rs/zerolog"

	"github.com/tableqr/waitlist/internal/api/models"
)

// Recovery turns a handler panic into a 500 problem response. Panics with
// http.ErrAbortHandler are re-raised so the server drops the connection.
// A panic after the response started, as in an open queue stream, is only
// logged and the stream ends.
func Recovery(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := newStatusRecorder(w)
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if err, ok := v.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(v)
				}

				requestID := GetRequestID(r.Context())
				log.Error().
					Str("request_id", requestID).
					Str("path", r.URL.Path).
					Bool("response_started", rec.wroteHeader).
					Interface("error", v).
					Str("stack", string(debug.Stack())).
					Msg("panic recovered")

				if rec.wroteHeader {
					return
				}
				models.NewInternalError(requestID, "an unexpected error occurred").Serve(w, r)
			}()

			next.ServeHTTP(rec, r)
		})
	}
}
