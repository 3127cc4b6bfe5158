package broadcast

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tableqr/waitlist/internal/waitlist"
)

// SSESink writes stream messages as Server-Sent Events, one "data:" line
// per message, flushing after each write.
type SSESink struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

// NewSSESink creates a sink over w. Call Start before the first Send.
func NewSSESink(w http.ResponseWriter) *SSESink {
	return &SSESink{w: w, rc: http.NewResponseController(w)}
}

// Start commits the event-stream headers and clears the server's write
// deadline for the long-lived response.
func (s *SSESink) Start() error {
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-store")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")

	if err := s.rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return fmt.Errorf("clear write deadline: %w", err)
	}

	s.w.WriteHeader(http.StatusOK)
	return s.flush()
}

// Send writes one message.
func (s *SSESink) Send(msg waitlist.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	return s.flush()
}

// Ping writes an SSE comment line.
func (s *SSESink) Ping() error {
	if _, err := io.WriteString(s.w, ": keep-alive\n\n"); err != nil {
		return err
	}
	return s.flush()
}

func (s *SSESink) flush() error {
	if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}

// Ensure SSESink implements Sink interface.
var _ Sink = (*SSESink)(nil)
