package tracker_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tableqr/waitlist/internal/provider/resilience"
	"github.com/tableqr/waitlist/internal/tracker"
	"github.com/tableqr/waitlist/internal/waitlist"
)

type registrationServer struct {
	*httptest.Server
	calls  atomic.Int32
	mu     sync.Mutex
	bodies []map[string]any
	path   string
}

func newRegistrationServer(t *testing.T, status int, body string) *registrationServer {
	t.Helper()
	rs := &registrationServer{}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rs.calls.Add(1)
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		rs.mu.Lock()
		rs.bodies = append(rs.bodies, payload)
		rs.path = r.URL.Path
		rs.mu.Unlock()

		if status >= 400 {
			w.Header().Set("Content-Type", "application/problem+json")
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(rs.Server.Close)
	return rs
}

func newSubscriber(t *testing.T, baseURL string, tokens tracker.TokenSource) (*tracker.Subscriber, *tracker.Engine, *noticeLog) {
	t.Helper()
	engine, log := newEngine()
	engine.ApplySnapshot([]waitlist.Ticket{*ticket(42, waitlist.StatusWaiting), *ticket(7, waitlist.StatusReady)})

	client := resilience.NewClient(resilience.DefaultClientConfig("registration-test"))
	subscriber := tracker.NewSubscriber(tracker.SubscriberConfig{
		Engine:    engine,
		Tokens:    tokens,
		Registrar: tracker.NewHTTPRegistrar(client, baseURL, 3),
		Logger:    zerolog.Nop(),
	})
	return subscriber, engine, log
}

func TestSubmit_RegistersWaitingTicket(t *testing.T) {
	server := newRegistrationServer(t, http.StatusCreated, `{"ok":true}`)
	subscriber, engine, log := newSubscriber(t, server.URL, tracker.StaticTokenSource("tok-abc"))

	number, err := subscriber.Submit(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, 42, number)

	assert.Equal(t, int32(1), server.calls.Load())
	assert.Equal(t, "/stores/3/queue-notifications", server.path)
	assert.Equal(t, map[string]any{"queueNumber": float64(42), "fcmToken": "tok-abc"}, server.bodies[0])

	assert.Equal(t, 42, engine.State().Tracked)
	assert.Equal(t, []tracker.NoticeKind{tracker.NoticeRegistered}, log.kinds())
}

func TestSubmit_NotWaitingMakesNoCall(t *testing.T) {
	server := newRegistrationServer(t, http.StatusCreated, `{"ok":true}`)
	subscriber, engine, _ := newSubscriber(t, server.URL, tracker.StaticTokenSource("tok-abc"))

	_, err := subscriber.Submit(context.Background(), "99")
	assert.ErrorIs(t, err, tracker.ErrNotWaiting)

	_, err = subscriber.Submit(context.Background(), "7")
	assert.ErrorIs(t, err, tracker.ErrNotWaiting, "ready tickets cannot be claimed")

	assert.Zero(t, server.calls.Load())
	assert.Zero(t, engine.State().Tracked)
}

func TestSubmit_InputValidation(t *testing.T) {
	server := newRegistrationServer(t, http.StatusCreated, `{"ok":true}`)
	subscriber, _, _ := newSubscriber(t, server.URL, tracker.StaticTokenSource("tok-abc"))

	tests := []struct {
		input string
		want  error
	}{
		{input: "", want: tracker.ErrEmptyInput},
		{input: "   ", want: tracker.ErrEmptyInput},
		{input: "4a", want: tracker.ErrNotNumeric},
		{input: "-42", want: tracker.ErrNotNumeric},
		{input: "99999999999999999999999", want: tracker.ErrNotNumeric},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			_, err := subscriber.Submit(context.Background(), tt.input)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Zero(t, server.calls.Load())
	assert.Equal(t, "enter a ticket number.", tracker.ErrEmptyInput.Error())
}

func TestSubmit_PermissionDenied(t *testing.T) {
	server := newRegistrationServer(t, http.StatusCreated, `{"ok":true}`)
	subscriber, engine, _ := newSubscriber(t, server.URL, tracker.StaticTokenSource(""))

	_, err := subscriber.Submit(context.Background(), "42")
	assert.ErrorIs(t, err, tracker.ErrPermissionDenied)
	assert.Zero(t, server.calls.Load())
	assert.Zero(t, engine.State().Tracked)
}

func TestSubmit_ServerRejection(t *testing.T) {
	server := newRegistrationServer(t, http.StatusNotFound,
		`{"type":"https://api.tableqr.app/problems/not-found","title":"Not Found","status":404,"detail":"ticket not found"}`)
	subscriber, engine, _ := newSubscriber(t, server.URL, tracker.StaticTokenSource("tok-abc"))
	engine.Track(42)

	_, err := subscriber.Submit(context.Background(), "42")

	var regErr *tracker.RegistrationError
	require.ErrorAs(t, err, &regErr)
	assert.Equal(t, http.StatusNotFound, regErr.Status)
	assert.Equal(t, "ticket not found", regErr.Message)
	assert.Zero(t, engine.State().Tracked)
}

func TestSubmit_ServerRejectionWithoutProblem(t *testing.T) {
	server := newRegistrationServer(t, http.StatusBadRequest, `oops`)
	subscriber, _, _ := newSubscriber(t, server.URL, tracker.StaticTokenSource("tok-abc"))

	_, err := subscriber.Submit(context.Background(), "42")

	var regErr *tracker.RegistrationError
	require.ErrorAs(t, err, &regErr)
	assert.Equal(t, "failed to register for notifications.", regErr.Message)
}

type blockingRegistrar struct {
	entered chan struct{}
	release chan struct{}
}

func (r *blockingRegistrar) Register(context.Context, int, string) error {
	r.entered <- struct{}{}
	<-r.release
	return nil
}

func TestSubmit_RejectsConcurrentSubmission(t *testing.T) {
	engine, _ := newEngine()
	engine.ApplySnapshot([]waitlist.Ticket{*ticket(42, waitlist.StatusWaiting)})
	registrar := &blockingRegistrar{entered: make(chan struct{}, 1), release: make(chan struct{})}
	subscriber := tracker.NewSubscriber(tracker.SubscriberConfig{
		Engine:    engine,
		Tokens:    tracker.StaticTokenSource("tok"),
		Registrar: registrar,
		Logger:    zerolog.Nop(),
	})

	done := make(chan error, 1)
	go func() {
		_, err := subscriber.Submit(context.Background(), "42")
		done <- err
	}()

	select {
	case <-registrar.entered:
	case <-time.After(time.Second):
		t.Fatal("first submission never reached the registrar")
	}

	_, err := subscriber.Submit(context.Background(), "42")
	assert.ErrorIs(t, err, tracker.ErrSubmitInFlight)

	close(registrar.release)
	require.NoError(t, <-done)
	assert.Equal(t, 42, engine.State().Tracked)
}

func TestPromptTokenSource(t *testing.T) {
	var asks, fetches int
	source := &tracker.PromptTokenSource{
		Ask: func(context.Context) (bool, error) {
			asks++
			return true, nil
		},
		Fetch: func(context.Context) (string, error) {
			fetches++
			return "device-token", nil
		},
	}

	for i := 0; i < 3; i++ {
		token, err := source.Token(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "device-token", token)
	}
	assert.Equal(t, 1, asks)
	assert.Equal(t, 1, fetches)
}

func TestPromptTokenSource_DeniedIsRemembered(t *testing.T) {
	var asks int
	source := &tracker.PromptTokenSource{
		Ask: func(context.Context) (bool, error) {
			asks++
			return false, nil
		},
		Fetch: func(context.Context) (string, error) {
			t.Fatal("fetch must not run without permission")
			return "", nil
		},
	}

	for i := 0; i < 2; i++ {
		_, err := source.Token(context.Background())
		assert.ErrorIs(t, err, tracker.ErrPermissionDenied)
	}
	assert.Equal(t, 1, asks)
}

func TestPromptTokenSource_FetchFailureRetries(t *testing.T) {
	var fetches int
	source := &tracker.PromptTokenSource{
		Ask: func(context.Context) (bool, error) { return true, nil },
		Fetch: func(context.Context) (string, error) {
			fetches++
			if fetches == 1 {
				return "", errors.New("messaging unavailable")
			}
			return "tok", nil
		},
	}

	_, err := source.Token(context.Background())
	require.Error(t, err)

	token, err := source.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok", token)
}

func TestSanitizeDigits(t *testing.T) {
	assert.Equal(t, "42", tracker.SanitizeDigits(" #4-2 "))
	assert.Equal(t, "", tracker.SanitizeDigits("abc"))
	assert.Equal(t, "0012", tracker.SanitizeDigits("0012"))
}

func TestURLs(t *testing.T) {
	assert.Equal(t, "http://localhost:8080/stores/5/queue-stream", tracker.StreamURL("http://localhost:8080/", 5))
	assert.Equal(t, "http://localhost:8080/stores/5/queue-notifications", tracker.RegistrationURL("http://localhost:8080", 5))
}
