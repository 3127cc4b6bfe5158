package notify_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tableqr/waitlist/internal/notify"
	"github.com/tableqr/waitlist/internal/provider/resilience"
)

type fakeMulticastClient struct {
	mu     sync.Mutex
	chunks [][]string
	last   *messaging.MulticastMessage
	fail   map[string]bool
	err    error
	// errOnChunk fails the n-th call (1-based) with err; zero fails every call.
	errOnChunk int
	calls      int
}

func (c *fakeMulticastClient) SendEachForMulticast(_ context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls++
	if c.err != nil && (c.errOnChunk == 0 || c.errOnChunk == c.calls) {
		return nil, c.err
	}
	c.chunks = append(c.chunks, append([]string(nil), message.Tokens...))
	c.last = message

	resp := &messaging.BatchResponse{}
	for _, token := range message.Tokens {
		if c.fail[token] {
			resp.FailureCount++
			resp.Responses = append(resp.Responses, &messaging.SendResponse{Error: errors.New("rejected")})
			continue
		}
		resp.SuccessCount++
		resp.Responses = append(resp.Responses, &messaging.SendResponse{Success: true, MessageID: "id-" + token})
	}
	return resp, nil
}

func tokens(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("token-%04d", i)
	}
	return out
}

func TestFCMDispatcher_ChunksLargeBatches(t *testing.T) {
	client := &fakeMulticastClient{fail: map[string]bool{"token-0501": true}}
	d := notify.NewFCMDispatcher(client, resilience.DefaultCircuitBreakerConfig("fcm-test"), time.Second)

	msg := notify.BuildReadyMessage("Noodle Bar", 7, 12, "")
	msg.Tokens = tokens(1203)

	result, err := d.SendMulticast(context.Background(), msg)
	require.NoError(t, err)

	require.Len(t, client.chunks, 3)
	assert.Len(t, client.chunks[0], notify.MaxMulticastTokens)
	assert.Len(t, client.chunks[1], notify.MaxMulticastTokens)
	assert.Len(t, client.chunks[2], 203)

	assert.Equal(t, 1202, result.SuccessCount)
	assert.Equal(t, 1, result.FailureCount)
	require.Len(t, result.Responses, 1203)
	assert.False(t, result.Responses[501].Success)
	assert.Equal(t, notify.CodeUnknown, result.Responses[501].ErrorCode)
	assert.Equal(t, "id-token-1202", result.Responses[1202].MessageID)
}

func TestFCMDispatcher_LaterChunkFailureKeepsDelivered(t *testing.T) {
	client := &fakeMulticastClient{err: errors.New("unavailable"), errOnChunk: 2}
	d := notify.NewFCMDispatcher(client, resilience.DefaultCircuitBreakerConfig("fcm-partial"), time.Second)

	msg := &notify.Message{Tokens: tokens(1203)}

	result, err := d.SendMulticast(context.Background(), msg)
	require.Error(t, err)
	require.NotNil(t, result)
	require.Len(t, result.Responses, 1203)

	assert.Equal(t, notify.MaxMulticastTokens, result.SuccessCount)
	assert.Equal(t, 703, result.FailureCount)
	assert.True(t, result.Responses[499].Success)
	assert.False(t, result.Responses[500].Success)
	assert.Equal(t, notify.CodeUnavailable, result.Responses[500].ErrorCode)
	assert.Equal(t, notify.CodeUnavailable, result.Responses[1202].ErrorCode)
	assert.Len(t, client.chunks, 1, "no chunk is sent after a failure")
}

func TestFCMDispatcher_MessageShape(t *testing.T) {
	client := &fakeMulticastClient{}
	d := notify.NewFCMDispatcher(client, resilience.CircuitBreakerConfig{}, 0)

	msg := notify.BuildReadyMessage("Noodle Bar", 7, 12, "")
	msg.Tokens = []string{"a"}

	_, err := d.SendMulticast(context.Background(), msg)
	require.NoError(t, err)

	sent := client.last
	require.NotNil(t, sent)
	assert.Equal(t, "Noodle Bar", sent.Notification.Title)
	assert.Equal(t, "Order 12 is ready.", sent.Notification.Body)
	assert.Equal(t, "12", sent.Data["queueNumber"])
	assert.Equal(t, "high", sent.Android.Priority)
	assert.Equal(t, notify.ReadyChannelID, sent.Android.Notification.ChannelID)
	assert.Equal(t, notify.ReadySound, sent.Android.Notification.Sound)
	assert.Equal(t, "high", sent.Webpush.Headers["Urgency"])
	assert.Equal(t, notify.DefaultIcon, sent.Webpush.Notification.Icon)
	assert.Equal(t, "queue-7-12", sent.Webpush.Notification.Tag)
}

func TestFCMDispatcher_CircuitOpens(t *testing.T) {
	client := &fakeMulticastClient{err: errors.New("503 from provider")}
	cfg := resilience.DefaultCircuitBreakerConfig("fcm-trip")
	cfg.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= 1
	}
	d := notify.NewFCMDispatcher(client, cfg, time.Second)

	msg := &notify.Message{Tokens: []string{"a"}}

	_, err := d.SendMulticast(context.Background(), msg)
	require.Error(t, err)
	assert.NotErrorIs(t, err, notify.ErrDispatchUnavailable)

	_, err = d.SendMulticast(context.Background(), msg)
	assert.ErrorIs(t, err, notify.ErrDispatchUnavailable)
	assert.Equal(t, gobreaker.StateOpen, d.CircuitBreakerState())
}

func TestFCMDispatcher_NoTokens(t *testing.T) {
	client := &fakeMulticastClient{}
	d := notify.NewFCMDispatcher(client, resilience.CircuitBreakerConfig{}, time.Second)

	result, err := d.SendMulticast(context.Background(), &notify.Message{})
	require.NoError(t, err)
	assert.Empty(t, result.Responses)
	assert.Empty(t, client.chunks)
}

func TestFCMConfig_HasCredentials(t *testing.T) {
	assert.False(t, notify.FCMConfig{ProjectID: "p"}.HasCredentials())
	assert.True(t, notify.FCMConfig{CredentialsFile: "/etc/sa.json"}.HasCredentials())
	assert.True(t, notify.FCMConfig{CredentialsJSON: "{}"}.HasCredentials())
}

func TestFCMConfigFromEnv(t *testing.T) {
	t.Setenv("FIREBASE_PROJECT_ID", "tableqr-prod")
	t.Setenv("FIREBASE_CREDENTIALS_JSON", `{"type":"service_account"}`)
	t.Setenv("FCM_SEND_TIMEOUT", "3s")
	t.Setenv("FCM_DISABLED", "true")

	cfg := notify.FCMConfigFromEnv()
	assert.Equal(t, "tableqr-prod", cfg.ProjectID)
	assert.Equal(t, 3*time.Second, cfg.SendTimeout)
	assert.True(t, cfg.Disabled)
	assert.True(t, cfg.HasCredentials())
}
