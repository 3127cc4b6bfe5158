package notify_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tableqr/waitlist/internal/notify"
	"github.com/tableqr/waitlist/internal/waitlist"
)

func TestBuildReadyMessage(t *testing.T) {
	msg := notify.BuildReadyMessage("Noodle Bar", 7, 12, "")

	assert.Equal(t, "Noodle Bar", msg.Title)
	assert.Equal(t, "Order 12 is ready.", msg.Body)
	assert.Equal(t, map[string]string{"queueNumber": "12", "ready": "true"}, msg.Data)
	assert.Equal(t, notify.ReadyChannelID, msg.AndroidChannelID)
	assert.Equal(t, notify.ReadySound, msg.Sound)
	assert.Equal(t, notify.ReadyUrgency, msg.WebpushUrgency)
	assert.Equal(t, notify.DefaultIcon, msg.Icon)
	assert.Equal(t, "queue-7-12", msg.Tag)
	assert.Empty(t, msg.Tokens)
}

func TestBuildReadyMessage_Formatting(t *testing.T) {
	tests := []struct {
		queueNumber int
		want        string
	}{
		{queueNumber: 3, want: "Order 03 is ready."},
		{queueNumber: 42, want: "Order 42 is ready."},
		{queueNumber: 105, want: "Order 105 is ready."},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, notify.BuildReadyMessage("", 1, tt.queueNumber, "/icon.png").Body)
		})
	}
}

func TestBuildReadyMessage_Defaults(t *testing.T) {
	msg := notify.BuildReadyMessage("", 1, 1, "/brand.png")

	assert.Equal(t, waitlist.DefaultStoreName, msg.Title)
	assert.Equal(t, "/brand.png", msg.Icon)
}

func TestIsPermanentFailure(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{code: notify.CodeTokenNotRegistered, want: true},
		{code: notify.CodeInvalidToken, want: true},
		{code: "messaging/registration-token-not-registered", want: true},
		{code: "messaging/invalid-registration-token", want: true},
		{code: notify.CodeQuotaExceeded, want: false},
		{code: notify.CodeUnavailable, want: false},
		{code: notify.CodeInternal, want: false},
		{code: notify.CodeUnsupported, want: false},
		{code: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, notify.IsPermanentFailure(tt.code))
		})
	}
}

func TestLogDispatcher_FailsEveryToken(t *testing.T) {
	d := notify.NewLogDispatcher(zerolog.Nop())
	msg := notify.BuildReadyMessage("", 1, 4, "")
	msg.Tokens = []string{"a", "b"}

	result, err := d.SendMulticast(context.Background(), msg)
	require.NoError(t, err)
	assert.Zero(t, result.SuccessCount)
	assert.Equal(t, 2, result.FailureCount)
	require.Len(t, result.Responses, 2)
	for _, resp := range result.Responses {
		assert.Equal(t, notify.CodeUnsupported, resp.ErrorCode)
		assert.False(t, notify.IsPermanentFailure(resp.ErrorCode))
	}
}
