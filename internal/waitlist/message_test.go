package waitlist_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tableqr/waitlist/internal/waitlist"
)

func TestMessage_MarshalSnapshot(t *testing.T) {
	msg := waitlist.NewSnapshot([]waitlist.Ticket{
		{QueueID: 1, StoreID: 3, QueueNumber: 7, Status: waitlist.StatusReady},
	})

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"snapshot","data":[{"queue_id":1,"store_id":3,"queue_number":7,"status":1}]}`, string(data))
}

func TestMessage_MarshalEmptySnapshot(t *testing.T) {
	data, err := json.Marshal(waitlist.NewSnapshot(nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"snapshot","data":[]}`, string(data))
}

func TestMessage_MarshalMutation(t *testing.T) {
	msg := waitlist.NewMutation(waitlist.ChangeEvent{
		Type: waitlist.EventUpdate,
		Old:  &waitlist.Ticket{QueueID: 1, StoreID: 3, QueueNumber: 42, Status: waitlist.StatusWaiting},
		New:  &waitlist.Ticket{QueueID: 1, StoreID: 3, QueueNumber: 42, Status: waitlist.StatusReady},
	})

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"mutation","data":{"eventType":"UPDATE",
		"new":{"queue_id":1,"store_id":3,"queue_number":42,"status":1},
		"old":{"queue_id":1,"store_id":3,"queue_number":42,"status":0}}}`, string(data))
}

func TestParseMessage(t *testing.T) {
	msg, err := waitlist.ParseMessage([]byte(`{"type":"mutation","data":{"eventType":"INSERT","new":{"queue_number":5,"status":"WAITING"},"old":null}}`))
	require.NoError(t, err)
	assert.Equal(t, waitlist.MessageMutation, msg.Type)
	require.NotNil(t, msg.Mutation)
	assert.Equal(t, waitlist.EventInsert, msg.Mutation.Type)
	assert.Nil(t, msg.Mutation.Old)
	assert.Equal(t, 5, msg.Mutation.New.QueueNumber)

	msg, err = waitlist.ParseMessage([]byte(`{"type":"snapshot","data":[{"queue_number":42,"status":0},{"queue_number":7,"status":1}]}`))
	require.NoError(t, err)
	assert.Equal(t, waitlist.MessageSnapshot, msg.Type)
	assert.Len(t, msg.Snapshot, 2)
}

func TestParseMessage_Malformed(t *testing.T) {
	inputs := []string{
		`not json`,
		`{"type":"heartbeat","data":{}}`,
		`{"type":"snapshot","data":{"oops":true}}`,
		`{"type":"mutation","data":{"eventType":"TRUNCATE"}}`,
	}

	for _, input := range inputs {
		_, err := waitlist.ParseMessage([]byte(input))
		assert.ErrorIs(t, err, waitlist.ErrMalformedMessage, input)
	}
}
