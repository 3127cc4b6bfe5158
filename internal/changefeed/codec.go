package changefeed

import (
	"encoding/json"
	"fmt"

	"github.com/tableqr/waitlist/internal/waitlist"
)

// DecodeEvent parses a change payload of the form
// {"eventType": "UPDATE", "new": {...}, "old": {...}}.
func DecodeEvent(payload []byte) (waitlist.ChangeEvent, error) {
	var event waitlist.ChangeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return waitlist.ChangeEvent{}, fmt.Errorf("decode change payload: %w", err)
	}
	if !event.Type.Valid() {
		return waitlist.ChangeEvent{}, fmt.Errorf("decode change payload: unknown event type %q", event.Type)
	}
	if event.New == nil && event.Old == nil {
		return waitlist.ChangeEvent{}, fmt.Errorf("decode change payload: no row data")
	}
	return event, nil
}

// EncodeEvent renders an event in the payload format DecodeEvent reads.
func EncodeEvent(event waitlist.ChangeEvent) ([]byte, error) {
	return json.Marshal(event)
}
