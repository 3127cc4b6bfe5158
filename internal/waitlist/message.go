package waitlist

import (
	"encoding/json"
	"fmt"
)

// MessageType discriminates stream messages.
type MessageType string

const (
	MessageSnapshot MessageType = "snapshot"
	MessageMutation MessageType = "mutation"
)

// Message is one item on the live queue stream: either a full snapshot or a
// single mutation. Exactly one of Snapshot and Mutation is set.
type Message struct {
	Type     MessageType
	Snapshot []Ticket
	Mutation *ChangeEvent
}

// NewSnapshot builds a snapshot message. A nil slice encodes as an empty array.
func NewSnapshot(tickets []Ticket) Message {
	if tickets == nil {
		tickets = []Ticket{}
	}
	return Message{Type: MessageSnapshot, Snapshot: tickets}
}

// NewMutation builds a mutation message for a change event.
func NewMutation(event ChangeEvent) Message {
	return Message{Type: MessageMutation, Mutation: &event}
}

type wireMessage struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// MarshalJSON encodes the message as {"type": ..., "data": ...}.
func (m Message) MarshalJSON() ([]byte, error) {
	var (
		data []byte
		err  error
	)
	switch m.Type {
	case MessageSnapshot:
		tickets := m.Snapshot
		if tickets == nil {
			tickets = []Ticket{}
		}
		data, err = json.Marshal(tickets)
	case MessageMutation:
		if m.Mutation == nil {
			return nil, fmt.Errorf("%w: mutation without data", ErrMalformedMessage)
		}
		data, err = json.Marshal(m.Mutation)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedMessage, m.Type)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireMessage{Type: m.Type, Data: data})
}

// UnmarshalJSON decodes a stream message, rejecting unknown types.
func (m *Message) UnmarshalJSON(raw []byte) error {
	var wire wireMessage
	if err := json.Unmarshal(raw, &wire); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	switch wire.Type {
	case MessageSnapshot:
		var tickets []Ticket
		if err := json.Unmarshal(wire.Data, &tickets); err != nil {
			return fmt.Errorf("%w: snapshot: %v", ErrMalformedMessage, err)
		}
		*m = NewSnapshot(tickets)
	case MessageMutation:
		var event ChangeEvent
		if err := json.Unmarshal(wire.Data, &event); err != nil {
			return fmt.Errorf("%w: mutation: %v", ErrMalformedMessage, err)
		}
		if !event.Type.Valid() {
			return fmt.Errorf("%w: event type %q", ErrMalformedMessage, event.Type)
		}
		*m = NewMutation(event)
	default:
		return fmt.Errorf("%w: unknown type %q", ErrMalformedMessage, wire.Type)
	}
	return nil
}

// ParseMessage decodes one stream payload.
func ParseMessage(data []byte) (Message, error) {
	var m Message
	if err := m.UnmarshalJSON(data); err != nil {
		return Message{}, err
	}
	return m, nil
}
