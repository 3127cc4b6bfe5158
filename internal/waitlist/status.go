package waitlist

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Status is the canonical three-bucket ticket status.
type Status int

const (
	StatusWaiting Status = 0
	StatusReady   Status = 1
	StatusServed  Status = 2
)

// String returns the canonical name of the status.
func (s Status) String() string {
	switch s {
	case StatusWaiting:
		return "WAITING"
	case StatusReady:
		return "READY"
	case StatusServed:
		return "SERVED"
	default:
		return "Status(" + strconv.Itoa(int(s)) + ")"
	}
}

// IsTerminal reports whether the status removes the ticket from the board.
func (s Status) IsTerminal() bool {
	return s == StatusServed
}

// StatusFromCode maps a numeric wire code onto the canonical model.
// Codes outside 0..2 never appear on the board, so they map to served.
func StatusFromCode(code int64) Status {
	switch code {
	case 0:
		return StatusWaiting
	case 1:
		return StatusReady
	default:
		return StatusServed
	}
}

// StatusFromString maps a legacy or canonical status name onto the canonical
// model. CALLED and DONE both mean ready. Unknown names fall back to waiting.
func StatusFromString(raw string) Status {
	name := strings.ToUpper(strings.TrimSpace(raw))
	switch name {
	case "WAITING":
		return StatusWaiting
	case "READY", "CALLED", "DONE":
		return StatusReady
	case "SERVED", "CANCELED", "CANCELLED":
		return StatusServed
	}
	if code, err := strconv.ParseInt(name, 10, 64); err == nil {
		return StatusFromCode(code)
	}
	return StatusWaiting
}

// NormalizeStatus converts any decoded representation of a status into the
// canonical one. It is the single entry point for external status data.
func NormalizeStatus(raw any) Status {
	switch v := raw.(type) {
	case Status:
		return v
	case nil:
		return StatusWaiting
	case int:
		return StatusFromCode(int64(v))
	case int16:
		return StatusFromCode(int64(v))
	case int32:
		return StatusFromCode(int64(v))
	case int64:
		return StatusFromCode(v)
	case float64:
		if v != float64(int64(v)) {
			return StatusServed
		}
		return StatusFromCode(int64(v))
	case json.Number:
		if code, err := v.Int64(); err == nil {
			return StatusFromCode(code)
		}
		return StatusServed
	case string:
		return StatusFromString(v)
	default:
		return StatusFromString(fmt.Sprint(v))
	}
}

// MarshalJSON encodes the status as its numeric wire code.
func (s Status) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Itoa(int(s))), nil
}

// UnmarshalJSON accepts either a numeric code or a status name.
func (s *Status) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = StatusWaiting
		return nil
	}
	if data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		*s = StatusFromString(name)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}
	*s = NormalizeStatus(num)
	return nil
}
