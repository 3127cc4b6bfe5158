package tracker

import (
	"bufio"
	"io"
	"strings"
)

// eventScanner reads the data payloads of a Server-Sent Events stream.
// Event types, ids and comment lines are ignored; multi-line data is
// joined with newlines.
type eventScanner struct {
	reader *bufio.Reader
	data   string
	err    error
}

func newEventScanner(r io.Reader) *eventScanner {
	return &eventScanner{reader: bufio.NewReaderSize(r, 64*1024)}
}

// Next advances to the next event with data. It returns false at the end
// of the stream; Err then reports why.
func (s *eventScanner) Next() bool {
	if s.err != nil {
		return false
	}

	var lines []string
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil && line == "" {
			s.err = err
			// a final event without its blank line is dropped
			return false
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if len(lines) > 0 {
				s.data = strings.Join(lines, "\n")
				return true
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		if field != "data" {
			continue
		}
		lines = append(lines, strings.TrimPrefix(value, " "))
	}
}

// Data returns the payload of the current event.
func (s *eventScanner) Data() []byte {
	return []byte(s.data)
}

// Err returns the error that ended the stream; io.EOF for a clean close.
func (s *eventScanner) Err() error {
	return s.err
}
