package transport

import (
	"bufio"
	"bytes"
	"io"
)

// Event is one server-sent event.
type Event struct {
	Name string
	Data []byte
}

// EventReader splits a text/event-stream body into events. Only the event
// and data fields are interpreted; multi-line data is joined with "\n".
type EventReader struct {
	scanner *bufio.Scanner
	body    io.Closer
}

// NewEventReader reads events from body. Closing the reader closes body.
func NewEventReader(body io.ReadCloser) *EventReader {
	s := bufio.NewScanner(body)
	s.Buffer(make([]byte, 0, 64<<10), 8<<20)
	return &EventReader{scanner: s, body: body}
}

// Next returns the next event, or io.EOF at the end of the body.
func (r *EventReader) Next() (Event, error) {
	var (
		ev      Event
		data    [][]byte
		pending bool
	)
	for r.scanner.Scan() {
		line := r.scanner.Bytes()
		if len(line) == 0 {
			if pending {
				ev.Data = bytes.Join(data, []byte("\n"))
				return ev, nil
			}
			continue
		}
		if line[0] == ':' {
			continue
		}

		field, value, _ := bytes.Cut(line, []byte(":"))
		value = bytes.TrimPrefix(value, []byte(" "))
		switch string(field) {
		case "event":
			ev.Name = string(value)
			pending = true
		case "data":
			data = append(data, bytes.Clone(value))
			pending = true
		}
	}
	if err := r.scanner.Err(); err != nil {
		return Event{}, err
	}
	if pending {
		ev.Data = bytes.Join(data, []byte("\n"))
		return ev, nil
	}
	return Event{}, io.EOF
}

// Close closes the underlying body.
func (r *EventReader) Close() error {
	return r.body.Close()
}
