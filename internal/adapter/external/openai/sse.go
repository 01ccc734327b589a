package openai

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// maxEventSize bounds one server-sent event.
const maxEventSize = 1 << 20

// ErrEventTooLarge is returned when an event exceeds maxEventSize.
var ErrEventTooLarge = errors.New("sse: event too large")

// Event is one server-sent event.
type Event struct {
	Name string
	ID   string
	Data string
}

// Decoder reads server-sent events from a stream.
type Decoder struct {
	r   *bufio.Reader
	eof bool
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 64<<10)}
}

// Next returns the next event. It returns io.EOF after the last event; any
// other read error is returned as is so callers can classify it.
func (d *Decoder) Next() (Event, error) {
	var (
		ev    Event
		data  strings.Builder
		lines int
		dirty bool
	)
	for !d.eof {
		line, err := d.r.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return Event{}, err
			}
			d.eof = true
		}
		if data.Len()+len(line) > maxEventSize {
			return Event{}, ErrEventTooLarge
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if dirty {
				ev.Data = data.String()
				return ev, nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "data":
			if lines > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			lines++
			dirty = true
		case "event":
			ev.Name = value
			dirty = true
		case "id":
			ev.ID = value
			dirty = true
		}
	}
	if dirty {
		ev.Data = data.String()
		return ev, nil
	}
	return Event{}, io.EOF
}
