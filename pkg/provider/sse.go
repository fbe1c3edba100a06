package provider

import (
	"bytes"
	"strings"
)

// Event is one server-sent event block.
type Event struct {
	Name string
	Data string
}

// Decoder accumulates an event-stream body across reads. Blocks are only
// emitted once their terminating blank line has arrived.
type Decoder struct {
	buf []byte
}

var (
	lfBoundary   = []byte("\n\n")
	crlfBoundary = []byte("\r\n\r\n")
)

// Feed appends chunk and returns every complete event now available.
func (d *Decoder) Feed(chunk []byte) []Event {
	d.buf = append(d.buf, chunk...)

	var events []Event
	for {
		idx, size := nextBoundary(d.buf)
		if idx < 0 {
			break
		}
		block := d.buf[:idx]
		d.buf = d.buf[idx+size:]
		if ev, ok := parseBlock(block); ok {
			events = append(events, ev)
		}
	}

	// Reclaim the consumed prefix.
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return events
}

// Flush returns the trailing unterminated block, if any.
func (d *Decoder) Flush() []Event {
	block := d.buf
	d.buf = nil
	if len(bytes.TrimSpace(block)) == 0 {
		return nil
	}
	if ev, ok := parseBlock(block); ok {
		return []Event{ev}
	}
	return nil
}

func nextBoundary(buf []byte) (int, int) {
	lf := bytes.Index(buf, lfBoundary)
	crlf := bytes.Index(buf, crlfBoundary)
	switch {
	case lf < 0 && crlf < 0:
		return -1, 0
	case crlf >= 0 && (lf < 0 || crlf < lf):
		return crlf, len(crlfBoundary)
	default:
		return lf, len(lfBoundary)
	}
}

func parseBlock(block []byte) (Event, bool) {
	var ev Event
	var data []string
	hasData := false

	for _, line := range strings.Split(string(block), "\n") {
		line = strings.TrimSuffix(line, "\r")
		switch {
		case line == "" || strings.HasPrefix(line, ":"):
			continue
		case strings.HasPrefix(line, "data:"):
			hasData = true
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case strings.HasPrefix(line, "event:"):
			ev.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		}
	}

	if !hasData {
		return ev, false
	}
	ev.Data = strings.Join(data, "\n")
	return ev, true
}
