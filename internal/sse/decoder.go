// Package sse frames a chunked byte stream into server-sent event data lines.
package sse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Done is the sentinel payload that terminates a stream.
const Done = "[DONE]"

// Event is one data line. Type is empty for the Done sentinel and for
// payloads that are not JSON objects with a type field; those are Literal.
type Event struct {
	Type    string
	Data    string
	Done    bool
	Literal bool
}

// Decode unmarshals a JSON payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal([]byte(e.Data), v)
}

// Decoder buffers bytes until a full line is available. Bytes are buffered,
// not decoded text, so multi-byte characters split across reads survive.
type Decoder struct {
	buf []byte
}

// Feed appends a chunk and returns the events completed by it.
func (d *Decoder) Feed(chunk []byte) []Event {
	d.buf = append(d.buf, chunk...)
	var events []Event
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		line := d.buf[:i]
		if ev, ok := parseLine(line); ok {
			events = append(events, ev)
		}
		d.buf = d.buf[i+1:]
	}
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return events
}

// Flush returns the event held in a trailing line without a newline.
func (d *Decoder) Flush() []Event {
	if len(d.buf) == 0 {
		return nil
	}
	line := d.buf
	d.buf = nil
	if ev, ok := parseLine(line); ok {
		return []Event{ev}
	}
	return nil
}

// Pending reports how many bytes are buffered awaiting a newline.
func (d *Decoder) Pending() int { return len(d.buf) }

var dataPrefix = []byte("data:")

func parseLine(line []byte) (Event, bool) {
	line = bytes.TrimSuffix(line, []byte("\r"))
	if !bytes.HasPrefix(line, dataPrefix) {
		// Blank separators, comments and other fields carry no payload.
		return Event{}, false
	}
	payload := line[len(dataPrefix):]
	payload = bytes.TrimPrefix(payload, []byte(" "))
	data := string(payload)
	if data == Done {
		return Event{Data: data, Done: true}, true
	}
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &head); err != nil || head.Type == "" {
		return Event{Data: data, Literal: true}, true
	}
	return Event{Type: head.Type, Data: data}, true
}

// ErrStop may be returned by a handler to end Stream early without error.
var ErrStop = errors.New("sse: stop")

// Stream reads r until EOF, handing each event to fn in order. It checks
// ctx between reads; cancellation of an HTTP body also surfaces as a read
// error wrapping the context error.
func Stream(ctx context.Context, r io.Reader, fn func(Event) error) error {
	var d Decoder
	buf := make([]byte, 4096)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(buf)
		if n > 0 {
			for _, ev := range d.Feed(buf[:n]) {
				if herr := fn(ev); herr != nil {
					if errors.Is(herr, ErrStop) {
						return nil
					}
					return herr
				}
			}
		}
		if errors.Is(err, io.EOF) {
			for _, ev := range d.Flush() {
				if herr := fn(ev); herr != nil && !errors.Is(herr, ErrStop) {
					return herr
				}
			}
			return nil
		}
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
			return fmt.Errorf("read stream: %w", err)
		}
	}
}
