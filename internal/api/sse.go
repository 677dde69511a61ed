package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
)

// DefaultEventName is used for SSE records that carry no event: field.
const DefaultEventName = "message"

// Event is a single decoded Server-Sent Event.
type Event struct {
	// Name is the event: field, or DefaultEventName when absent.
	Name string
	// Data is the opaque data: payload; consumers decode it themselves.
	Data string
}

// Decoder is an incremental SSE decoder. Feed it raw byte chunks in
// arrival order; it buffers a trailing partial line and only emits at
// blank-line record boundaries, so a record split across chunks (even
// mid-line) still decodes into exactly one event.
type Decoder struct {
	buf     []byte
	event   string
	data    string
	hasData bool
}

// Feed appends a chunk and returns any events completed by it.
func (d *Decoder) Feed(p []byte) []Event {
	d.buf = append(d.buf, p...)

	var events []Event
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			// Incomplete line; the next chunk may finish it.
			break
		}
		line := string(d.buf[:i])
		d.buf = d.buf[i+1:]
		if evt, ok := d.line(line); ok {
			events = append(events, evt)
		}
	}
	return events
}

// line consumes one complete line and reports a finished event, if any.
func (d *Decoder) line(line string) (Event, bool) {
	line = strings.TrimSuffix(line, "\r")

	if line == "" {
		if !d.hasData {
			d.event = ""
			return Event{}, false
		}
		evt := Event{Name: d.event, Data: d.data}
		if evt.Name == "" {
			evt.Name = DefaultEventName
		}
		d.event = ""
		d.data = ""
		d.hasData = false
		return evt, true
	}

	switch {
	case strings.HasPrefix(line, ":"):
		// Comment, typically a heartbeat.
	case strings.HasPrefix(line, "event:"):
		d.event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
	case strings.HasPrefix(line, "data:"):
		d.data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		d.hasData = true
	}
	return Event{}, false
}

// EventStream is a live SSE subscription. Iterate with Next/Current and
// check Err once Next returns false. Closing the stream (or cancelling
// the subscription context) aborts the in-flight read; a closed stream
// cannot be resumed, open a new subscription instead.
type EventStream struct {
	body   io.ReadCloser
	cancel context.CancelFunc

	dec     Decoder
	pending []Event
	cur     Event
	chunk   []byte
	err     error
	done    bool
}

// Subscribe opens a long-lived SSE subscription at path. A non-2xx
// response fails the subscription before any event is produced.
func (c *Client) Subscribe(ctx context.Context, path string, opts ...RequestOption) (*EventStream, error) {
	var ro requestOptions
	for _, opt := range opts {
		opt(&ro)
	}

	ctx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	if len(ro.query) > 0 {
		q := req.URL.Query()
		for k, v := range ro.query {
			q.Set(k, v)
		}
		req.URL.RawQuery = q.Encode()
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	c.applyAuth(req)
	if ro.directory != "" {
		req.Header.Set(DirectoryHeader, ro.directory)
	}

	resp, err := c.streamClient.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		return nil, &Error{
			Message: errorMessage(raw),
			Status:  resp.StatusCode,
			Method:  http.MethodGet,
			Path:    path,
			Body:    string(raw),
		}
	}

	c.log.Debug().Str("path", path).Msg("event stream connected")
	return &EventStream{
		body:   resp.Body,
		cancel: cancel,
		chunk:  make([]byte, 4096),
	}, nil
}

// Next advances to the next event. It returns false when the stream
// ends, errors, or is cancelled.
func (s *EventStream) Next() bool {
	for {
		if len(s.pending) > 0 {
			s.cur = s.pending[0]
			s.pending = s.pending[1:]
			return true
		}
		if s.done {
			return false
		}

		n, err := s.body.Read(s.chunk)
		if n > 0 {
			s.pending = s.dec.Feed(s.chunk[:n])
		}
		if err != nil {
			s.done = true
			if !errors.Is(err, io.EOF) {
				s.err = err
			}
		}
	}
}

// Current returns the event produced by the last successful Next.
func (s *EventStream) Current() Event { return s.cur }

// Err returns the terminal stream error, nil after a clean end of stream.
func (s *EventStream) Err() error {
	if s.err != nil && errors.Is(s.err, context.Canceled) {
		return nil
	}
	return s.err
}

// Close cancels the subscription and releases the connection.
func (s *EventStream) Close() error {
	s.cancel()
	return s.body.Close()
}
