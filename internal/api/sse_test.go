package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecoderSingleRecord(t *testing.T) {
	var d Decoder
	events := d.Feed([]byte("event: message\ndata: {\"type\":\"session.idle\"}\n\n"))

	require.Len(t, events, 1)
	assert.Equal(t, "message", events[0].Name)
	assert.Equal(t, `{"type":"session.idle"}`, events[0].Data)
}

func TestDecoderDefaultEventName(t *testing.T) {
	var d Decoder
	events := d.Feed([]byte("data: hello\n\n"))

	require.Len(t, events, 1)
	assert.Equal(t, DefaultEventName, events[0].Name)
	assert.Equal(t, "hello", events[0].Data)
}

func TestDecoderRecordSplitAcrossChunks(t *testing.T) {
	// The data line itself is cut mid-payload; the record must still
	// come out exactly once, when the blank-line terminator arrives.
	var d Decoder
	events := d.Feed([]byte("event: message\ndata: {\"par"))
	assert.Empty(t, events)

	events = d.Feed([]byte("tial\":true}"))
	assert.Empty(t, events, "no blank line yet")

	events = d.Feed([]byte("\n\n"))
	require.Len(t, events, 1)
	assert.Equal(t, `{"partial":true}`, events[0].Data)
}

func TestDecoderChunkBoundaryOnNewline(t *testing.T) {
	var d Decoder
	assert.Empty(t, d.Feed([]byte("data: one\n")))

	events := d.Feed([]byte("\ndata: two\n\n"))
	require.Len(t, events, 2)
	assert.Equal(t, "one", events[0].Data)
	assert.Equal(t, "two", events[1].Data)
}

func TestDecoderMultipleRecordsOneChunk(t *testing.T) {
	var d Decoder
	events := d.Feed([]byte("event: a\ndata: 1\n\nevent: b\ndata: 2\n\n"))

	require.Len(t, events, 2)
	assert.Equal(t, "a", events[0].Name)
	assert.Equal(t, "1", events[0].Data)
	assert.Equal(t, "b", events[1].Name)
	assert.Equal(t, "2", events[1].Data)
}

func TestDecoderIgnoresComments(t *testing.T) {
	var d Decoder
	events := d.Feed([]byte(": heartbeat\n\n: heartbeat\n\ndata: real\n\n"))

	require.Len(t, events, 1)
	assert.Equal(t, "real", events[0].Data)
}

func TestDecoderBlankLineWithoutDataEmitsNothing(t *testing.T) {
	var d Decoder
	assert.Empty(t, d.Feed([]byte("event: orphan\n\n\n\n")))
}

func TestDecoderCRLF(t *testing.T) {
	var d Decoder
	events := d.Feed([]byte("event: message\r\ndata: payload\r\n\r\n"))

	require.Len(t, events, 1)
	assert.Equal(t, "payload", events[0].Data)
}

func sseHandler(fn func(w http.ResponseWriter, r *http.Request, flush func())) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()
		fn(w, r, flusher.Flush)
	}
}

func TestSubscribeYieldsEventsInOrder(t *testing.T) {
	srv := httptest.NewServer(sseHandler(func(w http.ResponseWriter, r *http.Request, flush func()) {
		for i := 1; i <= 3; i++ {
			fmt.Fprintf(w, "event: message\ndata: evt-%d\n\n", i)
			flush()
		}
	}))
	defer srv.Close()

	stream, err := testClient(srv.URL).Subscribe(context.Background(), "/event")
	require.NoError(t, err)
	defer stream.Close()

	var got []string
	for stream.Next() {
		got = append(got, stream.Current().Data)
	}
	require.NoError(t, stream.Err())
	assert.Equal(t, []string{"evt-1", "evt-2", "evt-3"}, got)
}

func TestSubscribeSendsAcceptHeader(t *testing.T) {
	accept := make(chan string, 1)
	srv := httptest.NewServer(sseHandler(func(w http.ResponseWriter, r *http.Request, flush func()) {
		accept <- r.Header.Get("Accept")
	}))
	defer srv.Close()

	stream, err := testClient(srv.URL).Subscribe(context.Background(), "/event")
	require.NoError(t, err)
	defer stream.Close()

	assert.Equal(t, "text/event-stream", <-accept)
}

func TestSubscribeFailsOnNon2xxConnect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"credentials required"}}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Subscribe(context.Background(), "/event")
	require.Error(t, err)

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.True(t, apiErr.Auth())
}

func TestSubscribeCancellationAbortsRead(t *testing.T) {
	srv := httptest.NewServer(sseHandler(func(w http.ResponseWriter, r *http.Request, flush func()) {
		fmt.Fprint(w, "data: first\n\n")
		flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := testClient(srv.URL).Subscribe(ctx, "/event")
	require.NoError(t, err)
	defer stream.Close()

	require.True(t, stream.Next())
	assert.Equal(t, "first", stream.Current().Data)

	cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// The blocked read must be interrupted, not merely abandoned.
		assert.False(t, stream.Next())
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("cancellation did not interrupt the in-flight read")
	}
	assert.NoError(t, stream.Err())
}

func TestSubscribeCloseStopsIteration(t *testing.T) {
	srv := httptest.NewServer(sseHandler(func(w http.ResponseWriter, r *http.Request, flush func()) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	stream, err := testClient(srv.URL).Subscribe(context.Background(), "/event")
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		stream.Close()
	}()
	assert.False(t, stream.Next())
}
