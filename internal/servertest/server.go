// Package servertest provides an in-process stand-in for the opencode
// server, enough of its surface for transport, health, and supervisor
// tests: a health endpoint with scriptable answers, an SSE event
// endpoint, and JSON echo routes with scriptable status sequences.
package servertest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// CapturedRequest records one request for assertions.
type CapturedRequest struct {
	Method string
	Path   string
	Query  map[string]string
	Header http.Header
	Body   []byte
}

// Server is the mock opencode server.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	healthy  bool
	version  string
	requests []CapturedRequest
	// script maps a path to a queue of statuses; once drained the
	// route answers 200 with a JSON body.
	script map[string][]int

	events    chan sseRecord
	connected chan struct{}
}

type sseRecord struct {
	name string
	data string
}

// New starts a mock server. Callers own its lifetime; use t.Cleanup or
// defer srv.Close().
func New() *Server {
	s := &Server{
		healthy:   true,
		version:   "0.0.0-test",
		script:    make(map[string][]int),
		events:    make(chan sseRecord, 64),
		connected: make(chan struct{}, 8),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))
	r.Use(s.capture)

	r.Get("/global/health", s.health)
	r.Get("/event", s.sse)
	r.Get("/global/event", s.sse)
	r.NotFound(s.scripted)
	r.MethodNotAllowed(s.scripted)

	s.Server = httptest.NewServer(r)
	return s
}

// SetHealthy scripts the health endpoint.
func (s *Server) SetHealthy(healthy bool, version string) {
	s.mu.Lock()
	s.healthy = healthy
	s.version = version
	s.mu.Unlock()
}

// ScriptStatuses queues response statuses for a path. A request pops
// the head; an empty queue answers 200.
func (s *Server) ScriptStatuses(path string, statuses ...int) {
	s.mu.Lock()
	s.script[path] = append(s.script[path], statuses...)
	s.mu.Unlock()
}

// PushEvent queues an SSE record for connected subscribers.
func (s *Server) PushEvent(name, data string) {
	s.events <- sseRecord{name: name, data: data}
}

// Connected signals each time an SSE subscriber attaches.
func (s *Server) Connected() <-chan struct{} { return s.connected }

// Requests returns a copy of everything captured so far.
func (s *Server) Requests() []CapturedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CapturedRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

// RequestCount counts captured requests for one path.
func (s *Server) RequestCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, req := range s.requests {
		if req.Path == path {
			n++
		}
	}
	return n
}

func (s *Server) capture(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))

		query := make(map[string]string)
		for k := range r.URL.Query() {
			query[k] = r.URL.Query().Get(k)
		}

		s.mu.Lock()
		s.requests = append(s.requests, CapturedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  query,
			Header: r.Header.Clone(),
			Body:   body,
		})
		s.mu.Unlock()

		next.ServeHTTP(w, r)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	healthy, version := s.healthy, s.version
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if !healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]any{"healthy": false})
		return
	}
	json.NewEncoder(w).Encode(map[string]any{"healthy": true, "version": version})
}

// scripted serves every route without a dedicated handler: it pops the
// next scripted status for the path, or answers 200 with an echo body.
func (s *Server) scripted(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	var status int
	if queue := s.script[r.URL.Path]; len(queue) > 0 {
		status = queue[0]
		s.script[r.URL.Path] = queue[1:]
	}
	s.mu.Unlock()

	switch {
	case status == 0:
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"method": r.Method,
			"path":   r.URL.Path,
		})
	case status == http.StatusNoContent:
		w.WriteHeader(status)
	case status >= 400:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": http.StatusText(status)},
		})
	default:
		w.WriteHeader(status)
	}
}

// sse streams queued records in the server's wire format until the
// client disconnects.
func (s *Server) sse(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	select {
	case s.connected <- struct{}{}:
	default:
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case rec := <-s.events:
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", rec.name, rec.data)
			flusher.Flush()
		}
	}
}
