package api

import (
	"fmt"
	"net/http"
)

// Error is an HTTP-level failure returned by the opencode server.
// It carries enough context to build a useful message for the caller
// and exposes the classification used by the retry logic.
type Error struct {
	Message string
	Status  int
	Method  string
	Path    string
	// Body is the raw response body text, kept for diagnostics.
	Body string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: %d %s: %s", e.Method, e.Path, e.Status, http.StatusText(e.Status), e.Message)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, http.StatusText(e.Status))
}

// Transient reports whether the failure is likely to succeed on retry.
func (e *Error) Transient() bool { return TransientStatus(e.Status) }

// NotFound reports whether the server answered 404.
func (e *Error) NotFound() bool { return e.Status == http.StatusNotFound }

// Auth reports whether the failure is an authentication or authorization error.
func (e *Error) Auth() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

// TransientStatus reports whether an HTTP status code is retry-worthy:
// rate limiting, upstream overload, or a gateway timeout.
func TransientStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
