// Package api implements the HTTP transport used to talk to a running
// opencode server: JSON requests with retry and backoff, health probing,
// and the SSE event subscription.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/opencode-ai/opencode-client/internal/logging"
)

const (
	// DefaultUsername is the Basic-auth identifier used when credentials
	// are configured without an explicit username.
	DefaultUsername = "opencode"

	// MaxRetries is the number of additional attempts after the first one.
	MaxRetries = 2

	// DefaultRetryBaseDelay is the backoff delay before the first retry.
	DefaultRetryBaseDelay = 500 * time.Millisecond

	// DirectoryHeader carries the per-request project directory so the
	// server routes the request to the right workspace context.
	DirectoryHeader = "X-OpenCode-Directory"
)

// Client issues requests against a single opencode server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	// streamClient has no timeout; SSE connections are long-lived.
	streamClient *http.Client
	username     string
	password     string
	retryBase    time.Duration
	log          zerolog.Logger
}

// ClientOption configures a Client at construction.
type ClientOption func(*Client)

// WithCredentials enables Basic auth on every request. An empty username
// falls back to DefaultUsername.
func WithCredentials(username, password string) ClientOption {
	return func(c *Client) {
		if username == "" {
			username = DefaultUsername
		}
		c.username = username
		c.password = password
	}
}

// WithHTTPClient replaces the underlying HTTP client for regular requests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetryBaseDelay overrides the initial backoff delay.
func WithRetryBaseDelay(d time.Duration) ClientOption {
	return func(c *Client) { c.retryBase = d }
}

// WithLogger replaces the client's logger.
func WithLogger(log zerolog.Logger) ClientOption {
	return func(c *Client) { c.log = log }
}

// New creates a client for the server at baseURL. A trailing slash on
// baseURL is stripped so paths can always start with "/".
func New(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		httpClient:   &http.Client{},
		streamClient: &http.Client{},
		retryBase:    DefaultRetryBaseDelay,
		log:          logging.Logger.With().Str("component", "api").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the normalized base URL the client was built with.
func (c *Client) BaseURL() string { return c.baseURL }

// RequestOption configures a single request.
type RequestOption func(*requestOptions)

type requestOptions struct {
	query     map[string]string
	directory string
	timeout   time.Duration
}

// WithQuery adds query parameters to the request.
func WithQuery(params map[string]string) RequestOption {
	return func(o *requestOptions) { o.query = params }
}

// WithDirectory scopes the request to a project directory. Requests
// without a directory omit the header and the server uses its default.
func WithDirectory(dir string) RequestOption {
	return func(o *requestOptions) { o.directory = dir }
}

// WithTimeout bounds the whole logical request, retries included. The
// context deadline aborts the in-flight transfer so the connection is
// actually released.
func WithTimeout(d time.Duration) RequestOption {
	return func(o *requestOptions) { o.timeout = d }
}

// Result is the decoded outcome of a successful request.
type Result struct {
	Status int
	// NoContent is set for 204 responses; the body was never parsed.
	NoContent bool
	// JSON holds the raw body when the server answered with JSON.
	JSON json.RawMessage
	// Text holds the body for non-JSON content types.
	Text string
}

// Decode unmarshals the JSON body into v.
func (r *Result) Decode(v any) error {
	if r.NoContent {
		return errors.New("no content to decode")
	}
	if r.JSON == nil {
		return fmt.Errorf("response was not JSON: %q", r.Text)
	}
	return json.Unmarshal(r.JSON, v)
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, path string, opts ...RequestOption) (*Result, error) {
	return c.do(ctx, http.MethodGet, path, nil, opts...)
}

// Post issues a POST request with an optional JSON body.
func (c *Client) Post(ctx context.Context, path string, body any, opts ...RequestOption) (*Result, error) {
	return c.do(ctx, http.MethodPost, path, body, opts...)
}

// Patch issues a PATCH request with an optional JSON body.
func (c *Client) Patch(ctx context.Context, path string, body any, opts ...RequestOption) (*Result, error) {
	return c.do(ctx, http.MethodPatch, path, body, opts...)
}

// Put issues a PUT request with an optional JSON body.
func (c *Client) Put(ctx context.Context, path string, body any, opts ...RequestOption) (*Result, error) {
	return c.do(ctx, http.MethodPut, path, body, opts...)
}

// Delete issues a DELETE request with an optional JSON body.
func (c *Client) Delete(ctx context.Context, path string, body any, opts ...RequestOption) (*Result, error) {
	return c.do(ctx, http.MethodDelete, path, body, opts...)
}

// do runs one logical request: encode, send, classify, retry.
// Transient statuses and network errors retry up to MaxRetries times with
// exponential backoff; anything else fails immediately.
func (c *Client) do(ctx context.Context, method, path string, body any, opts ...RequestOption) (*Result, error) {
	var ro requestOptions
	for _, opt := range opts {
		opt(&ro)
	}

	if ro.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ro.timeout)
		defer cancel()
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	reqID := ulid.Make().String()
	log := c.log.With().Str("requestID", reqID).Str("method", method).Str("path", path).Logger()

	attempt := 0
	var res *Result
	op := func() error {
		attempt++
		r, err := c.attempt(ctx, method, path, payload, body != nil, &ro)
		if err != nil {
			var apiErr *Error
			if errors.As(err, &apiErr) && !apiErr.Transient() {
				return backoff.Permanent(err)
			}
			log.Debug().Err(err).Int("attempt", attempt).Msg("request failed, will retry")
			return err
		}
		res = r
		return nil
	}

	if err := backoff.Retry(op, c.retryPolicy(ctx)); err != nil {
		log.Debug().Err(err).Int("attempts", attempt).Msg("request failed")
		return nil, err
	}
	return res, nil
}

// retryPolicy builds the per-request backoff: base, base*2, ... with no
// jitter so the delay before retry n is exactly base*2^(n-1).
func (c *Client) retryPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryBase
	b.Multiplier = 2.0
	b.RandomizationFactor = 0
	b.MaxInterval = time.Minute
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, MaxRetries), ctx)
}

// attempt performs a single HTTP exchange.
func (c *Client) attempt(ctx context.Context, method, path string, payload []byte, hasBody bool, ro *requestOptions) (*Result, error) {
	var reader io.Reader
	if hasBody {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if len(ro.query) > 0 {
		q := req.URL.Query()
		for k, v := range ro.query {
			q.Set(k, v)
		}
		req.URL.RawQuery = q.Encode()
	}

	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	c.applyAuth(req)
	if ro.directory != "" {
		req.Header.Set(DirectoryHeader, ro.directory)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &Error{
			Message: errorMessage(raw),
			Status:  resp.StatusCode,
			Method:  method,
			Path:    path,
			Body:    string(raw),
		}
	}

	if resp.StatusCode == http.StatusNoContent {
		return &Result{Status: resp.StatusCode, NoContent: true}, nil
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType != "application/json" {
		return &Result{Status: resp.StatusCode, Text: string(raw)}, nil
	}

	return &Result{Status: resp.StatusCode, JSON: raw}, nil
}

// applyAuth sets the Basic auth header when credentials are configured.
func (c *Client) applyAuth(req *http.Request) {
	if c.password == "" && c.username == "" {
		return
	}
	req.SetBasicAuth(c.username, c.password)
}

// errorMessage extracts a human-readable message from an error body.
// The server wraps errors as {"error": {"message": "..."}}, but plain
// text bodies show up from proxies and partial startups.
func errorMessage(raw []byte) string {
	var wrapped struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Error.Message != "" {
		return wrapped.Error.Message
	}
	return strings.TrimSpace(string(raw))
}
