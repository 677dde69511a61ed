package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"
)

const (
	// HealthPath is the server's readiness endpoint.
	HealthPath = "/global/health"

	// HealthTimeout bounds a single probe.
	HealthTimeout = 3 * time.Second
)

// Status is a snapshot of server readiness, recomputed on every probe.
type Status struct {
	Healthy bool   `json:"healthy"`
	Version string `json:"version,omitempty"`
}

// Health probes the server's readiness endpoint. It never returns an
// error: any failure, non-2xx status, or body without a truthy healthy
// field degrades to an unhealthy status. Probes bypass the retry logic;
// callers poll instead.
func (c *Client) Health(ctx context.Context) Status {
	ctx, cancel := context.WithTimeout(ctx, HealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+HealthPath, nil)
	if err != nil {
		return Status{}
	}
	req.Header.Set("Accept", "application/json")
	c.applyAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Debug().Err(err).Msg("health probe failed")
		return Status{}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Status{}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Status{}
	}

	var status Status
	if err := json.Unmarshal(raw, &status); err != nil {
		return Status{}
	}
	if !status.Healthy {
		return Status{}
	}
	return status
}
