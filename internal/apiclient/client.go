// Package apiclient is the HTTP client the CLI uses to reach a running
// worldsmith daemon. Responses reuse the wire types from internal/api, and
// error envelopes convert back into the service error family so callers can
// branch on the same markers the daemon raised.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"worldsmith/internal/api"
	"worldsmith/internal/registry"
	"worldsmith/internal/services"
)

const requestTimeout = 30 * time.Second

// Client talks to the daemon API over HTTP. Construct one with New; the
// zero value has no base URL.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a client for the given bind address. A bare host:port is
// promoted to an http URL.
func New(bind string) (*Client, error) {
	addr := strings.TrimSpace(bind)
	if addr == "" {
		return nil, services.Wrap(services.ErrConfiguration, "apiclient", "new",
			"No API address configured; set paths.api_bind", nil)
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	parsed, err := url.Parse(addr)
	if err != nil || parsed.Host == "" {
		return nil, services.Wrap(services.ErrConfiguration, "apiclient", "new",
			fmt.Sprintf("API address %q is not a valid URL", bind), err)
	}
	return &Client{
		baseURL: strings.TrimRight(parsed.String(), "/"),
		http:    &http.Client{Timeout: requestTimeout},
	}, nil
}

// Generate submits a prompt and returns the daemon's acknowledgement.
func (c *Client) Generate(ctx context.Context, req api.GenerateRequest) (api.GenerateResponse, error) {
	var resp api.GenerateResponse
	err := c.do(ctx, http.MethodPost, "/generate", req, &resp)
	return resp, err
}

// Status reports the current state of one execution.
func (c *Client) Status(ctx context.Context, id string) (api.StatusResponse, error) {
	var resp api.StatusResponse
	id = strings.TrimSpace(id)
	if id == "" {
		return resp, services.Wrap(services.ErrMissingInput, "apiclient", "status",
			"Execution id is required", nil)
	}
	err := c.do(ctx, http.MethodGet, "/status/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Worlds lists the registered world catalog with presigned asset URLs.
func (c *Client) Worlds(ctx context.Context) ([]registry.World, error) {
	var resp api.WorldsResponse
	if err := c.do(ctx, http.MethodGet, "/worlds", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Worlds, nil
}

// Health reports daemon liveness and run counts.
func (c *Client) Health(ctx context.Context) (api.HealthResponse, error) {
	var resp api.HealthResponse
	err := c.do(ctx, http.MethodGet, "/healthz", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return services.Wrap(services.ErrTransient, "apiclient", "encode",
				"Could not encode the request", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return services.Wrap(services.ErrTransient, "apiclient", "request",
			"Could not build the request", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, "apiclient", "request",
			fmt.Sprintf("Could not reach the worldsmith daemon at %s; is worldsmithd running?", c.baseURL), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return errorFromResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return services.Wrap(services.ErrTransient, "apiclient", "decode",
			"Daemon response was not valid JSON", err)
	}
	return nil
}

// errorFromResponse converts an error envelope back into a service error so
// the daemon's classification survives the HTTP hop.
func errorFromResponse(resp *http.Response) error {
	message := fmt.Sprintf("daemon returned status %d", resp.StatusCode)
	var envelope api.ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&envelope); err == nil &&
		strings.TrimSpace(envelope.Error) != "" {
		message = envelope.Error
	}

	marker := services.ErrTransient
	switch resp.StatusCode {
	case http.StatusNotFound:
		marker = services.ErrNotFound
	case http.StatusBadRequest:
		marker = services.ErrMissingInput
	case http.StatusServiceUnavailable:
		marker = services.ErrConfiguration
	}
	return services.Wrap(marker, "apiclient", "request", message, nil)
}
