// Package client is a small HTTP client for the chamelio daemon's profile
// API, used by the CLI and available to external tooling.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Client talks to a running chamelio daemon.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger
}

// DefaultConfig returns the configuration for a local daemon on its default
// listen address.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8000",
		Timeout: 10 * time.Second,
	}
}

func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "http://127.0.0.1:8000"
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// IsReachable checks whether the daemon answers its health endpoint.
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// CreateProfile registers a new profile and returns its id.
func (c *Client) CreateProfile(ctx context.Context, req CreateRequest) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/profiles", req, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// ListProfiles returns all profiles ordered by name.
func (c *Client) ListProfiles(ctx context.Context) ([]Profile, error) {
	var out []Profile
	if err := c.doJSON(ctx, http.MethodGet, "/api/profiles", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateProfile applies the set fields and reports how many changed.
func (c *Client) UpdateProfile(ctx context.Context, id string, req UpdateRequest) (int, error) {
	var out struct {
		Updated int `json:"updated"`
	}
	if err := c.doJSON(ctx, http.MethodPatch, "/api/profiles/"+id, req, &out); err != nil {
		return 0, err
	}
	return out.Updated, nil
}

// DeleteProfile stops the profile's worker if needed and removes the profile.
func (c *Client) DeleteProfile(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/profiles/"+id, nil, nil)
}

// StartProfile launches the profile's worker.
func (c *Client) StartProfile(ctx context.Context, id string) (LaunchResult, error) {
	var out LaunchResult
	err := c.doJSON(ctx, http.MethodPost, "/api/profiles/"+id+"/start", nil, &out)
	return out, err
}

// StopProfile terminates the profile's worker.
func (c *Client) StopProfile(ctx context.Context, id string) (LaunchResult, error) {
	var out LaunchResult
	err := c.doJSON(ctx, http.MethodPost, "/api/profiles/"+id+"/stop", nil, &out)
	return out, err
}

// doJSON performs one request with an optional JSON body and decodes the
// response into out when non-nil.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("request failed", "method", method, "path", path, "error", err)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		var errResp ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil || errResp.Error == "" {
			return fmt.Errorf("HTTP %d", resp.StatusCode)
		}
		return fmt.Errorf("API error: %s", errResp.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
