// Package stateapi fetches the current state of a bus entity over the
// touchon HTTP API.
package stateapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultTimeout bounds one state request.
const DefaultTimeout = 10 * time.Second

// envelope is the touchon HTTP response body.
type envelope struct {
	Meta     map[string]any `json:"meta,omitempty"`
	Success  bool           `json:"success"`
	Response map[string]any `json:"response"`
	Error    string         `json:"error,omitempty"`
}

// Client reads entity state from one touchon server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(client *Client) {
		if d > 0 {
			client.httpClient.Timeout = d
		}
	}
}

// NewClient returns a Client for the server at host:port.
func NewClient(host string, port int, opts ...Option) *Client {
	c := &Client{
		baseURL: fmt.Sprintf("http://%s:%d", host, port),
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewClientForURL returns a Client for an explicit base URL.
func NewClientForURL(baseURL string, opts ...Option) *Client {
	c := NewClient("", 0, opts...)
	c.baseURL = baseURL
	return c
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// FetchState returns the "response" object of
// GET /{targetType}s/{targetID}/state. A non-2xx status or a non-empty
// "error" field is returned as an error.
func (c *Client) FetchState(ctx context.Context, targetType string, targetID int) (map[string]any, error) {
	url := fmt.Sprintf("%s/%ss/%d/state", c.baseURL, targetType, targetID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.New(http.StatusText(resp.StatusCode))
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if env.Error != "" {
		return nil, errors.New(env.Error)
	}
	if env.Response == nil {
		env.Response = map[string]any{}
	}
	return env.Response, nil
}
