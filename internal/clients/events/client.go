// Package events provides a client for the monitoring API that serves trace
// payloads and transaction events.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"traceview/internal/models"
	"traceview/internal/tracetree"
)

// ErrNotFound is returned when the API answers 404.
var ErrNotFound = errors.New("not found")

// Client talks to the events API over HTTP.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ tracetree.Fetcher = (*Client)(nil)

// NewClient creates a new events API client. An empty token sends
// unauthenticated requests.
func NewClient(baseURL, token string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// doRequest performs a GET against apiPath and returns the body of a 200 response.
func (c *Client) doRequest(ctx context.Context, apiPath string, params url.Values) ([]byte, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	// apiPath is already escaped and keeps its trailing slash.
	u = u.JoinPath(apiPath)
	if params != nil {
		u.RawQuery = params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("events request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", apiPath, ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected status code from events API: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return body, nil
}

// GetTrace fetches the transactions and orphan errors of a trace.
func (c *Client) GetTrace(ctx context.Context, org, traceID string) (*models.Trace, error) {
	apiPath := fmt.Sprintf("/api/0/organizations/%s/events-trace/%s/", url.PathEscape(org), url.PathEscape(traceID))
	resp, err := c.doRequest(ctx, apiPath, nil)
	if err != nil {
		c.logger.Error("Failed to fetch trace", "org", org, "traceID", traceID, "error", err)
		return nil, err
	}

	var trace models.Trace
	if err := json.Unmarshal(resp, &trace); err != nil {
		return nil, fmt.Errorf("failed to parse trace response: %w", err)
	}
	return &trace, nil
}

// GetEvent fetches a single transaction event with its entries.
func (c *Client) GetEvent(ctx context.Context, org, project, eventID string) (*models.Event, error) {
	apiPath := fmt.Sprintf("/api/0/organizations/%s/events/%s:%s/",
		url.PathEscape(org), url.PathEscape(project), url.PathEscape(eventID))
	resp, err := c.doRequest(ctx, apiPath, nil)
	if err != nil {
		c.logger.Error("Failed to fetch event", "org", org, "project", project, "eventID", eventID, "error", err)
		return nil, err
	}

	var event models.Event
	if err := json.Unmarshal(resp, &event); err != nil {
		return nil, fmt.Errorf("failed to parse event response: %w", err)
	}
	return &event, nil
}

// FetchEvent implements tracetree.Fetcher.
func (c *Client) FetchEvent(ctx context.Context, req tracetree.EventRequest) (*models.Event, error) {
	return c.GetEvent(ctx, req.OrganizationSlug, req.ProjectSlug, req.EventID)
}
