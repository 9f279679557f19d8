package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to a running daemon over its HTTP API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient builds a client for the daemon at bind (host:port or full URL).
func NewClient(bind, token string) *Client {
	base := strings.TrimSpace(bind)
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		baseURL: strings.TrimRight(base, "/"),
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Status retrieves the daemon status.
func (c *Client) Status(ctx context.Context) (*DaemonStatus, error) {
	var status DaemonStatus
	if err := c.get(ctx, "/api/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Queue retrieves the offline queue contents. state filters by entry state
// when non-empty ("pending" or "dead").
func (c *Client) Queue(ctx context.Context, state string) (*QueueListResponse, error) {
	var query url.Values
	if state != "" {
		query = url.Values{"state": []string{state}}
	}
	var resp QueueListResponse
	if err := c.get(ctx, "/api/queue", query, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Budget retrieves a tenant's consumption for the current UTC day.
func (c *Client) Budget(ctx context.Context, tenantID string) (*BudgetStats, error) {
	var stats BudgetStats
	query := url.Values{"tenant": []string{tenantID}}
	if err := c.get(ctx, "/api/budget", query, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Session retrieves one session by identifier.
func (c *Client) Session(ctx context.Context, id string) (*SessionSummary, error) {
	var summary SessionSummary
	if err := c.get(ctx, "/api/sessions/"+url.PathEscape(id), nil, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// SyncQueue asks the daemon to run one sync pass immediately.
func (c *Client) SyncQueue(ctx context.Context) (*QueueSyncResponse, error) {
	var resp QueueSyncResponse
	if err := c.do(ctx, http.MethodPost, "/api/queue/sync", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RetryDead revives dead-lettered queue entries.
func (c *Client) RetryDead(ctx context.Context) (*QueueActionResponse, error) {
	var resp QueueActionResponse
	if err := c.do(ctx, http.MethodPost, "/api/queue/retry", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ClearQueue deletes every queued submission.
func (c *Client) ClearQueue(ctx context.Context) (*QueueActionResponse, error) {
	var resp QueueActionResponse
	if err := c.do(ctx, http.MethodPost, "/api/queue/clear", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestNotification asks the daemon to send a test notification.
func (c *Client) TestNotification(ctx context.Context) (*NotifyTestResponse, error) {
	var resp NotifyTestResponse
	if err := c.do(ctx, http.MethodPost, "/api/notify/test", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	return c.do(ctx, http.MethodGet, path, query, out)
}

func (c *Client) do(ctx context.Context, method, path string, _ url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon unreachable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("daemon returned %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
