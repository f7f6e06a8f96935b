package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"booth-bridge/correlate"
	"booth-bridge/progress"
)

const defaultClientTimeout = 5 * time.Second

// Client talks to a running relay.
type Client struct {
	BaseURL    string
	UserAgent  string
	HTTPClient *http.Client
}

// NewClient creates a client for the relay at addr ("host:port" or a full
// URL).
func NewClient(addr, userAgent string) *Client {
	base := strings.TrimRight(addr, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		BaseURL:    base,
		UserAgent:  userAgent,
		HTTPClient: &http.Client{Timeout: defaultClientTimeout},
	}
}

func (c *Client) makeRequest(ctx context.Context, method, path string, query url.Values, body, target any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if query != nil {
		req.URL.RawQuery = query.Encode()
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("relay request failed: status %d, body: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}

	if target != nil {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			return fmt.Errorf("failed to decode json response: %w", err)
		}
	}
	return nil
}

// Progress returns the relay's current extraction progress.
func (c *Client) Progress(ctx context.Context) (progress.State, error) {
	var state progress.State
	if err := c.makeRequest(ctx, http.MethodGet, "/progress", nil, nil, &state); err != nil {
		return progress.State{}, fmt.Errorf("failed to get progress: %w", err)
	}
	return state, nil
}

// NotifyDownload posts a download notification and returns the tracking
// map size the relay reports.
func (c *Client) NotifyDownload(ctx context.Context, n correlate.Notification) (int, error) {
	var resp NotifyResponse
	if err := c.makeRequest(ctx, http.MethodPost, "/download-notify", nil, n, &resp); err != nil {
		return 0, fmt.Errorf("failed to notify download '%s': %w", n.Filename, err)
	}
	return resp.TrackingMapSize, nil
}

// History lists the most recent imports, newest first.
func (c *Client) History(ctx context.Context, limit int) ([]HistoryEntry, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var entries []HistoryEntry
	if err := c.makeRequest(ctx, http.MethodGet, "/history", query, nil, &entries); err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	return entries, nil
}
