// Package client provides a Go client for the ops HTTP API of the
// Tree-of-Thoughts server.
//
// It covers the read-mostly surface exposed next to the MCP tools:
//   - Health and run listing.
//   - Run inspection, with or without the final tree.
//   - Cancellation and semantic cache statistics.
package client

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

	"github.com/devviniuchita/mcp-treeofthoughts/pkg/cache"
	"github.com/devviniuchita/mcp-treeofthoughts/pkg/engine"
)

// --- Custom Errors ---

// APIError represents an error returned by the API (status >= 400).
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

// Health is the /healthz payload.
type Health struct {
	Status string `json:"status"`
	Runs   int    `json:"runs"`
}

type listResponse struct {
	Runs []engine.RunInfo `json:"runs"`
}

// --- Client ---

// Client talks to one server.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a client for baseURL (e.g. "http://localhost:9091"). token may
// be empty when the server runs without one.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// jsonRequest executes a request and decodes a JSON reply into out when out
// is not nil.
func (c *Client) jsonRequest(ctx context.Context, method, endpoint string, payload, out any) error {
	var reqBody io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal JSON payload: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("connection error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp map[string]string
		if json.Unmarshal(respBody, &errResp) == nil && errResp["error"] != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: errResp["error"]}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	err := c.jsonRequest(ctx, http.MethodGet, "/healthz", nil, &h)
	return h, err
}

// ListRuns returns every run the server knows, oldest first.
func (c *Client) ListRuns(ctx context.Context) ([]engine.RunInfo, error) {
	var resp listResponse
	if err := c.jsonRequest(ctx, http.MethodGet, "/runs", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

// GetRun fetches the summary of a run and, when withTree is set and the run
// is over, its final tree.
func (c *Client) GetRun(ctx context.Context, runID string, withTree bool) (*engine.Result, error) {
	endpoint := "/runs/" + url.PathEscape(runID)
	if withTree {
		endpoint += "?tree=true"
	}
	var res engine.Result
	if err := c.jsonRequest(ctx, http.MethodGet, endpoint, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// CancelRun asks the server to stop a running run.
func (c *Client) CancelRun(ctx context.Context, runID string) error {
	return c.jsonRequest(ctx, http.MethodPost, "/runs/"+url.PathEscape(runID)+"/cancel", nil, nil)
}

// CacheStats returns the semantic cache statistics.
func (c *Client) CacheStats(ctx context.Context) (cache.Stats, error) {
	var s cache.Stats
	err := c.jsonRequest(ctx, http.MethodGet, "/cache/stats", nil, &s)
	return s, err
}
