// Package client provides a Go client for the Rolewarden admin API.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client is a Rolewarden admin API client
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// New creates a new Rolewarden admin client
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Identity represents an address linked to a Discord account
type Identity struct {
	Address   string `json:"address"`
	DiscordID string `json:"discordId"`
	Attempts  int64  `json:"attempts"`
	CreatedAt string `json:"createdAt"`
}

// Record represents a stored verification record for one target
type Record struct {
	TargetID         string `json:"targetId"`
	Satisfied        bool   `json:"satisfied"`
	EvidenceCount    int64  `json:"evidenceCount"`
	EvidenceDetail   string `json:"evidenceDetail,omitempty"`
	FirstSatisfiedAt string `json:"firstSatisfiedAt,omitempty"`
	LastCheckedAt    string `json:"lastCheckedAt,omitempty"`
}

// IdentityStatus is the stored verification state for one identity
type IdentityStatus struct {
	Address   string   `json:"address"`
	DiscordID string   `json:"discordId"`
	Attempts  int64    `json:"attempts"`
	Records   []Record `json:"records"`
}

// RunStats summarizes the most recent scheduler run
type RunStats struct {
	StartedAt      time.Time `json:"startedAt"`
	FinishedAt     time.Time `json:"finishedAt"`
	Processed      int       `json:"processed"`
	NewlySatisfied int       `json:"newlySatisfied"`
	Repaired       int       `json:"repaired"`
	Failed         int       `json:"failed"`
	Truncated      bool      `json:"truncated"`
}

// Outcome is one audit log entry
type Outcome struct {
	ID        string `json:"id"`
	Address   string `json:"address"`
	TargetID  string `json:"targetId"`
	Outcome   string `json:"outcome"`
	Detail    string `json:"detail,omitempty"`
	CreatedAt string `json:"createdAt"`
}

// APIError represents an API error response
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ListIdentities lists all linked identities
func (c *Client) ListIdentities(ctx context.Context) ([]Identity, error) {
	var resp struct {
		Identities []Identity `json:"identities"`
	}
	if err := c.get(ctx, "/v1/identities", &resp); err != nil {
		return nil, err
	}
	return resp.Identities, nil
}

// GetIdentityStatus gets the stored verification state for an address
func (c *Client) GetIdentityStatus(ctx context.Context, address string) (*IdentityStatus, error) {
	var resp IdentityStatus
	path := "/v1/identities/" + url.PathEscape(address) + "/status"
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LatestRun gets the stats of the most recent scheduler run
func (c *Client) LatestRun(ctx context.Context) (*RunStats, error) {
	var resp RunStats
	if err := c.get(ctx, "/v1/runs/latest", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListOutcomes lists recent audit log entries, newest first
func (c *Client) ListOutcomes(ctx context.Context, limit int) ([]Outcome, error) {
	var resp struct {
		Outcomes []Outcome `json:"outcomes"`
	}
	path := "/v1/outcomes"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Outcomes, nil
}

// Health checks server health
func (c *Client) Health(ctx context.Context) error {
	return c.get(ctx, "/healthz", nil)
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.parseError(resp)
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}

	return nil
}

func (c *Client) parseError(resp *http.Response) error {
	var errResp struct {
		Error APIError `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}
	return &errResp.Error
}
