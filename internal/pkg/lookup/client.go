package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/consultahub/consultahub/internal/pkg/env"
)

// ErrNotFound means the upstream registry has no record for the query.
var ErrNotFound = errors.New("lookup: record not found")

// Result is the normalized upstream answer returned to API clients.
type Result struct {
	Kind      string          `json:"kind"`
	Query     string          `json:"query"`
	Data      json.RawMessage `json:"data"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// Client calls the upstream data registry that backs the metered lookup
// endpoints. One successful call equals one consumed quota unit.
type Client struct {
	baseURL    string
	apiToken   string
	httpClient *http.Client
}

// NewClient builds the upstream client from environment configuration.
func NewClient() *Client {
	return &Client{
		baseURL:  env.GetEnv("LOOKUP_UPSTREAM_URL", "https://registry.example.com/api"),
		apiToken: env.GetEnv("LOOKUP_UPSTREAM_TOKEN", ""),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Lookup fetches one record of the given kind. Supported kinds mirror the
// upstream registry endpoints (e.g. "company", "vehicle", "document").
func (c *Client) Lookup(ctx context.Context, kind, query string) (*Result, error) {
	endpoint := fmt.Sprintf("%s/v1/%s/%s", c.baseURL, url.PathEscape(kind), url.PathEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lookup: upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("lookup: upstream status %d: %s", resp.StatusCode, string(body))
	}

	return &Result{
		Kind:      kind,
		Query:     query,
		Data:      json.RawMessage(body),
		FetchedAt: time.Now(),
	}, nil
}
