package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultEndpoint is the Tavily search API.
const DefaultEndpoint = "https://api.tavily.com/search"

// Result is one web search hit.
type Result struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Searcher is a web search backend.
type Searcher interface {
	Search(ctx context.Context, query string, k int, depth string) ([]Result, error)
}

// ClientOptions configures the Tavily client.
type ClientOptions struct {
	Endpoint   string
	APIKey     string
	HTTPClient *http.Client
}

// Client calls the Tavily search API.
type Client struct {
	opts ClientOptions
}

var _ Searcher = (*Client)(nil)

// NewClient creates a Tavily client.
func NewClient(optFns ...func(o *ClientOptions)) *Client {
	opts := ClientOptions{
		Endpoint:   DefaultEndpoint,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Client{opts: opts}
}

type searchRequest struct {
	APIKey      string `json:"api_key"`
	Query       string `json:"query"`
	MaxResults  int    `json:"max_results"`
	SearchDepth string `json:"search_depth,omitempty"`
}

type searchResponse struct {
	Results []Result `json:"results"`
}

// Search implements Searcher.
func (c *Client) Search(ctx context.Context, query string, k int, depth string) ([]Result, error) {
	body, err := json.Marshal(searchRequest{APIKey: c.opts.APIKey, Query: query, MaxResults: k, SearchDepth: depth})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	}

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tavily request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("tavily status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("tavily decode: %w", err)
	}
	return out.Results, nil
}
