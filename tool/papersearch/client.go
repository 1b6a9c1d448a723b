package papersearch

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultEndpoint is the public arXiv query API.
const DefaultEndpoint = "http://export.arxiv.org/api/query"

// Paper is one arXiv entry.
type Paper struct {
	ID        string
	Title     string
	Summary   string
	Published time.Time
}

// Searcher queries a paper index.
type Searcher interface {
	Search(ctx context.Context, query string, max int) ([]Paper, error)
}

// ClientOptions configures the arXiv client.
type ClientOptions struct {
	Endpoint   string
	HTTPClient *http.Client
}

// Client calls the arXiv Atom API, newest submissions first.
type Client struct {
	opts ClientOptions
}

var _ Searcher = (*Client)(nil)

// NewClient creates an arXiv client.
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

type atomFeed struct {
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID        string `xml:"id"`
	Title     string `xml:"title"`
	Summary   string `xml:"summary"`
	Published string `xml:"published"`
}

// Search implements Searcher.
func (c *Client) Search(ctx context.Context, query string, max int) ([]Paper, error) {
	q := url.Values{}
	q.Set("search_query", query)
	q.Set("start", "0")
	q.Set("max_results", strconv.Itoa(max))
	q.Set("sortBy", "submittedDate")
	q.Set("sortOrder", "descending")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.Endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("arxiv request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("arxiv status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var feed atomFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("arxiv decode: %w", err)
	}

	papers := make([]Paper, 0, len(feed.Entries))
	for _, e := range feed.Entries {
		p := Paper{
			ID:      strings.TrimSpace(e.ID),
			Title:   strings.Join(strings.Fields(e.Title), " "),
			Summary: strings.TrimSpace(e.Summary),
		}
		if ts, err := time.Parse(time.RFC3339, strings.TrimSpace(e.Published)); err == nil {
			p.Published = ts
		}
		papers = append(papers, p)
	}
	if len(papers) > max {
		papers = papers[:max]
	}
	return papers, nil
}
