// Package search wraps the Google Custom Search JSON API.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/solverhub/solver-node/internal/logging"
)

const defaultBaseURL = "https://www.googleapis.com/customsearch/v1"

// Result is one search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Client calls the Google Custom Search API.
type Client struct {
	baseURL    string
	apiKey     string
	cx         string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient builds a search client. An error is returned when the API
// credentials are missing so callers can surface a configuration
// message instead of failing mid-request.
func NewClient(apiKey, cx string) (*Client, error) {
	if apiKey == "" || cx == "" {
		return nil, fmt.Errorf("google search requires both an API key and a cx identifier")
	}
	return &Client{
		baseURL: defaultBaseURL,
		apiKey:  apiKey,
		cx:      cx,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logging.WithComponent("search"),
	}, nil
}

// WithBaseURL overrides the API endpoint. Used by tests.
func (c *Client) WithBaseURL(base string) *Client {
	c.baseURL = base
	return c
}

type apiResponse struct {
	Items []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"items"`
}

// Search runs a single query and returns up to numResults hits.
func (c *Client) Search(ctx context.Context, query string, numResults int) ([]Result, error) {
	if numResults <= 0 {
		numResults = 5
	}

	params := url.Values{}
	params.Set("key", c.apiKey)
	params.Set("cx", c.cx)
	params.Set("q", query)
	params.Set("num", strconv.Itoa(numResults))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("search API returned status %d: %s", resp.StatusCode, string(body))
	}

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	results := make([]Result, 0, len(apiResp.Items))
	for _, item := range apiResp.Items {
		title := item.Title
		if title == "" {
			title = "No title"
		}
		results = append(results, Result{Title: title, URL: item.Link, Snippet: item.Snippet})
	}

	c.logger.Info("search completed", "query", query, "results", len(results))
	return results, nil
}

// SearchMany runs queries in parallel and merges the hits, dropping
// duplicate URLs. Order follows the input query order so merged
// output is stable. A failed query contributes no results; the others
// still count, so the call only errors when every query failed.
func (c *Client) SearchMany(ctx context.Context, queries []string, numResults int) ([]Result, error) {
	perQuery := make([][]Result, len(queries))
	errs := make([]error, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		g.Go(func() error {
			results, err := c.Search(gctx, q, numResults)
			if err != nil {
				c.logger.Warn("query failed, continuing without it", "query", q, "error", err)
				errs[i] = err
				return nil
			}
			perQuery[i] = results
			return nil
		})
	}
	g.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
		}
	}
	if failed == len(queries) {
		return nil, fmt.Errorf("all %d queries failed: %w", failed, errs[0])
	}

	seen := make(map[string]bool)
	var merged []Result
	for _, results := range perQuery {
		for _, r := range results {
			if r.URL == "" || seen[r.URL] {
				continue
			}
			seen[r.URL] = true
			merged = append(merged, r)
		}
	}

	c.logger.Info("parallel search completed",
		"queries", len(queries), "failed", failed, "unique_results", len(merged))
	return merged, nil
}

// FormatResults renders hits as readable text, skipping YouTube links
// and capping the list. Used as the search component's reply.
func FormatResults(queries []string, results []Result, limit int) string {
	if len(results) == 0 {
		return fmt.Sprintf("No search results found for: %s", strings.Join(queries, ", "))
	}
	if limit <= 0 {
		limit = 7
	}

	lines := []string{fmt.Sprintf("Search results for: %s\n", strings.Join(queries, ", "))}
	n := 0
	for _, r := range results {
		if n >= limit {
			break
		}
		if strings.Contains(r.URL, "youtube.com") {
			continue
		}
		n++
		snippet := r.Snippet
		if snippet == "" {
			snippet = "No description"
		}
		lines = append(lines,
			fmt.Sprintf("%d. %s", n, r.Title),
			fmt.Sprintf("   URL: %s", r.URL),
			fmt.Sprintf("   %s", snippet),
			"",
		)
	}
	return strings.Join(lines, "\n")
}
