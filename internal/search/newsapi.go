package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

const newsAPIBaseURL = "https://newsapi.org/v2/everything"

// NewsAPIClient searches news articles through NewsAPI.
type NewsAPIClient struct {
	BaseURL  string
	PageSize int
	apiKey   string
	client   *http.Client
}

// NewNewsAPIClient creates a new NewsAPI client.
func NewNewsAPIClient(apiKeyEnv string, pageSize int) *NewsAPIClient {
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return &NewsAPIClient{
		BaseURL:  newsAPIBaseURL,
		PageSize: pageSize,
		apiKey:   os.Getenv(apiKeyEnv),
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// IsConfigured returns whether the API key is available.
func (c *NewsAPIClient) IsConfigured() bool {
	return c.apiKey != ""
}

// Search searches for articles matching a query.
func (c *NewsAPIClient) Search(ctx context.Context, query string, loc Locale) ([]Result, error) {
	if c.apiKey == "" {
		return nil, &Error{Provider: "newsapi", Query: query, Err: fmt.Errorf("API key not configured")}
	}

	params := url.Values{
		"q":        {query},
		"language": {loc.Language},
		"pageSize": {fmt.Sprintf("%d", c.PageSize)},
		"sortBy":   {"relevancy"},
	}

	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, &Error{Provider: "newsapi", Query: query, Err: err}
	}
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &Error{Provider: "newsapi", Query: query, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Provider: "newsapi", Query: query, Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}

	var result struct {
		Status   string `json:"status"`
		Articles []struct {
			URL         string `json:"url"`
			Title       string `json:"title"`
			PublishedAt string `json:"publishedAt"`
			Description string `json:"description"`
		} `json:"articles"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &Error{Provider: "newsapi", Query: query, Err: fmt.Errorf("decoding response: %w", err)}
	}

	if result.Status != "ok" {
		return nil, &Error{Provider: "newsapi", Query: query, Err: fmt.Errorf("status %q", result.Status)}
	}

	var results []Result
	for _, a := range result.Articles {
		if a.URL == "" || a.Title == "" {
			continue
		}
		if a.Title == "[Removed]" || a.URL == "https://removed.com" {
			continue
		}
		results = append(results, Result{
			URL:     a.URL,
			Title:   strings.TrimSpace(a.Title),
			Snippet: truncate(strings.TrimSpace(a.Description), maxSnippet),
			Score:   positionalScore(len(results)),
			Date:    normalizeDate(a.PublishedAt),
		})
	}

	zap.S().Debugf("NewsAPI returned %d articles for query: %s", len(results), query)
	return results, nil
}
