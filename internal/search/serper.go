package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

const serperBaseURL = "https://google.serper.dev/search"

// SerperClient searches through the Serper Google Search API.
type SerperClient struct {
	BaseURL string
	Num     int
	apiKey  string
	client  *http.Client
}

// NewSerperClient creates a new Serper client.
func NewSerperClient(apiKeyEnv string, num int) *SerperClient {
	if num <= 0 {
		num = 8
	}
	return &SerperClient{
		BaseURL: serperBaseURL,
		Num:     num,
		apiKey:  os.Getenv(apiKeyEnv),
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// IsConfigured returns whether the API key is available.
func (c *SerperClient) IsConfigured() bool {
	return c.apiKey != ""
}

// Search runs one query.
func (c *SerperClient) Search(ctx context.Context, query string, loc Locale) ([]Result, error) {
	if c.apiKey == "" {
		return nil, &Error{Provider: "serper", Query: query, Err: fmt.Errorf("API key not configured")}
	}

	data, err := json.Marshal(map[string]any{
		"q":   query,
		"num": c.Num,
		"hl":  loc.Language,
		"gl":  loc.Country,
	})
	if err != nil {
		return nil, &Error{Provider: "serper", Query: query, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL, bytes.NewReader(data))
	if err != nil {
		return nil, &Error{Provider: "serper", Query: query, Err: err}
	}
	req.Header.Set("X-API-KEY", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &Error{Provider: "serper", Query: query, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &Error{Provider: "serper", Query: query, Err: fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))}
	}

	var result struct {
		Organic []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
			Date    string `json:"date"`
		} `json:"organic"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &Error{Provider: "serper", Query: query, Err: fmt.Errorf("decoding response: %w", err)}
	}

	results := make([]Result, 0, len(result.Organic))
	for i, o := range result.Organic {
		if o.Link == "" {
			continue
		}
		results = append(results, Result{
			URL:     o.Link,
			Title:   strings.TrimSpace(o.Title),
			Snippet: truncate(o.Snippet, maxSnippet),
			Score:   positionalScore(i),
			Date:    normalizeDate(o.Date),
		})
	}

	zap.S().Debugf("Serper returned %d results for query: %s", len(results), query)
	return results, nil
}
