package search

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"
)

const googleNewsRSS = "https://news.google.com/rss/search"

const maxPerFeed = 20

// FeedSearcher searches through a news RSS search endpoint. It needs no
// credentials.
type FeedSearcher struct {
	BaseURL string
	parser  *gofeed.Parser
}

// NewFeedSearcher creates a searcher against the Google News RSS endpoint.
func NewFeedSearcher() *FeedSearcher {
	return &FeedSearcher{BaseURL: googleNewsRSS, parser: gofeed.NewParser()}
}

// Search fetches the result feed for query.
func (f *FeedSearcher) Search(ctx context.Context, query string, loc Locale) ([]Result, error) {
	country := strings.ToUpper(loc.Country)
	params := url.Values{
		"q":    {query},
		"hl":   {loc.Language},
		"gl":   {country},
		"ceid": {fmt.Sprintf("%s:%s", country, loc.Language)},
	}

	feed, err := f.parser.ParseURLWithContext(f.BaseURL+"?"+params.Encode(), ctx)
	if err != nil {
		return nil, &Error{Provider: "feed", Query: query, Err: err}
	}

	var results []Result
	for _, item := range feed.Items {
		if len(results) >= maxPerFeed {
			break
		}
		r, ok := parseItem(item)
		if !ok {
			continue
		}
		r.Score = positionalScore(len(results))
		results = append(results, r)
	}

	zap.S().Debugf("Parsed %d feed entries for query: %s", len(results), query)
	return results, nil
}

func parseItem(item *gofeed.Item) (Result, bool) {
	itemURL := item.Link
	if itemURL == "" {
		itemURL = item.GUID
	}
	title := strings.TrimSpace(item.Title)
	if itemURL == "" || title == "" {
		return Result{}, false
	}

	var date string
	if item.PublishedParsed != nil {
		date = item.PublishedParsed.Format("2006-01-02")
	} else if item.UpdatedParsed != nil {
		date = item.UpdatedParsed.Format("2006-01-02")
	}

	snippet := item.Description
	if snippet == "" {
		snippet = item.Content
	}

	return Result{
		URL:     itemURL,
		Title:   title,
		Snippet: truncate(stripHTML(snippet), maxSnippet),
		Date:    date,
	}, true
}

func stripHTML(text string) string {
	var result strings.Builder
	inTag := false
	for _, r := range text {
		switch {
		case r == '<':
			inTag = true
			result.WriteRune(' ')
		case r == '>':
			inTag = false
		case !inTag:
			result.WriteRune(r)
		}
	}

	s := strings.NewReplacer(
		"&nbsp;", " ", "&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", `"`, "&#39;", "'",
	).Replace(result.String())
	return strings.Join(strings.Fields(s), " ")
}
