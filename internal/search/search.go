package search

import (
	"context"
	"fmt"
	"time"
)

// Result is one search hit.
type Result struct {
	URL     string
	Title   string
	Snippet string
	Score   float64
	Date    string // as reported by the provider, may be empty
}

// Searcher runs a web search.
type Searcher interface {
	Search(ctx context.Context, query string, loc Locale) ([]Result, error)
}

// Error wraps a failed search.
type Error struct {
	Provider string
	Query    string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s search %q: %v", e.Provider, e.Query, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// positionalScore is the raw score of the hit at zero-based position idx.
func positionalScore(idx int) float64 {
	s := 1.0 - float64(idx+1)*0.05
	if s < 0.05 {
		s = 0.05
	}
	return s
}

const maxSnippet = 300

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func normalizeDate(raw string) string {
	for _, layout := range []string{time.RFC3339, "2006-01-02", "Jan 2, 2006", "2 Jan 2006"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return raw
}
