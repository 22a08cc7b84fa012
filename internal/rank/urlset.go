package rank

import (
	"net/url"
	"strings"
	"sync"
)

// URLSet is the job-wide set of URLs already admitted to ranking. Safe for
// concurrent use.
type URLSet struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewURLSet creates an empty set.
func NewURLSet() *URLSet {
	return &URLSet{seen: make(map[string]struct{})}
}

// Add inserts the normalized form of raw and reports whether it was new.
func (s *URLSet) Add(raw string) bool {
	key := NormalizeURL(raw)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[key]; ok {
		return false
	}
	s.seen[key] = struct{}{}
	return true
}

// Contains reports whether raw has been added.
func (s *URLSet) Contains(raw string) bool {
	key := NormalizeURL(raw)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[key]
	return ok
}

// Len returns the number of distinct URLs.
func (s *URLSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

var trackingParams = map[string]bool{
	"fbclid": true, "gclid": true, "mc_cid": true, "mc_eid": true, "ref": true,
}

// NormalizeURL returns the dedup key for a URL: lowercase scheme and host,
// no fragment, no tracking parameters, no trailing slash. Unparseable input
// is returned trimmed.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	u.Fragment = ""
	u.RawFragment = ""

	if u.RawQuery != "" {
		q := u.Query()
		for k := range q {
			if strings.HasPrefix(strings.ToLower(k), "utm_") || trackingParams[strings.ToLower(k)] {
				q.Del(k)
			}
		}
		u.RawQuery = q.Encode()
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	return u.String()
}
