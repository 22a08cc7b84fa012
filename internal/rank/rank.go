package rank

import (
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/TobiSchelling/researchledger/internal/model"
)

// DefaultTopK is the number of sources kept for deep-dive.
const DefaultTopK = 30

// Options configures a Ranker.
type Options struct {
	TopK int
	// ReferenceYear anchors the recency bonus. Zero means the current year.
	ReferenceYear int
}

// Stats counts what happened to the candidates of one Rank call.
type Stats struct {
	Input      int
	Filtered   int
	Duplicates int
	Ranked     int
}

// Ranker scores and deduplicates candidates against a job-wide URLSet.
type Ranker struct {
	opts Options
	seen *URLSet
}

// New creates a ranker. seen is shared across the job; a nil set gets a
// fresh one.
func New(seen *URLSet, opts Options) *Ranker {
	if seen == nil {
		seen = NewURLSet()
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	return &Ranker{opts: opts, seen: seen}
}

// Rank drops low-value and already-seen URLs, scores the rest and returns
// the top-K in descending score order. Candidates are admitted to the URL
// set in input order, so the first occurrence of a URL wins.
func (r *Ranker) Rank(cands []model.SourceCandidate) ([]model.SourceCandidate, Stats) {
	st := Stats{Input: len(cands)}
	kept := make([]model.SourceCandidate, 0, len(cands))
	for _, c := range cands {
		if c.URL == "" || IsLowValue(c.URL) {
			st.Filtered++
			continue
		}
		if !r.seen.Add(c.URL) {
			st.Duplicates++
			continue
		}
		kept = append(kept, c)
	}

	ranked := Score(kept, r.referenceYear())
	if len(ranked) > r.opts.TopK {
		ranked = ranked[:r.opts.TopK]
	}
	st.Ranked = len(ranked)
	return ranked, st
}

func (r *Ranker) referenceYear() int {
	if r.opts.ReferenceYear > 0 {
		return r.opts.ReferenceYear
	}
	return time.Now().Year()
}

// Score sets AdjustedScore on a copy of cands and returns them sorted
// descending, ties broken by URL. It has no side effects.
func Score(cands []model.SourceCandidate, refYear int) []model.SourceCandidate {
	out := make([]model.SourceCandidate, len(cands))
	for i, c := range cands {
		c.AdjustedScore = c.RawScore + RecencyBonus(c, refYear) + AuthorityBonus(c.URL) - Penalty(c.URL)
		out[i] = c
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].AdjustedScore != out[j].AdjustedScore {
			return out[i].AdjustedScore > out[j].AdjustedScore
		}
		return out[i].URL < out[j].URL
	})
	return out
}

var lowValueSuffixes = []string{".pdf", ".csv", ".xlsx", ".xls", ".zip", ".doc", ".docx", ".ppt", ".pptx", ".hwp"}

var lowValueSegments = []string{"/download/", "/upload/", "/bigfile/", "/datafile/", "/sheet/", "/raw/", "/attachment/", "/sell/"}

// IsLowValue reports whether the URL points at a data file or raw download.
func IsLowValue(raw string) bool {
	u, err := url.Parse(strings.ToLower(strings.TrimSpace(raw)))
	if err != nil {
		return true
	}
	p := u.Path
	for _, s := range lowValueSuffixes {
		if strings.HasSuffix(p, s) {
			return true
		}
	}
	p += "/"
	for _, s := range lowValueSegments {
		if strings.Contains(p, s) {
			return true
		}
	}
	return strings.HasPrefix(u.Host, "raw.") || strings.HasPrefix(u.Host, "download.")
}

var yearPattern = regexp.MustCompile(`\b((?:19|20)\d{2})\b`)

// RecencyBonus rewards the most recent plausible year found in the
// candidate's published date, URL or snippet.
func RecencyBonus(c model.SourceCandidate, refYear int) float64 {
	year := latestYear(c.PublishedDate, refYear)
	if year == 0 {
		year = latestYear(c.URL+" "+c.Snippet, refYear)
	}
	switch {
	case year == 0:
		return 0
	case year >= refYear-2:
		return 0.3
	case year >= refYear-3:
		return 0.2
	case year >= refYear-6:
		return 0.1
	}
	return 0
}

func latestYear(text string, refYear int) int {
	best := 0
	for _, m := range yearPattern.FindAllStringSubmatch(text, -1) {
		y, err := strconv.Atoi(m[1])
		if err != nil || y > refYear {
			continue
		}
		if y > best {
			best = y
		}
	}
	return best
}

var articleSegments = []string{"/news/", "/article/", "/articles/", "/story/", "/stories/", "/press/", "/post/", "/report/", "/reports/", "/research/", "/insights/"}

var researchFirms = []string{"mckinsey", "bcg", "deloitte", "pwc", "kpmg", "gartner", "forrester", "idc", "statista", "nielsen", "euromonitor"}

var institutionLabels = map[string]bool{"gov": true, "edu": true, "org": true, "go": true, "ac": true, "or": true, "re": true, "mil": true}

// AuthorityBonus rewards structural signs of editorial or institutional
// content. Patterns are language and topic independent.
func AuthorityBonus(raw string) float64 {
	u, err := url.Parse(strings.ToLower(raw))
	if err != nil {
		return 0
	}
	host := strings.TrimPrefix(u.Hostname(), "www.")
	path := u.Path + "/"
	labels := strings.Split(host, ".")

	bonus := 0.0
	switch {
	case containsAny(path, articleSegments),
		strings.HasPrefix(host, "news."), strings.HasPrefix(host, "press."):
		bonus += 0.25
	case isResearchFirm(labels):
		bonus += 0.25
	case strings.HasPrefix(host, "blog.") || strings.Contains(path, "/blog/") ||
		host == "medium.com" || strings.HasSuffix(host, ".substack.com"):
		bonus += 0.15
	}
	if isInstitutional(labels) {
		bonus += 0.05
	}
	if strings.HasSuffix(host, "wikipedia.org") {
		bonus += 0.15
	}
	return bonus
}

func isResearchFirm(labels []string) bool {
	for _, l := range labels {
		for _, f := range researchFirms {
			if l == f {
				return true
			}
		}
	}
	return false
}

// isInstitutional matches .gov/.edu/.org and ccTLD second levels such as
// go.kr, ac.uk or gov.au.
func isInstitutional(labels []string) bool {
	n := len(labels)
	if n < 2 {
		return false
	}
	if institutionLabels[labels[n-1]] {
		return true
	}
	return n >= 3 && len(labels[n-1]) == 2 && institutionLabels[labels[n-2]]
}

var socialHosts = []string{"facebook.com", "instagram.com", "twitter.com", "x.com", "tiktok.com", "pinterest.com", "linktr.ee", "bit.ly", "t.co"}

var socialPaths = map[string]string{"reddit.com": "/r/", "quora.com": "/"}

// Penalty punishes social-media posts and link aggregators.
func Penalty(raw string) float64 {
	u, err := url.Parse(strings.ToLower(raw))
	if err != nil {
		return 0
	}
	host := strings.TrimPrefix(u.Hostname(), "www.")
	for _, s := range socialHosts {
		if host == s || strings.HasSuffix(host, "."+s) {
			return 0.4
		}
	}
	for h, prefix := range socialPaths {
		if (host == h || strings.HasSuffix(host, "."+h)) && strings.HasPrefix(u.Path, prefix) {
			return 0.4
		}
	}
	return 0
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
