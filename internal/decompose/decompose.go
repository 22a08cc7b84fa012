package decompose

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/TobiSchelling/researchledger/internal/model"
	"github.com/TobiSchelling/researchledger/internal/search"
)

const (
	MinQueries  = 3
	MaxQueries  = 6
	maxEntities = 4
)

// Kind is the detected topic shape of a sub-question.
type Kind int

const (
	KindGeneral Kind = iota
	KindComparison
	KindTrend
)

var comparisonTriggers = []string{
	"share", "players", "platforms", "competitors", "competition", "market", "ranking",
	"leaders", "vs", "versus", "compare", "comparison",
	"점유율", "플랫폼", "경쟁", "시장", "순위",
	"シェア", "市場", "競合", "ランキング",
}

var trendTriggers = []string{
	"trend", "trends", "behavior", "behaviour", "usage", "adoption", "growth",
	"demographic", "demographics", "users", "habits", "preferences", "outlook",
	"트렌드", "행태", "이용", "추이", "성장", "이용자",
	"動向", "利用", "傾向", "成長",
}

// metric phrases per language: market share, usage statistics, user trends,
// users statistics, ranking.
var metrics = map[string][5]string{
	"en": {"market share", "usage statistics", "user trends", "users statistics", "ranking"},
	"ko": {"시장점유율", "이용 통계", "이용자 트렌드", "이용자 수", "순위"},
	"ja": {"市場シェア", "利用統計", "利用者動向", "利用者数", "ランキング"},
}

// Decompose expands a sub-question into short, entity-bearing search
// queries. The result is deterministic.
func Decompose(sq model.SubQuestion, planTitle string) []string {
	question := strings.TrimSpace(sq.Question)
	lang := search.DetectLocale(question + " " + planTitle).Language
	m, ok := metrics[lang]
	if !ok {
		m = metrics["en"]
	}

	entities := ExtractEntities(question)
	if len(entities) == 0 {
		entities = ExtractEntities(planTitle)
	}
	if len(entities) > maxEntities {
		entities = entities[:maxEntities]
	}
	kind := Classify(question)
	topic := Topic(planTitle, question)
	year := ""
	if y := LatestYear(question + " " + planTitle); y > 0 {
		year = strconv.Itoa(y)
	}

	if kind == KindGeneral && len(entities) == 0 {
		return fallback(question, topic, year)
	}

	q := &queryList{}
	switch kind {
	case KindComparison:
		for _, e := range entities {
			q.add(e, m[0])
		}
		q.add(topic, m[0], year)
		q.add(topic, m[4], year)
	case KindTrend:
		q.add(topic, m[1], year)
		q.add(topic, m[2], year)
		for _, e := range entities {
			q.add(e, m[3])
		}
	default:
		for _, e := range entities {
			q.add(e, topic)
		}
		q.add(topic, year)
	}

	for _, pad := range [][]string{{topic, "statistics", year}, {topic, "report", year}, {question}} {
		if len(q.items) >= MinQueries {
			break
		}
		q.add(pad...)
	}
	if len(q.items) > MaxQueries {
		q.items = q.items[:MaxQueries]
	}
	return q.items
}

func fallback(question, topic, year string) []string {
	q := &queryList{}
	q.add(question)
	q.add(topic, "statistics", year)
	if len(q.items) < 2 {
		q.add(question, "overview")
	}
	return q.items
}

type queryList struct {
	items []string
	seen  map[string]bool
}

func (q *queryList) add(parts ...string) {
	var kept []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	s := strings.Join(strings.Fields(strings.Join(kept, " ")), " ")
	if s == "" {
		return
	}
	if q.seen == nil {
		q.seen = make(map[string]bool)
	}
	key := strings.ToLower(s)
	if q.seen[key] {
		return
	}
	q.seen[key] = true
	q.items = append(q.items, s)
}

// Classify detects whether the question is about market structure or about
// behavior and trends. Comparison wins when both match.
func Classify(question string) Kind {
	lower := strings.ToLower(question)
	words := wordSet(lower)
	match := func(triggers []string) bool {
		for _, t := range triggers {
			if isASCII(t) {
				if words[t] {
					return true
				}
			} else if strings.Contains(lower, t) {
				return true
			}
		}
		return false
	}
	switch {
	case match(comparisonTriggers):
		return KindComparison
	case match(trendTriggers):
		return KindTrend
	}
	return KindGeneral
}

func wordSet(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.FieldsFunc(s, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) }) {
		out[w] = true
	}
	return out
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

var (
	parenList  = regexp.MustCompile(`[(（]([^)）]+)[)）]`)
	exampleRun = regexp.MustCompile(`(?i)\b(?:such as|including|e\.g\.,?|for example)\s+([^.?;:!]+)`)
	quoted     = regexp.MustCompile(`"([^"]+)"|“([^”]+)”|「([^」]+)」|'([^']{2,})'`)
	listSep    = regexp.MustCompile(`\s*(?:,|/|;|、|·|\band\b|\bor\b|및|또는)\s*`)
	yearRange  = regexp.MustCompile(`\b((?:19|20)\d{2})\b`)
)

var notEntities = map[string]bool{
	"what": true, "which": true, "how": true, "who": true, "why": true, "when": true,
	"where": true, "the": true, "a": true, "an": true, "is": true, "are": true,
	"do": true, "does": true, "in": true, "of": true, "for": true, "and": true,
	"q1": true, "q2": true, "q3": true, "q4": true, "etc": true,
}

// ExtractEntities returns named things mentioned in text: items of
// parenthesised or "such as" lists, quoted terms and capitalized phrases.
// Order of first appearance is kept; duplicates are dropped.
func ExtractEntities(text string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(e string) {
		e = strings.Trim(strings.TrimSpace(e), `"'.,`)
		if e == "" || len([]rune(e)) > 40 || notEntities[strings.ToLower(e)] || isYearish(e) {
			return
		}
		key := strings.ToLower(e)
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, e)
	}
	splitList := func(s string, trimTail bool) {
		for _, part := range listSep.Split(s, -1) {
			if trimTail {
				part = trimLowerTail(part)
			}
			add(part)
		}
	}

	for _, m := range parenList.FindAllStringSubmatch(text, -1) {
		splitList(m[1], false)
	}
	for _, m := range exampleRun.FindAllStringSubmatch(text, -1) {
		splitList(m[1], true)
	}
	for _, m := range quoted.FindAllStringSubmatch(text, -1) {
		for _, g := range m[1:] {
			if g != "" {
				add(g)
			}
		}
	}

	stripped := parenList.ReplaceAllString(text, " ")
	for _, phrase := range capitalizedPhrases(stripped) {
		add(phrase)
	}
	return out
}

// trimLowerTail cuts a run-on list item ("Handy compare") at the first
// lowercase word following a capitalized start. Items without case are
// capped at three words.
func trimLowerTail(part string) string {
	words := strings.Fields(part)
	if len(words) == 0 {
		return ""
	}
	if first := []rune(words[0]); !unicode.IsUpper(first[0]) {
		if len(words) > 3 {
			words = words[:3]
		}
		return strings.Join(words, " ")
	}
	for i := 1; i < len(words); i++ {
		if r := []rune(words[i]); unicode.IsLower(r[0]) {
			return strings.Join(words[:i], " ")
		}
	}
	return strings.Join(words, " ")
}

// capitalizedPhrases finds runs of capitalized words that do not start a
// sentence.
func capitalizedPhrases(text string) []string {
	var out, run []string
	flush := func() {
		if len(run) > 0 {
			out = append(out, strings.Join(run, " "))
			run = nil
		}
	}
	sentenceStart := true
	for _, raw := range strings.Fields(text) {
		w := strings.Trim(raw, `"'“”,;:()?!.`)
		endsSentence := strings.ContainsAny(raw[len(raw)-1:], ".?!")
		r := []rune(w)
		capital := len(r) > 1 && unicode.IsUpper(r[0]) && unicode.IsLetter(r[0])
		if capital && !sentenceStart && !notEntities[strings.ToLower(w)] {
			run = append(run, w)
		} else {
			flush()
		}
		if strings.HasSuffix(raw, ",") {
			flush()
		}
		sentenceStart = endsSentence
	}
	flush()
	return out
}

func isYearish(s string) bool {
	return yearRange.ReplaceAllString(s, "") == "" || strings.Trim(s, "0123456789-–~년 ") == ""
}

// LatestYear returns the latest four-digit year mentioned in text, or 0.
func LatestYear(text string) int {
	best := 0
	for _, m := range yearRange.FindAllStringSubmatch(text, -1) {
		if y, err := strconv.Atoi(m[1]); err == nil && y > best {
			best = y
		}
	}
	return best
}

// Topic derives a short subject phrase from the plan title, falling back
// to the question. Years, parentheticals and metric words are removed.
func Topic(planTitle, question string) string {
	if t := topicFrom(planTitle); t != "" {
		return t
	}
	return topicFrom(question)
}

var topicNoise = map[string]bool{
	"market": true, "share": true, "shares": true, "trend": true, "trends": true,
	"analysis": true, "changes": true, "change": true, "study": true, "research": true,
	"overview": true, "report": true, "ranking": true, "what": true, "which": true,
	"how": true, "are": true, "is": true, "the": true, "of": true, "and": true,
	"in": true, "did": true, "do": true, "does": true, "between": true, "from": true,
	"to": true, "a": true, "an": true,
	"시장": true, "점유율": true, "변화": true, "분석": true, "트렌드": true, "동향": true,
}

func topicFrom(text string) string {
	text = parenList.ReplaceAllString(text, " ")
	var kept []string
	for _, w := range strings.Fields(text) {
		clean := strings.Trim(w, `"'“”,;:?!.`)
		if clean == "" || isYearish(clean) || topicNoise[strings.ToLower(clean)] {
			continue
		}
		kept = append(kept, clean)
		if len(kept) == 5 {
			break
		}
	}
	return strings.Join(kept, " ")
}
