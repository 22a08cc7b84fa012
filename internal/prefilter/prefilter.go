package prefilter

import (
	"errors"
	"sort"
	"strings"
	"unicode"

	"github.com/TobiSchelling/researchledger/internal/model"
)

// ErrNoRelevantContent is returned when no paragraph matches any keyword.
var ErrNoRelevantContent = errors.New("no relevant content")

// oversizedBlock is the paragraph length, in runes, above which a single
// block is re-split on single newlines.
const oversizedBlock = 2000

var stopWords = map[string]bool{
	"what": true, "which": true, "when": true, "where": true, "these": true,
	"those": true, "their": true, "about": true, "from": true, "have": true,
	"with": true, "this": true, "that": true, "will": true, "were": true,
	"does": true, "into": true, "over": true, "they": true, "them": true,
	"than": true, "then": true, "there": true, "been": true, "being": true,
	"how": true, "much": true, "many": true, "more": true, "most": true,
	"should": true, "would": true, "could": true, "across": true, "between": true,
	"during": true, "each": true, "other": true, "such": true, "some": true,
	"your": true, "also": true, "only": true, "very": true, "like": true,
}

// Keywords derives the sorted, deduplicated significant terms of a plan's
// title and sub-questions.
func Keywords(plan model.ResearchPlan) []string {
	set := make(map[string]struct{})
	add := func(text string) {
		for _, tok := range tokenize(text) {
			if significant(tok) {
				set[tok] = struct{}{}
			}
		}
	}
	add(plan.Title)
	for _, sq := range plan.SubQuestions {
		add(sq.Question)
	}

	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func significant(tok string) bool {
	if stopWords[tok] {
		return false
	}
	n := 0
	cjk := false
	for _, r := range tok {
		n++
		if isCJK(r) {
			cjk = true
		}
	}
	if cjk {
		return n >= 2
	}
	return n >= 4
}

func isCJK(r rune) bool {
	return unicode.In(r, unicode.Hangul, unicode.Han, unicode.Hiragana, unicode.Katakana)
}

// Filter keeps the paragraphs of content that contain at least one keyword.
// An empty keyword set keeps everything. ErrNoRelevantContent is returned
// only when nothing matches.
func Filter(content string, keywords []string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", ErrNoRelevantContent
	}
	if len(keywords) == 0 {
		return content, nil
	}

	var kept []string
	for _, para := range Paragraphs(content) {
		lower := strings.ToLower(para)
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				kept = append(kept, para)
				break
			}
		}
	}
	if len(kept) == 0 {
		return "", ErrNoRelevantContent
	}
	return strings.Join(kept, "\n\n"), nil
}

// Paragraphs splits content on blank lines. A single oversized block, as
// produced by extractors that collapse spacing, is split on single newlines
// instead.
func Paragraphs(content string) []string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	parts := split(content, "\n\n")
	if len(parts) == 1 && len([]rune(parts[0])) > oversizedBlock && strings.Contains(parts[0], "\n") {
		parts = split(parts[0], "\n")
	}
	return parts
}

func split(s, sep string) []string {
	var out []string
	for _, p := range strings.Split(s, sep) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
