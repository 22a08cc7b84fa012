package rank

import (
	"fmt"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/TobiSchelling/researchledger/internal/model"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func urls(cs []model.SourceCandidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.URL
	}
	return out
}

func TestNormalizeURL(t *testing.T) {
	cases := map[string]string{
		"HTTPS://WWW.Example.com/path/?utm_source=x&id=3#frag": "https://example.com/path?id=3",
		"https://example.com/":                                 "https://example.com",
		"https://example.com/a?fbclid=abc":                     "https://example.com/a",
		"not a url":                                            "not a url",
	}
	for in, want := range cases {
		if got := NormalizeURL(in); got != want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestURLSet(t *testing.T) {
	s := NewURLSet()
	if !s.Add("https://example.com/a") {
		t.Fatal("first add should be new")
	}
	if s.Add("https://www.example.com/a/#top") {
		t.Error("normalized duplicate should not be new")
	}
	if !s.Contains("https://example.com/a?utm_medium=email") {
		t.Error("expected contains after normalization")
	}
	if s.Len() != 1 {
		t.Errorf("expected 1, got %d", s.Len())
	}
}

func TestIsLowValue(t *testing.T) {
	cases := map[string]bool{
		"https://example.com/report.pdf":              true,
		"https://example.com/data/file.XLSX":          true,
		"https://example.com/download/123":            true,
		"https://raw.githubusercontent.com/a/b/c.txt": true,
		"https://example.com/news/markets":            false,
		"https://example.com/pdf-guide":               false,
	}
	for in, want := range cases {
		if got := IsLowValue(in); got != want {
			t.Errorf("IsLowValue(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestScoreOrdering(t *testing.T) {
	cands := []model.SourceCandidate{
		{URL: "https://www.facebook.com/somepage", RawScore: 0.9},
		{URL: "https://stats.go.kr/data/view", RawScore: 0.5, Snippet: "2019 figures"},
		{URL: "https://news.example.com/tech", RawScore: 0.5, PublishedDate: "2025-01-02"},
	}
	got := Score(cands, 2025)

	want := []string{"https://news.example.com/tech", "https://stats.go.kr/data/view", "https://www.facebook.com/somepage"}
	if diff := cmp.Diff(want, urls(got)); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
	if !approx(got[0].AdjustedScore, 1.05) || !approx(got[1].AdjustedScore, 0.65) || !approx(got[2].AdjustedScore, 0.5) {
		t.Errorf("unexpected scores: %v %v %v", got[0].AdjustedScore, got[1].AdjustedScore, got[2].AdjustedScore)
	}
	if cands[0].AdjustedScore != 0 {
		t.Error("Score mutated its input")
	}
}

func TestScoreTieBreakByURL(t *testing.T) {
	got := Score([]model.SourceCandidate{
		{URL: "https://b.example.com/x", RawScore: 0.5},
		{URL: "https://a.example.com/x", RawScore: 0.5},
	}, 2025)
	if got[0].URL != "https://a.example.com/x" {
		t.Errorf("expected URL tie-break, got %v", urls(got))
	}
}

func TestRankingIsIdempotent(t *testing.T) {
	var cands []model.SourceCandidate
	for i := 0; i < 20; i++ {
		cands = append(cands, model.SourceCandidate{
			URL:      fmt.Sprintf("https://site%d.example.org/article/%d", i%7, i),
			RawScore: 1.0 - float64(i%5)*0.05,
		})
	}
	opts := Options{TopK: 30, ReferenceYear: 2025}
	first, _ := New(nil, opts).Rank(cands)
	second, _ := New(nil, opts).Rank(cands)
	if diff := cmp.Diff(urls(first), urls(second)); diff != "" {
		t.Errorf("ranking not idempotent (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(Score(first, 2025), Score(first, 2025)); diff != "" {
		t.Errorf("Score not idempotent:\n%s", diff)
	}
}

func TestRankDedupAndFilter(t *testing.T) {
	seen := NewURLSet()
	r := New(seen, Options{ReferenceYear: 2025})
	got, st := r.Rank([]model.SourceCandidate{
		{URL: "https://example.com/news/a", QuestionID: "Q1"},
		{URL: "https://example.com/news/a/", QuestionID: "Q2"},
		{URL: "https://example.com/file.pdf", QuestionID: "Q2"},
		{URL: "", QuestionID: "Q3"},
	})
	if len(got) != 1 || got[0].QuestionID != "Q1" {
		t.Fatalf("expected the first occurrence only, got %+v", got)
	}
	want := Stats{Input: 4, Filtered: 2, Duplicates: 1, Ranked: 1}
	if st != want {
		t.Errorf("stats = %+v, want %+v", st, want)
	}

	again, st := r.Rank([]model.SourceCandidate{{URL: "https://example.com/news/a"}})
	if len(again) != 0 || st.Duplicates != 1 {
		t.Errorf("expected job-wide dedup across calls, got %v %+v", again, st)
	}
}

func TestRankTopK(t *testing.T) {
	var cands []model.SourceCandidate
	for i := 0; i < 10; i++ {
		cands = append(cands, model.SourceCandidate{URL: fmt.Sprintf("https://e%d.example.com", i)})
	}
	got, st := New(nil, Options{TopK: 4, ReferenceYear: 2025}).Rank(cands)
	if len(got) != 4 || st.Ranked != 4 {
		t.Errorf("expected 4 ranked, got %d", len(got))
	}
}

func TestRecencyBonus(t *testing.T) {
	cases := []struct {
		c    model.SourceCandidate
		want float64
	}{
		{model.SourceCandidate{PublishedDate: "2024-03-01"}, 0.3},
		{model.SourceCandidate{URL: "https://e.com/2022/05/x"}, 0.2},
		{model.SourceCandidate{Snippet: "매출은 2020년에 증가"}, 0.1},
		{model.SourceCandidate{Snippet: "founded 1998"}, 0},
		{model.SourceCandidate{Snippet: "no dates"}, 0},
		{model.SourceCandidate{Snippet: "forecast for 2031"}, 0},
	}
	for _, tc := range cases {
		if got := RecencyBonus(tc.c, 2025); !approx(got, tc.want) {
			t.Errorf("RecencyBonus(%+v) = %v, want %v", tc.c, got, tc.want)
		}
	}
}

func TestAuthorityGeneralizesAcrossLanguages(t *testing.T) {
	cases := map[string]float64{
		"https://www.example.co.jp/news/2024/item":   0.25,
		"https://www.moel.go.kr/policy/view":         0.05,
		"https://www.ox.ac.uk/research/labour":       0.30,
		"https://press.example.de/mitteilung":        0.25,
		"https://www.statista.com/statistics/1":      0.25,
		"https://fr.wikipedia.org/wiki/Emploi":       0.20,
		"https://blog.example.com/how-we-hire":       0.15,
		"https://www.example.com/":                   0,
		"https://www.boxofficemojo.com/release/1234": 0,
	}
	for in, want := range cases {
		if got := AuthorityBonus(in); !approx(got, want) {
			t.Errorf("AuthorityBonus(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestPenalty(t *testing.T) {
	cases := map[string]float64{
		"https://www.reddit.com/r/golang/comments/1": 0.4,
		"https://www.reddit.com/about":               0,
		"https://x.com/someone/status/1":             0.4,
		"https://box.com/shared":                     0,
		"https://m.facebook.com/page":                0.4,
		"https://linktr.ee/brand":                    0.4,
	}
	for in, want := range cases {
		if got := Penalty(in); got != want {
			t.Errorf("Penalty(%q) = %v, want %v", in, got, want)
		}
	}
}
