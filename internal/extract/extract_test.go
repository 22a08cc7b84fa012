package extract

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/TobiSchelling/researchledger/internal/cost"
	"github.com/TobiSchelling/researchledger/internal/llm"
	"github.com/TobiSchelling/researchledger/internal/model"
)

const goodStatement = "The leading platform reported 4.2 million monthly active users in 2024, an increase of 18% over the prior year."

type mockProvider struct {
	mu       sync.Mutex
	replies  []string
	err      error
	requests []llm.Request
}

func (m *mockProvider) Generate(_ context.Context, r llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, r)
	if m.err != nil {
		return nil, m.err
	}
	reply := "[]"
	if len(m.replies) > 0 {
		reply = m.replies[0]
		m.replies = m.replies[1:]
	}
	return &llm.Response{Text: reply, Usage: llm.Usage{InputTokens: 100, OutputTokens: 50}}, nil
}

func (m *mockProvider) IsConfigured() bool { return true }

func testPlan() model.ResearchPlan {
	return model.ResearchPlan{
		Title: "Gig platforms",
		SubQuestions: []model.SubQuestion{
			{ID: "Q1", Question: "Who leads?"},
			{ID: "Q2", Question: "How do users behave?"},
			{ID: "Q3", Question: "What is next?"},
		},
		DynamicSchemaProposal: []model.DynamicColumn{
			{Name: "Platform", Description: "Platform name"},
			{Name: "Metric Value", Description: "Numeric value"},
		},
	}
}

func newExtractor(p llm.Provider, opts Options) (*Extractor, *cost.Tracker) {
	tr := cost.NewTracker(cost.DefaultPricing)
	plan := testPlan()
	return New(p, tr, plan, model.FinalizeSchema(plan), opts), tr
}

func src(url, qid, content string) Source {
	return Source{Candidate: model.SourceCandidate{URL: url, Title: "Title " + url, QuestionID: qid, PublishedDate: "2024-06-01"}, Content: content}
}

func TestValidateStatementScenarios(t *testing.T) {
	short := strings.Repeat("a", 40)
	longNoMarker := strings.Repeat("word ", 30)[:150]
	withPercent := strings.Repeat("b", 119) + "%"

	if ValidateStatement(short, 0) {
		t.Error("40-char statement without marker should be rejected")
	}
	if !ValidateStatement(longNoMarker, 0) {
		t.Error("150-char statement without marker should be accepted")
	}
	if !ValidateStatement(withPercent, 0) {
		t.Error("120-char statement with a percentage should be accepted")
	}
	if ValidateStatement(strings.Repeat("c", 120), 0) {
		t.Error("120-char statement without marker is not long-form")
	}
	if ValidateStatement("The report discusses trends in the market with 25% growth expected over the coming years overall.", 0) {
		t.Error("generic phrase should be rejected")
	}
}

func TestValidateStatementCountsRunes(t *testing.T) {
	korean := strings.Repeat("가", 79) + "1"
	if !ValidateStatement(korean, 0) {
		t.Error("80 Hangul runes with a digit should be accepted")
	}
	if ValidateStatement(strings.Repeat("가", 60), 0) {
		t.Error("60 runes should be rejected even though it is 180 bytes")
	}
}

func TestValidateStatementRejectsAllShortStrings(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	alphabet := []rune("abcdefghijklmnopqrstuvwxyz ABCDEFGHIJKLMNOPQRSTUVWXYZ가나다라마バイト,.;")
	for i := 0; i < 5000; i++ {
		n := rng.Intn(MinStatementRunes)
		r := make([]rune, n)
		for j := range r {
			r[j] = alphabet[rng.Intn(len(alphabet))]
		}
		if s := string(r); ValidateStatement(s, 0) {
			t.Fatalf("accepted short generic string %q", s)
		}
	}
}

func TestExtractSingleNormalizes(t *testing.T) {
	reply := fmt.Sprintf(`[
		{"question_id": "Q9", "section": "", "statement": %q, "confidence": "HIGH",
		 "dynamic_fields": {"Platform": "Alpha", "Metric Value": 4.2, "Invented": "x", "Metric_Value": null}, "notes": " n "},
		{"question_id": "q2", "statement": "too short", "confidence": "High"},
		{"question_id": "Q2", "statement": %q, "confidence": "unsure"}
	]`, goodStatement, goodStatement+" Second.")
	p := &mockProvider{replies: []string{reply}}
	e, tr := newExtractor(p, Options{})

	ex := e.ExtractSingle(context.Background(), src("https://a.example.com", "Q3", "content"))
	if ex.Err != nil {
		t.Fatalf("unexpected error: %v", ex.Err)
	}
	if len(ex.Rows) != 2 || ex.Rejected != 1 {
		t.Fatalf("expected 2 rows and 1 rejection, got %d rows %d rejected", len(ex.Rows), ex.Rejected)
	}

	first := ex.Rows[0]
	if first.QuestionID != "Q3" {
		t.Errorf("unknown question id should fall back to the source question, got %q", first.QuestionID)
	}
	if first.Section != "General" || first.Confidence != model.ConfidenceHigh || first.Notes != "n" {
		t.Errorf("unexpected normalization %+v", first)
	}
	if diff := cmp.Diff(map[string]string{"Platform": "Alpha", "Metric_Value": "4.2"}, first.DynamicFields); diff != "" {
		t.Errorf("dynamic fields mismatch (-want +got):\n%s", diff)
	}
	if first.RowType != model.RowEvidence || first.SourceURL != "https://a.example.com" || first.SourceDate != "2024-06-01" {
		t.Errorf("unexpected provenance %+v", first)
	}
	if ex.Rows[1].Confidence != model.ConfidenceMedium || ex.Rows[1].QuestionID != "Q2" {
		t.Errorf("unexpected second row %+v", ex.Rows[1])
	}
	if tr.Summary().Calls != 1 {
		t.Errorf("expected 1 recorded call, got %d", tr.Summary().Calls)
	}
}

func TestExtractDynamicFieldsAreSchemaSubset(t *testing.T) {
	reply := fmt.Sprintf(`{"evidence": [{"question_id": "Q1", "statement": %q,
		"dynamic_fields": {"platform": "lower", "Share": "31%%", "Metric Value": [1, 2], "Notes": "meta"}}]}`, goodStatement)
	e, _ := newExtractor(&mockProvider{replies: []string{reply}}, Options{})
	ex := e.ExtractSingle(context.Background(), src("https://a.example.com", "Q1", "c"))
	if len(ex.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d (%v)", len(ex.Rows), ex.Err)
	}
	schema := model.FinalizeSchema(testPlan())
	for k := range ex.Rows[0].DynamicFields {
		if !schema.HasDynamic(k) {
			t.Errorf("dynamic field %q is not a schema column", k)
		}
	}
	if ex.Rows[0].DynamicFields["Metric_Value"] != "1, 2" {
		t.Errorf("expected list coerced to string, got %q", ex.Rows[0].DynamicFields["Metric_Value"])
	}
}

func TestExtractRetriesOnceOnMalformedOutput(t *testing.T) {
	reply := fmt.Sprintf(`[{"question_id": "Q1", "statement": %q}]`, goodStatement)
	p := &mockProvider{replies: []string{"I could not find JSON", reply}}
	e, tr := newExtractor(p, Options{})

	ex := e.ExtractSingle(context.Background(), src("https://a.example.com", "Q1", "c"))
	if ex.Err != nil || len(ex.Rows) != 1 {
		t.Fatalf("expected recovery on retry, got %v rows=%d", ex.Err, len(ex.Rows))
	}
	if len(p.requests) != 2 || !strings.Contains(p.requests[1].Prompt, "could not be parsed") {
		t.Errorf("expected stricter retry prompt")
	}
	if tr.Summary().Calls != 2 {
		t.Errorf("expected both attempts recorded, got %d", tr.Summary().Calls)
	}
}

func TestExtractSkipsAfterSecondMalformedOutput(t *testing.T) {
	p := &mockProvider{replies: []string{"nope", "still nope", "never used"}}
	e, tr := newExtractor(p, Options{})

	ex := e.ExtractSingle(context.Background(), src("https://a.example.com", "Q1", "c"))
	if !errors.Is(ex.Err, ErrMalformedOutput) {
		t.Fatalf("expected ErrMalformedOutput, got %v", ex.Err)
	}
	if len(p.requests) != 2 || tr.Summary().Calls != 2 {
		t.Errorf("expected exactly 2 attempts, got %d", len(p.requests))
	}
}

func TestExtractProviderErrorIsNotRetried(t *testing.T) {
	p := &mockProvider{err: errors.New("overloaded")}
	e, tr := newExtractor(p, Options{})
	ex := e.ExtractSingle(context.Background(), src("https://a.example.com", "Q1", "c"))
	if ex.Err == nil || errors.Is(ex.Err, ErrMalformedOutput) {
		t.Fatalf("expected provider error, got %v", ex.Err)
	}
	if len(p.requests) != 1 || tr.Summary().Calls != 1 {
		t.Errorf("expected one recorded attempt, got %d", len(p.requests))
	}
}

func TestExtractBatchAttributesRows(t *testing.T) {
	reply := fmt.Sprintf(`[
		{"source_index": 2, "question_id": "Q1", "statement": %q},
		{"source_index": "1", "question_id": "Q2", "statement": %q},
		{"source_index": 7, "question_id": "Q1", "statement": %q}
	]`, goodStatement, goodStatement, goodStatement)
	p := &mockProvider{replies: []string{reply}}
	e, _ := newExtractor(p, Options{})

	srcs := []Source{src("https://a.example.com", "Q1", "a"), src("https://b.example.com", "Q1", "b"), src("https://c.example.com", "Q1", "c")}
	got := e.ExtractBatch(context.Background(), srcs)
	if len(got) != 3 {
		t.Fatalf("expected 3 extractions, got %d", len(got))
	}
	if len(got[0].Rows) != 1 || got[0].Rows[0].QuestionID != "Q2" || got[0].Rows[0].SourceURL != "https://a.example.com" {
		t.Errorf("unexpected source 1 rows %+v", got[0].Rows)
	}
	if len(got[1].Rows) != 1 || got[1].Rows[0].SourceURL != "https://b.example.com" {
		t.Errorf("unexpected source 2 rows %+v", got[1].Rows)
	}
	if len(got[2].Rows) != 0 || !got[2].Batched {
		t.Errorf("unexpected source 3 %+v", got[2])
	}
	if prompt := p.requests[0].Prompt; !strings.Contains(prompt, "=== SOURCE 3 ===") || !strings.Contains(prompt, "source_index") {
		t.Errorf("batch prompt missing separators or source_index")
	}
}

func TestExtractPartitionsShortAndLong(t *testing.T) {
	long := strings.Repeat("word ", 20)
	short := "a few words"
	srcs := []Source{src("https://1.example.com", "Q1", short), src("https://2.example.com", "Q1", long), src("https://3.example.com", "Q1", short)}

	p := &mockProvider{}
	e, _ := newExtractor(p, Options{ShortSourceWords: 10, UseBatching: true, BatchSize: 5})
	out := e.Extract(context.Background(), srcs)
	if len(p.requests) != 2 {
		t.Errorf("expected 1 single and 1 batch call, got %d calls", len(p.requests))
	}
	if !out[0].Batched || out[1].Batched || !out[2].Batched {
		t.Errorf("unexpected batching flags %v %v %v", out[0].Batched, out[1].Batched, out[2].Batched)
	}

	p = &mockProvider{}
	e, _ = newExtractor(p, Options{ShortSourceWords: 10, UseBatching: false})
	e.Extract(context.Background(), srcs)
	if len(p.requests) != 3 {
		t.Errorf("expected 3 single calls without batching, got %d", len(p.requests))
	}
}

func TestCallsKeepInputOrder(t *testing.T) {
	long := strings.Repeat("word ", 20)
	short := "a few words"
	contents := []string{long, short, short, long, short, short}
	srcs := make([]Source, len(contents))
	for i, c := range contents {
		srcs[i] = src(fmt.Sprintf("https://%d.example.com", i), "Q1", c)
	}

	e, _ := newExtractor(&mockProvider{}, Options{ShortSourceWords: 10, UseBatching: true, BatchSize: 3})
	want := [][]int{{0}, {3}, {1, 2, 4}, {5}}
	if diff := cmp.Diff(want, e.Calls(srcs)); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}

	e, _ = newExtractor(&mockProvider{}, Options{ShortSourceWords: 10, UseBatching: false})
	if got := e.Calls(srcs); len(got) != len(srcs) {
		t.Errorf("expected one call per source without batching, got %v", got)
	}
}

func TestCachingOnlyChangesSegmentFlag(t *testing.T) {
	var texts []string
	for _, cache := range []bool{true, false} {
		p := &mockProvider{}
		e, _ := newExtractor(p, Options{UseCache: cache})
		e.ExtractSingle(context.Background(), src("https://a.example.com", "Q1", "c"))
		seg := p.requests[0].Segments[0]
		if seg.Cacheable != cache {
			t.Errorf("expected Cacheable=%v", cache)
		}
		texts = append(texts, p.requests[0].Text())
	}
	if texts[0] != texts[1] {
		t.Error("prompt text differs between cached and uncached runs")
	}
	if !strings.Contains(texts[0], "Q2: How do users behave?") || !strings.Contains(texts[0], "Metric_Value") {
		t.Error("shared context missing sub-questions or schema")
	}
}
