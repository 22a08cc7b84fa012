package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/researchledger/internal/cost"
	"github.com/TobiSchelling/researchledger/internal/llm"
	"github.com/TobiSchelling/researchledger/internal/model"
)

// ErrMalformedOutput is returned when extractor output still fails to parse
// after the stricter retry.
var ErrMalformedOutput = errors.New("malformed extractor output")

// Options tunes extraction.
type Options struct {
	BatchSize         int
	ShortSourceWords  int
	UseCache          bool
	UseBatching       bool
	SingleMaxTokens   int
	BatchMaxTokens    int
	Timeout           time.Duration
	MinStatementRunes int
	MaxContentRunes   int
}

// DefaultOptions returns the standard extraction settings.
func DefaultOptions() Options {
	return Options{
		BatchSize:         5,
		ShortSourceWords:  1500,
		UseCache:          true,
		UseBatching:       true,
		SingleMaxTokens:   3000,
		BatchMaxTokens:    4000,
		Timeout:           90 * time.Second,
		MinStatementRunes: MinStatementRunes,
		MaxContentRunes:   8000,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.BatchSize <= 0 {
		o.BatchSize = d.BatchSize
	}
	if o.ShortSourceWords <= 0 {
		o.ShortSourceWords = d.ShortSourceWords
	}
	if o.SingleMaxTokens <= 0 {
		o.SingleMaxTokens = d.SingleMaxTokens
	}
	if o.BatchMaxTokens <= 0 {
		o.BatchMaxTokens = d.BatchMaxTokens
	}
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	if o.MinStatementRunes <= 0 {
		o.MinStatementRunes = d.MinStatementRunes
	}
	if o.MaxContentRunes <= 0 {
		o.MaxContentRunes = d.MaxContentRunes
	}
	return o
}

// Source is a ranked candidate with its pre-filtered content.
type Source struct {
	Candidate model.SourceCandidate
	Content   string
}

// Extraction is the validated output for one source. Row IDs are left
// zero; they are assigned when the ledger is assembled.
type Extraction struct {
	Source   model.SourceCandidate
	Rows     []model.EvidenceRow
	Rejected int
	Batched  bool
	Err      error
}

// Extractor turns source text into ledger rows for one job.
type Extractor struct {
	provider llm.Provider
	tracker  *cost.Tracker
	plan     model.ResearchPlan
	schema   model.LedgerSchema
	opts     Options
	context  string
}

// New creates an extractor bound to an approved plan and its schema.
func New(provider llm.Provider, tracker *cost.Tracker, plan model.ResearchPlan, schema model.LedgerSchema, opts Options) *Extractor {
	return &Extractor{
		provider: provider,
		tracker:  tracker,
		plan:     plan,
		schema:   schema,
		opts:     opts.withDefaults(),
		context:  sharedContext(plan, schema),
	}
}

// IsShort reports whether content qualifies for batching.
func (e *Extractor) IsShort(content string) bool {
	return len(strings.Fields(content)) < e.opts.ShortSourceWords
}

// Calls splits srcs into extraction calls in input order. Long sources, or
// every source when batching is off, get a call of their own; short sources
// are grouped up to BatchSize per call. Each call is a list of indexes into
// srcs.
func (e *Extractor) Calls(srcs []Source) [][]int {
	var calls [][]int
	var short []int
	for i, s := range srcs {
		if e.opts.UseBatching && e.opts.BatchSize > 1 && e.IsShort(s.Content) {
			short = append(short, i)
			if len(short) == e.opts.BatchSize {
				calls = append(calls, short)
				short = nil
			}
			continue
		}
		calls = append(calls, []int{i})
	}
	if len(short) > 0 {
		calls = append(calls, short)
	}
	return calls
}

// ExtractCall runs one call over the sources at idx, batched when there is
// more than one. The result is aligned with idx.
func (e *Extractor) ExtractCall(ctx context.Context, srcs []Source, idx []int) []Extraction {
	if len(idx) == 1 {
		return []Extraction{e.ExtractSingle(ctx, srcs[idx[0]])}
	}
	batch := make([]Source, len(idx))
	for j, i := range idx {
		batch[j] = srcs[i]
	}
	return e.ExtractBatch(ctx, batch)
}

// Extract runs every call from Calls. The result has one Extraction per
// input source, in input order.
func (e *Extractor) Extract(ctx context.Context, srcs []Source) []Extraction {
	out := make([]Extraction, len(srcs))
	for _, idx := range e.Calls(srcs) {
		for j, ex := range e.ExtractCall(ctx, srcs, idx) {
			out[idx[j]] = ex
		}
	}
	return out
}

// ExtractSingle extracts evidence from one source in its own call.
func (e *Extractor) ExtractSingle(ctx context.Context, src Source) Extraction {
	ex := Extraction{Source: src.Candidate}
	items, err := e.call(ctx, singlePrompt(src, e.opts.MaxContentRunes), singleShape, e.opts.SingleMaxTokens)
	if err != nil {
		ex.Err = err
		zap.S().Infof("Extraction failed for %s: %v", src.Candidate.URL, err)
		return ex
	}
	for _, item := range items {
		if row, ok := e.normalize(item, src.Candidate); ok {
			ex.Rows = append(ex.Rows, row)
		} else {
			ex.Rejected++
		}
	}
	zap.S().Debugf("Extracted %d rows (%d rejected) from %s", len(ex.Rows), ex.Rejected, src.Candidate.URL)
	return ex
}

// ExtractBatch extracts evidence from several short sources in one call.
// Every returned Extraction shares the call's error, if any.
func (e *Extractor) ExtractBatch(ctx context.Context, srcs []Source) []Extraction {
	out := make([]Extraction, len(srcs))
	for i, s := range srcs {
		out[i] = Extraction{Source: s.Candidate, Batched: true}
	}

	items, err := e.call(ctx, batchPrompt(srcs, e.opts.MaxContentRunes), batchShape, e.opts.BatchMaxTokens)
	if err != nil {
		zap.S().Infof("Batch extraction of %d sources failed: %v", len(srcs), err)
		for i := range out {
			out[i].Err = err
		}
		return out
	}

	dropped := 0
	for _, item := range items {
		idx := getInt(item, "source_index", 0) - 1
		if idx < 0 || idx >= len(srcs) {
			dropped++
			continue
		}
		if row, ok := e.normalize(item, srcs[idx].Candidate); ok {
			out[idx].Rows = append(out[idx].Rows, row)
		} else {
			out[idx].Rejected++
		}
	}
	if dropped > 0 {
		zap.S().Debugf("Batch dropped %d rows without a valid source_index", dropped)
	}
	return out
}

// call runs one structured request with a single stricter retry on parse
// failure. Every attempt is recorded in the tracker.
func (e *Extractor) call(ctx context.Context, prompt, shape string, maxTokens int) ([]map[string]any, error) {
	req := llm.Request{
		Segments:  []llm.Segment{{Text: e.context, Cacheable: e.opts.UseCache}},
		Prompt:    prompt,
		MaxTokens: maxTokens,
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt == 1 {
			req.Prompt = prompt + stricterSuffix
		}
		var items evidenceList
		callCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
		usage, err := llm.GenerateStructured(callCtx, e.provider, req, shape, &items)
		cancel()
		e.tracker.Record(usage)

		if err == nil {
			return items, nil
		}
		var pe *llm.ParseError
		if !errors.As(err, &pe) {
			return nil, err
		}
		lastErr = pe
	}
	return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, lastErr)
}

// normalize validates one proposed item and converts it to a row.
func (e *Extractor) normalize(item map[string]any, src model.SourceCandidate) (model.EvidenceRow, bool) {
	statement := strings.TrimSpace(getString(item, "statement", ""))
	if !ValidateStatement(statement, e.opts.MinStatementRunes) {
		return model.EvidenceRow{}, false
	}

	qid := strings.ToUpper(strings.TrimSpace(getString(item, "question_id", "")))
	if !e.plan.HasQuestion(qid) {
		qid = src.QuestionID
		if !e.plan.HasQuestion(qid) && len(e.plan.SubQuestions) > 0 {
			qid = e.plan.SubQuestions[0].ID
		}
	}

	section := strings.TrimSpace(getString(item, "section", ""))
	if section == "" {
		section = "General"
	}

	return model.EvidenceRow{
		RowType:       model.RowEvidence,
		QuestionID:    qid,
		Section:       section,
		Statement:     statement,
		SourceURL:     src.URL,
		SourceName:    sourceName(src),
		SourceDate:    orUnknown(src.PublishedDate),
		Confidence:    model.ParseConfidence(getString(item, "confidence", "")),
		DynamicFields: e.dynamicFields(item["dynamic_fields"]),
		Notes:         strings.TrimSpace(getString(item, "notes", "")),
	}, true
}

// dynamicFields keeps only schema columns and coerces values to strings.
func (e *Extractor) dynamicFields(raw any) map[string]string {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	var out map[string]string
	for k, v := range m {
		name := model.NormalizeColumnName(k)
		if !e.schema.HasDynamic(name) {
			continue
		}
		s := strings.TrimSpace(stringify(v))
		if s == "" {
			continue
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[name] = s
	}
	return out
}

func sourceName(c model.SourceCandidate) string {
	if t := strings.TrimSpace(c.Title); t != "" {
		return t
	}
	if u, err := url.Parse(c.URL); err == nil && u.Host != "" {
		return strings.TrimPrefix(u.Host, "www.")
	}
	return "Unknown"
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case []any:
		parts := make([]string, 0, len(x))
		for _, p := range x {
			if s := stringify(p); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	default:
		data, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(data)
	}
}

func getString(m map[string]any, key, fallback string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return fallback
	}
	return stringify(v)
}

func getInt(m map[string]any, key string, fallback int) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return fallback
}

// evidenceList accepts a JSON array of evidence objects, a single object,
// or an object wrapping the array.
type evidenceList []map[string]any

func (l *evidenceList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var items []map[string]any
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		*l = items
		return nil
	}

	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	for _, key := range []string{"evidence", "items", "results"} {
		arr, ok := obj[key].([]any)
		if !ok {
			continue
		}
		items := make([]map[string]any, 0, len(arr))
		for _, a := range arr {
			if m, ok := a.(map[string]any); ok {
				items = append(items, m)
			}
		}
		*l = items
		return nil
	}
	if _, ok := obj["statement"]; ok {
		*l = evidenceList{obj}
		return nil
	}
	return errors.New("no evidence array in response")
}
