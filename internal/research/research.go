// Package research runs the wide-scan and deep-dive phases of a job and
// assembles the evidence ledger.
package research

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/researchledger/internal/cost"
	"github.com/TobiSchelling/researchledger/internal/decompose"
	"github.com/TobiSchelling/researchledger/internal/extract"
	"github.com/TobiSchelling/researchledger/internal/fetch"
	"github.com/TobiSchelling/researchledger/internal/llm"
	"github.com/TobiSchelling/researchledger/internal/model"
	"github.com/TobiSchelling/researchledger/internal/prefilter"
	"github.com/TobiSchelling/researchledger/internal/rank"
	"github.com/TobiSchelling/researchledger/internal/search"
)

// State is a controller phase.
type State string

const (
	StateWideScan     State = "WIDE_SCAN"
	StateRankAndDedup State = "RANK_AND_DEDUP"
	StateDeepDive     State = "DEEP_DIVE"
	StateStopped      State = "STOPPED"
)

// StopReason says why deep-dive ended.
type StopReason string

const (
	StopSourcesExhausted StopReason = "sources_exhausted"
	StopRule             StopReason = "stop_rule"
	StopBudget           StopReason = "budget"
	StopCancelled        StopReason = "cancelled"
)

const (
	defaultSearchWorkers = 4
	defaultFetchTimeout  = 15 * time.Second
)

// Options configures a Controller.
type Options struct {
	SearchWorkers int
	TopK          int
	ReferenceYear int
	FetchTimeout  time.Duration
	// MaxCostUSD stops the run once estimated spend reaches it. Zero means
	// no cost budget.
	MaxCostUSD float64
	Pricing    cost.Pricing
	Extract    extract.Options
	// Queries overrides query decomposition. Nil uses decompose.Decompose.
	Queries func(sq model.SubQuestion, planTitle string) []string
}

// Stats counts what happened to queries, candidates and sources.
type Stats struct {
	Queries       int `json:"queries"`
	SearchFailed  int `json:"search_failed"`
	Candidates    int `json:"candidates"`
	Filtered      int `json:"filtered"`
	Duplicates    int `json:"duplicates"`
	Ranked        int `json:"ranked"`
	Fetched       int `json:"fetched"`
	FetchFailed   int `json:"fetch_failed"`
	NoRelevant    int `json:"no_relevant"`
	ExtractFailed int `json:"extract_failed"`
	Rejected      int `json:"rejected"`
	Truncated     int `json:"truncated"`
	Accepted      int `json:"accepted"`
}

// Result is the outcome of one pipeline run. Partial results are valid.
type Result struct {
	Rows       []model.EvidenceRow
	Cost       cost.Summary
	Stats      Stats
	StopReason StopReason
	States     []State
}

// Controller drives one research pipeline run per call to Run.
type Controller struct {
	searcher search.Searcher
	fetcher  fetch.Fetcher
	provider llm.Provider
	opts     Options
}

// New creates a controller.
func New(searcher search.Searcher, fetcher fetch.Fetcher, provider llm.Provider, opts Options) *Controller {
	if opts.SearchWorkers <= 0 {
		opts.SearchWorkers = defaultSearchWorkers
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaultFetchTimeout
	}
	if opts.Queries == nil {
		opts.Queries = decompose.Decompose
	}
	return &Controller{searcher: searcher, fetcher: fetcher, provider: provider, opts: opts}
}

// run holds the mutable state of one Run call.
type run struct {
	plan    model.ResearchPlan
	tracker *cost.Tracker

	mu     sync.Mutex
	stats  Stats
	states []State
}

func (r *run) count(fn func(s *Stats)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.stats)
}

func (r *run) enter(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

// entry is an accepted row tagged with its ordering keys.
type entry struct {
	rank  int
	order int
	row   model.EvidenceRow
}

// Run executes wide-scan, rank-and-dedup and deep-dive for an approved plan.
// Budget exhaustion and cancellation end the run early with the rows
// collected so far; only missing collaborators are reported as errors.
func (c *Controller) Run(ctx context.Context, plan model.ResearchPlan, schema model.LedgerSchema) (*Result, error) {
	if c.searcher == nil || c.fetcher == nil || c.provider == nil {
		return nil, errors.New("research controller needs a searcher, a fetcher and an LLM provider")
	}
	r := &run{plan: plan, tracker: cost.NewTracker(c.opts.Pricing)}

	candidates := c.wideScan(ctx, r)

	r.enter(StateRankAndDedup)
	ranker := rank.New(rank.NewURLSet(), rank.Options{TopK: c.opts.TopK, ReferenceYear: c.opts.ReferenceYear})
	ranked, rst := ranker.Rank(candidates)
	r.count(func(s *Stats) {
		s.Candidates = rst.Input
		s.Filtered = rst.Filtered
		s.Duplicates = rst.Duplicates
		s.Ranked = rst.Ranked
	})
	zap.S().Infof("Ranked %d sources from %d candidates (%d duplicates, %d filtered)",
		rst.Ranked, rst.Input, rst.Duplicates, rst.Filtered)

	var entries []entry
	reason := c.checkStop(ctx, r, 0, plan.EffectiveStopRule())
	if reason == "" {
		entries, reason = c.deepDive(ctx, r, schema, ranked)
	}
	r.enter(StateStopped)

	rows := assemble(entries, plan.EffectiveStopRule(), r)
	zap.S().Infof("Research stopped (%s) with %d rows", reason, len(rows))

	r.mu.Lock()
	defer r.mu.Unlock()
	return &Result{
		Rows:       rows,
		Cost:       r.tracker.Summary(),
		Stats:      r.stats,
		StopReason: reason,
		States:     append([]State(nil), r.states...),
	}, nil
}

// wideScan decomposes and searches every sub-question. Results are joined in
// sub-question order regardless of completion order.
func (c *Controller) wideScan(ctx context.Context, r *run) []model.SourceCandidate {
	r.enter(StateWideScan)

	var text strings.Builder
	text.WriteString(r.plan.Title)
	for _, sq := range r.plan.SubQuestions {
		text.WriteString(" " + sq.Question)
	}
	loc := search.DetectLocale(text.String())

	perQuestion := make([][]model.SourceCandidate, len(r.plan.SubQuestions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.SearchWorkers)
	for i, sq := range r.plan.SubQuestions {
		g.Go(func() error {
			for _, q := range c.opts.Queries(sq, r.plan.Title) {
				if gctx.Err() != nil || r.tracker.Exhausted(c.opts.MaxCostUSD) {
					return nil
				}
				r.count(func(s *Stats) { s.Queries++ })
				r.tracker.RecordSearch()
				results, err := c.searcher.Search(gctx, q, loc)
				if err != nil {
					zap.S().Infof("Search failed for %q: %v", q, err)
					r.count(func(s *Stats) { s.SearchFailed++ })
					continue
				}
				for _, res := range results {
					perQuestion[i] = append(perQuestion[i], model.SourceCandidate{
						URL:           res.URL,
						Title:         res.Title,
						Snippet:       res.Snippet,
						RawScore:      res.Score,
						LanguageHint:  loc.Language,
						QuestionID:    sq.ID,
						PublishedDate: res.Date,
					})
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	var all []model.SourceCandidate
	for _, cands := range perQuestion {
		all = append(all, cands...)
	}
	zap.S().Infof("Wide scan found %d candidates for %d sub-questions", len(all), len(r.plan.SubQuestions))
	return all
}

// deepDive fetches, filters and extracts ranked sources window by window
// until sources run out or a stop condition holds.
func (c *Controller) deepDive(ctx context.Context, r *run, schema model.LedgerSchema, ranked []model.SourceCandidate) ([]entry, StopReason) {
	r.enter(StateDeepDive)

	stopRule := r.plan.EffectiveStopRule()
	keywords := prefilter.Keywords(r.plan)
	extractor := extract.New(c.provider, r.tracker, r.plan, schema, c.opts.Extract)

	window := 1
	if c.opts.Extract.UseBatching {
		window = c.opts.Extract.BatchSize
		if window <= 0 {
			window = extract.DefaultOptions().BatchSize
		}
	}

	var entries []entry
	for start := 0; start < len(ranked); start += window {
		end := min(start+window, len(ranked))
		batch := ranked[start:end]
		contents := c.fetchWindow(ctx, r, batch)

		var srcs []extract.Source
		var ranks []int
		for i, cand := range batch {
			if contents[i] == "" {
				continue
			}
			filtered, err := prefilter.Filter(contents[i], keywords)
			if errors.Is(err, prefilter.ErrNoRelevantContent) {
				zap.S().Debugf("No relevant content in %s", cand.URL)
				r.count(func(s *Stats) { s.NoRelevant++ })
				continue
			}
			srcs = append(srcs, extract.Source{Candidate: cand, Content: filtered})
			ranks = append(ranks, start+i)
		}

		// Stop conditions hold between calls, not only between windows.
		for _, idx := range extractor.Calls(srcs) {
			for j, ex := range extractor.ExtractCall(ctx, srcs, idx) {
				r.count(func(s *Stats) {
					s.Rejected += ex.Rejected
					if ex.Err != nil {
						s.ExtractFailed++
					}
				})
				for k, row := range ex.Rows {
					entries = append(entries, entry{rank: ranks[idx[j]], order: k, row: row})
				}
			}
			if reason := c.checkStop(ctx, r, len(entries), stopRule); reason != "" {
				return entries, reason
			}
		}

		if reason := c.checkStop(ctx, r, len(entries), stopRule); reason != "" {
			return entries, reason
		}
	}
	return entries, StopSourcesExhausted
}

// fetchWindow fetches a window of sources concurrently. Failed fetches leave
// an empty string at their index.
func (c *Controller) fetchWindow(ctx context.Context, r *run, batch []model.SourceCandidate) []string {
	contents := make([]string, len(batch))
	var g errgroup.Group
	for i, cand := range batch {
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(ctx, c.opts.FetchTimeout)
			defer cancel()
			text, err := c.fetcher.Fetch(fctx, cand.URL)
			r.tracker.RecordFetch(len(text))
			if err != nil {
				zap.S().Infof("Fetch failed for %s: %v", cand.URL, err)
				r.count(func(s *Stats) { s.FetchFailed++ })
				return nil
			}
			r.count(func(s *Stats) { s.Fetched++ })
			contents[i] = text
			return nil
		})
	}
	_ = g.Wait()
	return contents
}

func (c *Controller) checkStop(ctx context.Context, r *run, accepted, stopRule int) StopReason {
	switch {
	case accepted >= stopRule:
		return StopRule
	case r.tracker.Exhausted(c.opts.MaxCostUSD):
		return StopBudget
	case ctx.Err() != nil:
		return StopCancelled
	}
	return ""
}

// assemble orders rows by source rank then extraction order, truncates at
// the stop rule and assigns row IDs.
func assemble(entries []entry, stopRule int, r *run) []model.EvidenceRow {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].rank != entries[j].rank {
			return entries[i].rank < entries[j].rank
		}
		return entries[i].order < entries[j].order
	})
	truncated := 0
	if len(entries) > stopRule {
		truncated = len(entries) - stopRule
		entries = entries[:stopRule]
	}

	rows := make([]model.EvidenceRow, len(entries))
	for i, e := range entries {
		row := e.row
		row.RowID = i + 1
		row.RowType = model.RowEvidence
		rows[i] = row
	}
	r.count(func(s *Stats) {
		s.Truncated = truncated
		s.Accepted = len(rows)
	})
	return rows
}

// Summary renders the stats as a one-line report.
func (s Stats) Summary() string {
	return fmt.Sprintf("%d queries (%d failed), %d candidates, %d ranked, %d fetched (%d failed), %d without relevant content, %d extraction failures, %d rejected, %d accepted",
		s.Queries, s.SearchFailed, s.Candidates, s.Ranked, s.Fetched, s.FetchFailed, s.NoRelevant, s.ExtractFailed, s.Rejected, s.Accepted)
}
