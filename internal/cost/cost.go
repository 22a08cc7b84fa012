package cost

import (
	"fmt"
	"strings"
	"sync"

	"github.com/TobiSchelling/researchledger/internal/llm"
)

// Pricing holds per-unit prices in USD.
type Pricing struct {
	InputPerMTok       float64 `yaml:"input_per_mtok"`
	OutputPerMTok      float64 `yaml:"output_per_mtok"`
	CachedInputPerMTok float64 `yaml:"cached_input_per_mtok"`
	PerSearch          float64 `yaml:"per_search"`
}

// DefaultPricing matches the default extraction model's published rates.
var DefaultPricing = Pricing{
	InputPerMTok:       3.00,
	OutputPerMTok:      15.00,
	CachedInputPerMTok: 0.30,
	PerSearch:          0.001,
}

// Summary is a point-in-time snapshot of recorded usage.
type Summary struct {
	InputTokens       int     `json:"input_tokens"`
	OutputTokens      int     `json:"output_tokens"`
	CachedInputTokens int     `json:"cached_input_tokens"`
	Calls             int     `json:"llm_calls"`
	SearchCalls       int     `json:"search_calls"`
	FetchCalls        int     `json:"fetch_calls"`
	FetchedBytes      int64   `json:"fetched_bytes"`
	EstimatedCostUSD  float64 `json:"estimated_cost_usd"`
}

// Empty reports whether nothing has been recorded.
func (s Summary) Empty() bool {
	return s.Calls == 0 && s.SearchCalls == 0 && s.FetchCalls == 0 &&
		s.InputTokens == 0 && s.OutputTokens == 0 && s.CachedInputTokens == 0
}

// CachedShare returns the fraction of input tokens served from cache.
func (s Summary) CachedShare() float64 {
	total := s.InputTokens + s.CachedInputTokens
	if total == 0 {
		return 0
	}
	return float64(s.CachedInputTokens) / float64(total)
}

// Add returns the sum of two summaries.
func (s Summary) Add(o Summary) Summary {
	return Summary{
		InputTokens:       s.InputTokens + o.InputTokens,
		OutputTokens:      s.OutputTokens + o.OutputTokens,
		CachedInputTokens: s.CachedInputTokens + o.CachedInputTokens,
		Calls:             s.Calls + o.Calls,
		SearchCalls:       s.SearchCalls + o.SearchCalls,
		FetchCalls:        s.FetchCalls + o.FetchCalls,
		FetchedBytes:      s.FetchedBytes + o.FetchedBytes,
		EstimatedCostUSD:  s.EstimatedCostUSD + o.EstimatedCostUSD,
	}
}

// String renders the summary for terminal output.
func (s Summary) String() string {
	var b strings.Builder
	b.WriteString("Cost Summary:\n")
	fmt.Fprintf(&b, "  LLM calls: %d\n", s.Calls)
	fmt.Fprintf(&b, "  Input tokens: %d\n", s.InputTokens)
	fmt.Fprintf(&b, "  Cached input tokens: %d (%.1f%%)\n", s.CachedInputTokens, s.CachedShare()*100)
	fmt.Fprintf(&b, "  Output tokens: %d\n", s.OutputTokens)
	fmt.Fprintf(&b, "  Searches: %d\n", s.SearchCalls)
	fmt.Fprintf(&b, "  Fetches: %d (%d bytes)\n", s.FetchCalls, s.FetchedBytes)
	fmt.Fprintf(&b, "  Estimated cost: $%.4f", s.EstimatedCostUSD)
	if s.Calls > 0 {
		fmt.Fprintf(&b, " ($%.4f per call)", s.EstimatedCostUSD/float64(s.Calls))
	}
	return b.String()
}

// Tracker accumulates usage for one job phase. Safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	pricing Pricing
	sum     Summary
}

// NewTracker creates a tracker with the given pricing.
func NewTracker(p Pricing) *Tracker {
	return &Tracker{pricing: p}
}

// Record adds one LLM call's usage.
func (t *Tracker) Record(u llm.Usage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sum.Calls++
	t.sum.InputTokens += u.InputTokens
	t.sum.OutputTokens += u.OutputTokens
	t.sum.CachedInputTokens += u.CachedInputTokens
	t.sum.EstimatedCostUSD += float64(u.InputTokens)*t.pricing.InputPerMTok/1e6 +
		float64(u.OutputTokens)*t.pricing.OutputPerMTok/1e6 +
		float64(u.CachedInputTokens)*t.pricing.CachedInputPerMTok/1e6
}

// RecordSearch counts one search call.
func (t *Tracker) RecordSearch() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sum.SearchCalls++
	t.sum.EstimatedCostUSD += t.pricing.PerSearch
}

// RecordFetch counts one fetch and the bytes it returned.
func (t *Tracker) RecordFetch(bytes int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sum.FetchCalls++
	t.sum.FetchedBytes += int64(bytes)
}

// Summary returns a snapshot of the recorded usage.
func (t *Tracker) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sum
}

// Exhausted reports whether spend has reached budgetUSD. A zero or negative
// budget means unlimited.
func (t *Tracker) Exhausted(budgetUSD float64) bool {
	if budgetUSD <= 0 {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sum.EstimatedCostUSD >= budgetUSD
}

// Remaining returns budget left in USD, or -1 when unlimited.
func (t *Tracker) Remaining(budgetUSD float64) float64 {
	if budgetUSD <= 0 {
		return -1
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if r := budgetUSD - t.sum.EstimatedCostUSD; r > 0 {
		return r
	}
	return 0
}
