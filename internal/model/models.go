package model

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultStopRule is the target ledger size when a plan does not set one.
const DefaultStopRule = 200

const (
	MinSubQuestions = 3
	MaxSubQuestions = 5
)

var subQuestionIDPattern = regexp.MustCompile(`^Q[0-9]+$`)

// SubQuestion is one decomposed part of the research question.
type SubQuestion struct {
	ID             string `json:"id"`
	Question       string `json:"question"`
	Rationale      string `json:"rationale"`
	ExpectedOutput string `json:"expected_output"`
}

// DynamicColumn is a ledger column proposed per research question.
type DynamicColumn struct {
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	ExampleValues []string `json:"example_values"`
}

// ResearchPlan is the output of plan generation. It is treated as immutable
// once approved; downstream components receive a Clone.
type ResearchPlan struct {
	Title                 string          `json:"title"`
	SubQuestions          []SubQuestion   `json:"sub_questions"`
	Framework             string          `json:"framework"`
	DynamicSchemaProposal []DynamicColumn `json:"dynamic_schema_proposal"`
	SearchStrategy        string          `json:"search_strategy"`
	StopRule              int             `json:"stop_rule"`
}

// Validate checks the structural invariants of a plan.
func (p ResearchPlan) Validate() error {
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("plan has no title")
	}
	n := len(p.SubQuestions)
	if n < MinSubQuestions || n > MaxSubQuestions {
		return fmt.Errorf("plan has %d sub-questions, want %d-%d", n, MinSubQuestions, MaxSubQuestions)
	}
	seen := make(map[string]struct{}, n)
	for i, sq := range p.SubQuestions {
		if !subQuestionIDPattern.MatchString(sq.ID) {
			return fmt.Errorf("sub-question %d has invalid id %q (want Q<n>)", i+1, sq.ID)
		}
		if _, dup := seen[sq.ID]; dup {
			return fmt.Errorf("duplicate sub-question id %q", sq.ID)
		}
		seen[sq.ID] = struct{}{}
		if strings.TrimSpace(sq.Question) == "" {
			return fmt.Errorf("sub-question %s has no question text", sq.ID)
		}
	}
	for i, col := range p.DynamicSchemaProposal {
		if strings.TrimSpace(col.Name) == "" {
			return fmt.Errorf("dynamic column %d has no name", i+1)
		}
	}
	if p.StopRule < 0 {
		return fmt.Errorf("stop rule must not be negative, got %d", p.StopRule)
	}
	return nil
}

// HasQuestion reports whether id names one of the plan's sub-questions.
func (p ResearchPlan) HasQuestion(id string) bool {
	for _, sq := range p.SubQuestions {
		if sq.ID == id {
			return true
		}
	}
	return false
}

// EffectiveStopRule returns the stop rule, falling back to DefaultStopRule.
func (p ResearchPlan) EffectiveStopRule() int {
	if p.StopRule > 0 {
		return p.StopRule
	}
	return DefaultStopRule
}

// Clone returns a deep copy of the plan.
func (p ResearchPlan) Clone() ResearchPlan {
	out := p
	out.SubQuestions = append([]SubQuestion(nil), p.SubQuestions...)
	out.DynamicSchemaProposal = make([]DynamicColumn, len(p.DynamicSchemaProposal))
	for i, c := range p.DynamicSchemaProposal {
		c.ExampleValues = append([]string(nil), c.ExampleValues...)
		out.DynamicSchemaProposal[i] = c
	}
	return out
}

// RowType classifies a ledger row.
type RowType string

const (
	RowHeader     RowType = "HEADER"
	RowEvidence   RowType = "EVIDENCE"
	RowSynthesis  RowType = "SYNTHESIS"
	RowConclusion RowType = "CONCLUSION"
)

// Confidence is the extractor's confidence in a statement.
type Confidence string

const (
	ConfidenceHigh   Confidence = "High"
	ConfidenceMedium Confidence = "Medium"
	ConfidenceLow    Confidence = "Low"
)

// ParseConfidence normalizes free text to a Confidence, defaulting to Medium.
func ParseConfidence(s string) Confidence {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return ConfidenceHigh
	case "low":
		return ConfidenceLow
	default:
		return ConfidenceMedium
	}
}

// SourceCandidate is a search hit considered for deep-dive. It never reaches
// the ledger.
type SourceCandidate struct {
	URL           string
	Title         string
	Snippet       string
	RawScore      float64
	AdjustedScore float64
	LanguageHint  string
	QuestionID    string // sub-question whose search surfaced it first
	PublishedDate string
}

// EvidenceRow is a single ledger row.
type EvidenceRow struct {
	RowID          int               `json:"row_id"`
	RowType        RowType           `json:"row_type"`
	QuestionID     string            `json:"question_id"`
	Section        string            `json:"section"`
	Statement      string            `json:"statement"`
	SupportsRowIDs string            `json:"supports_row_ids,omitempty"`
	SourceURL      string            `json:"source_url"`
	SourceName     string            `json:"source_name"`
	SourceDate     string            `json:"source_date"`
	Confidence     Confidence        `json:"confidence"`
	DynamicFields  map[string]string `json:"dynamic_fields,omitempty"`
	Notes          string            `json:"notes,omitempty"`
}
