package model

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func testPlan() ResearchPlan {
	return ResearchPlan{
		Title: "Part-time job platform market 2022-2025",
		SubQuestions: []SubQuestion{
			{ID: "Q1", Question: "Which platforms lead the market and how did share change?"},
			{ID: "Q2", Question: "How do workers use the platforms?"},
			{ID: "Q3", Question: "What is the outlook?"},
		},
		DynamicSchemaProposal: []DynamicColumn{
			{Name: "Platform", Description: "Platform name", ExampleValues: []string{"A", "B"}},
			{Name: "Metric Value", Description: "Numeric value"},
		},
	}
}

func TestValidatePlan(t *testing.T) {
	p := testPlan()
	if err := p.Validate(); err != nil {
		t.Fatalf("expected valid plan, got %v", err)
	}
}

func TestValidatePlanRejectsBadShapes(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *ResearchPlan)
		want   string
	}{
		{"no title", func(p *ResearchPlan) { p.Title = " " }, "no title"},
		{"too few", func(p *ResearchPlan) { p.SubQuestions = p.SubQuestions[:2] }, "sub-questions"},
		{"too many", func(p *ResearchPlan) {
			for i := 4; i <= 6; i++ {
				p.SubQuestions = append(p.SubQuestions, SubQuestion{ID: "Q" + string(rune('0'+i)), Question: "x"})
			}
		}, "sub-questions"},
		{"bad id", func(p *ResearchPlan) { p.SubQuestions[1].ID = "question-2" }, "invalid id"},
		{"duplicate id", func(p *ResearchPlan) { p.SubQuestions[2].ID = "Q1" }, "duplicate"},
		{"empty question", func(p *ResearchPlan) { p.SubQuestions[0].Question = "" }, "no question text"},
		{"unnamed column", func(p *ResearchPlan) { p.DynamicSchemaProposal[0].Name = "" }, "no name"},
		{"negative stop rule", func(p *ResearchPlan) { p.StopRule = -1 }, "stop rule"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testPlan()
			tt.mutate(&p)
			err := p.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestEffectiveStopRule(t *testing.T) {
	p := testPlan()
	if p.EffectiveStopRule() != DefaultStopRule {
		t.Errorf("expected default %d, got %d", DefaultStopRule, p.EffectiveStopRule())
	}
	p.StopRule = 10
	if p.EffectiveStopRule() != 10 {
		t.Errorf("expected 10, got %d", p.EffectiveStopRule())
	}
}

func TestCloneIsDeep(t *testing.T) {
	p := testPlan()
	c := p.Clone()
	c.SubQuestions[0].Question = "changed"
	c.DynamicSchemaProposal[0].ExampleValues[0] = "changed"
	if p.SubQuestions[0].Question == "changed" {
		t.Error("clone shares sub-question slice")
	}
	if p.DynamicSchemaProposal[0].ExampleValues[0] == "changed" {
		t.Error("clone shares example values")
	}
}

func TestParseConfidence(t *testing.T) {
	cases := map[string]Confidence{
		"High": ConfidenceHigh, " high ": ConfidenceHigh, "LOW": ConfidenceLow,
		"medium": ConfidenceMedium, "": ConfidenceMedium, "very sure": ConfidenceMedium,
	}
	for in, want := range cases {
		if got := ParseConfidence(in); got != want {
			t.Errorf("ParseConfidence(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFinalizeSchema(t *testing.T) {
	p := testPlan()
	p.DynamicSchemaProposal = append(p.DynamicSchemaProposal,
		DynamicColumn{Name: "platform"},   // case-insensitive duplicate
		DynamicColumn{Name: "Confidence"}, // meta collision
		DynamicColumn{Name: "   "},
	)
	s := FinalizeSchema(p)

	if diff := cmp.Diff([]string{"Platform", "Metric_Value"}, s.DynamicNames()); diff != "" {
		t.Errorf("dynamic names mismatch (-want +got):\n%s", diff)
	}
	if !s.HasDynamic("Metric_Value") || s.HasDynamic("Metric Value") {
		t.Error("expected normalized column name only")
	}
	cols := s.Columns()
	if len(cols) != len(MetaColumns)+2 {
		t.Fatalf("expected %d columns, got %d", len(MetaColumns)+2, len(cols))
	}
	if cols[0] != "Row_ID" || cols[len(cols)-1] != "Metric_Value" {
		t.Errorf("unexpected column order: %v", cols)
	}
}

func TestSchemaIsImmutableFromOutside(t *testing.T) {
	p := testPlan()
	s := FinalizeSchema(p)

	p.DynamicSchemaProposal[0].Name = "Renamed"
	cols := s.DynamicColumns()
	cols[0].Name = "Renamed"

	if s.DynamicNames()[0] != "Platform" {
		t.Errorf("schema changed after finalization: %v", s.DynamicNames())
	}
}

func TestFinalizeSchemaCapsColumns(t *testing.T) {
	p := testPlan()
	p.DynamicSchemaProposal = nil
	for i := 0; i < MaxDynamicColumns+5; i++ {
		p.DynamicSchemaProposal = append(p.DynamicSchemaProposal, DynamicColumn{Name: "Col" + strings.Repeat("x", i+1)})
	}
	if got := len(FinalizeSchema(p).DynamicNames()); got != MaxDynamicColumns {
		t.Errorf("expected %d columns, got %d", MaxDynamicColumns, got)
	}
}

func TestFormatPlan(t *testing.T) {
	out := FormatPlan(testPlan())
	for _, want := range []string{"RESEARCH PLAN", "Q1:", "Platform: Platform name", "Examples: A, B", "Stop Rule: 200"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in formatted plan", want)
		}
	}
}

func TestFormatSchema(t *testing.T) {
	out := FormatSchema(FinalizeSchema(testPlan()))
	if !strings.Contains(out, "Row_ID") || !strings.Contains(out, "Metric_Value") {
		t.Errorf("unexpected schema display:\n%s", out)
	}
}

func TestSchemaJSONRoundTrip(t *testing.T) {
	s := FinalizeSchema(testPlan())
	data, err := s.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back LedgerSchema
	if err := back.UnmarshalJSON(data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if diff := cmp.Diff(s.DynamicNames(), back.DynamicNames()); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}
	if !back.HasDynamic("Platform") {
		t.Error("expected restored lookup set")
	}
}
