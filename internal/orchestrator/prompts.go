package orchestrator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/TobiSchelling/researchledger/internal/model"
)

const scopePrompt = `Analyze this research question and identify the research scope.

Research Question: %s

Identify and list:

1. Specific Entities (companies, platforms, organizations): which should be researched, and which similar entities should be EXCLUDED.
2. Industry Category or Segment: the exact segment, and related but different segments to exclude.
3. Geographic Scope: regions or countries, nationwide or specific cities.
4. Time Period: the range to cover and any years of focus.
5. Key Research Aspects in priority order, for example market share and competition, business models and revenue, user behavior and demographics, technology and features, trends and outlook.

Be specific about what is included versus excluded. Name concrete competitors rather than generic terms.

Format as a bulleted list under each heading.`

const planInstructions = `You are a research planner. Turn the research question below into a research plan for an evidence ledger.

The plan must:
- decompose the question into 3 to 5 sub-questions with ids Q1, Q2, ... that together answer it
- give each sub-question a rationale and the kind of evidence expected
- propose a preliminary analytical framework
- propose up to 12 dynamic ledger columns specific to this question (for example Platform, Metric, Value, Period), each with a description and example values
- describe the search strategy (source types, languages, key terms)
- set stop_rule to the target number of evidence rows (default 200)

Write the plan in the language of the research question.`

const planShape = `{
  "title": "short research title",
  "sub_questions": [
    {"id": "Q1", "question": "...", "rationale": "...", "expected_output": "..."}
  ],
  "framework": "preliminary analytical framework",
  "dynamic_schema_proposal": [
    {"name": "Column name", "description": "...", "example_values": ["...", "..."]}
  ],
  "search_strategy": "...",
  "stop_rule": 200
}`

// planPrompt builds the plan-generation prompt. Every piece of reviewer
// feedback so far is folded in, along with the plan being revised.
func planPrompt(question, scope string, previous *model.ResearchPlan, feedback []string) string {
	var b strings.Builder
	b.WriteString(planInstructions)
	fmt.Fprintf(&b, "\n\n## Research Question\n%s\n", question)
	if scope != "" {
		fmt.Fprintf(&b, "\n## Research Scope\n%s\n", scope)
	}
	if previous != nil {
		if data, err := json.MarshalIndent(previous, "", "  "); err == nil {
			fmt.Fprintf(&b, "\n## Previous Draft\n%s\n", data)
		}
	}
	if len(feedback) > 0 {
		b.WriteString("\n## Reviewer Feedback (address all of it)\n")
		for i, f := range feedback {
			fmt.Fprintf(&b, "%d. %s\n", i+1, f)
		}
	}
	return b.String()
}

func repairSuffix(err error) string {
	return fmt.Sprintf("\n\nYour previous plan was rejected: %v. Fix this and return the complete plan as a single JSON object.", err)
}
