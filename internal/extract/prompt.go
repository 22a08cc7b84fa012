package extract

import (
	"fmt"
	"strings"

	"github.com/TobiSchelling/researchledger/internal/model"
)

const instructions = `You are a research analyst extracting evidence for a structured research ledger.

Extract every concrete, verifiable piece of evidence from the source material that helps answer one of the research sub-questions below.

Each evidence statement must:
- be a complete, self-contained sentence (at least 80 characters)
- carry specific facts: numbers, percentages, amounts, dates, named entities
- be attributable to the source text, never inferred or invented
- be written in the language of the source

Do NOT extract generic topic mentions ("the article discusses trends"), opinions without data, or navigation and advertising text.

For each statement, assign the sub-question it answers, a short section label, a confidence (High when the source states the figure directly, Medium when derived, Low when uncertain), and fill in the dynamic fields that apply. Leave out dynamic fields the source does not support.`

const singleShape = `[
  {
    "question_id": "Q1",
    "section": "short section label",
    "statement": "self-contained evidence sentence",
    "confidence": "High" | "Medium" | "Low",
    "dynamic_fields": {"<column name>": "value"},
    "notes": "optional caveats"
  }
]`

const batchShape = `[
  {
    "source_index": 1,
    "question_id": "Q1",
    "section": "short section label",
    "statement": "self-contained evidence sentence",
    "confidence": "High" | "Medium" | "Low",
    "dynamic_fields": {"<column name>": "value"},
    "notes": "optional caveats"
  }
]

source_index is the number k of the "=== SOURCE k ===" block the statement comes from.`

const stricterSuffix = `

IMPORTANT: your previous reply could not be parsed. Reply with a single JSON array and nothing else. Start with [ and end with ]. Use double quotes for all keys and strings. Return [] if there is no evidence.`

// sharedContext renders the per-job context sent with every extraction call.
func sharedContext(plan model.ResearchPlan, schema model.LedgerSchema) string {
	var b strings.Builder
	b.WriteString(instructions)
	fmt.Fprintf(&b, "\n\n## Research\n%s\n\n## Sub-Questions\n", plan.Title)
	for _, sq := range plan.SubQuestions {
		fmt.Fprintf(&b, "%s: %s\n", sq.ID, sq.Question)
		if sq.ExpectedOutput != "" {
			fmt.Fprintf(&b, "    Expected evidence: %s\n", sq.ExpectedOutput)
		}
	}
	b.WriteString("\n## Dynamic Fields\n")
	cols := schema.DynamicColumns()
	if len(cols) == 0 {
		b.WriteString("(none)\n")
	}
	for _, col := range cols {
		fmt.Fprintf(&b, "- %s: %s", col.Name, col.Description)
		if len(col.ExampleValues) > 0 {
			ex := col.ExampleValues
			if len(ex) > 2 {
				ex = ex[:2]
			}
			fmt.Fprintf(&b, " (e.g., %s)", strings.Join(ex, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func sourceBlock(c model.SourceCandidate, content string) string {
	return fmt.Sprintf("URL: %s\nPublisher: %s\nDate: %s\n\nContent:\n%s",
		c.URL, orUnknown(c.Title), orUnknown(c.PublishedDate), content)
}

func singlePrompt(src Source, maxRunes int) string {
	return "**Source Metadata and Content:**\n" + sourceBlock(src.Candidate, clip(src.Content, maxRunes)) +
		"\n\n---\n\nExtract all relevant evidence as a JSON array of evidence objects."
}

func batchPrompt(srcs []Source, maxRunes int) string {
	var b strings.Builder
	b.WriteString("Extract evidence from each of the sources below. Tag every evidence object with the source_index of the source it came from.\n\n")
	for i, s := range srcs {
		fmt.Fprintf(&b, "=== SOURCE %d ===\n%s\n\n", i+1, sourceBlock(s.Candidate, clip(s.Content, maxRunes)))
	}
	b.WriteString("---\n\nExtract all relevant evidence as a JSON array of evidence objects.")
	return b.String()
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Unknown"
	}
	return s
}

func clip(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= maxRunes {
		return s
	}
	return string(r[:maxRunes])
}
