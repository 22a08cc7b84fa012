package model

import (
	"fmt"
	"strings"
)

const rule = "================================================================================"

// FormatPlan renders a plan for review at the approval boundary.
func FormatPlan(p ResearchPlan) string {
	var b strings.Builder
	b.WriteString(rule + "\nRESEARCH PLAN\n" + rule + "\n\n")
	fmt.Fprintf(&b, "Research Title: %s\n\n", p.Title)

	b.WriteString("Question Decomposition:\n")
	for _, sq := range p.SubQuestions {
		fmt.Fprintf(&b, "  %s: %s\n", sq.ID, sq.Question)
		if sq.Rationale != "" {
			fmt.Fprintf(&b, "      Rationale: %s\n", sq.Rationale)
		}
		if sq.ExpectedOutput != "" {
			fmt.Fprintf(&b, "      Expected Output: %s\n", sq.ExpectedOutput)
		}
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "Preliminary Framework:\n  %s\n\n", p.Framework)

	b.WriteString("Dynamic Schema (in addition to meta-columns):\n")
	for _, col := range p.DynamicSchemaProposal {
		fmt.Fprintf(&b, "  - %s: %s\n", col.Name, col.Description)
		if len(col.ExampleValues) > 0 {
			fmt.Fprintf(&b, "    Examples: %s\n", strings.Join(col.ExampleValues, ", "))
		}
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "Search Strategy:\n  %s\n\n", p.SearchStrategy)
	fmt.Fprintf(&b, "Stop Rule: %d evidence rows\n", p.EffectiveStopRule())
	b.WriteString(rule + "\n")
	return b.String()
}

// FormatSchema renders the finalized ledger schema.
func FormatSchema(s LedgerSchema) string {
	var b strings.Builder
	b.WriteString(rule + "\nLEDGER SCHEMA\n" + rule + "\n\n")
	b.WriteString("Meta Columns (fixed):\n")
	for _, c := range MetaColumns {
		fmt.Fprintf(&b, "  - %s\n", c)
	}
	b.WriteString("\nDynamic Columns (question-specific):\n")
	for _, c := range s.dynamic {
		fmt.Fprintf(&b, "  - %s: %s\n", c.Name, c.Description)
	}
	b.WriteString("\n" + rule + "\n")
	return b.String()
}
