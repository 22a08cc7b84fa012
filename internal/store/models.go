package store

import (
	"github.com/TobiSchelling/researchledger/internal/cost"
	"github.com/TobiSchelling/researchledger/internal/model"
	"github.com/TobiSchelling/researchledger/internal/research"
)

// Job is a stored research job.
type Job struct {
	ID           string
	Question     string
	Scope        *string
	State        string
	Revisions    int
	Plan         *model.ResearchPlan
	Schema       *model.LedgerSchema
	StopReason   *string
	Cost         cost.Summary
	PlanningCost cost.Summary
	Stats        research.Stats
	RowCount     int
	CreatedAt    *string
	UpdatedAt    *string
}

// Outcome is everything written when a job reaches a terminal state.
type Outcome struct {
	ID           string
	Scope        string
	State        string
	Revisions    int
	Plan         *model.ResearchPlan
	Schema       *model.LedgerSchema
	StopReason   string
	Cost         cost.Summary
	PlanningCost cost.Summary
	Stats        research.Stats
	Rows         []model.EvidenceRow
}

// PlanDraft is one plan revision shown to the reviewer.
type PlanDraft struct {
	JobID     string
	Revision  int
	Plan      model.ResearchPlan
	CreatedAt *string
}

// Decision is a stored reviewer decision.
type Decision struct {
	JobID     string
	Revision  int
	Action    string
	Feedback  *string
	DecidedAt *string
}

// Transition is one recorded state change.
type Transition struct {
	From      string
	To        string
	ChangedAt *string
}
