package store

import (
	"slices"

	"github.com/TobiSchelling/researchledger/internal/model"
	"github.com/TobiSchelling/researchledger/internal/orchestrator"
)

// Recorder persists orchestrator events.
type Recorder struct {
	db *DB
}

// NewRecorder creates a recorder writing to db.
func NewRecorder(db *DB) *Recorder {
	return &Recorder{db: db}
}

// JobStarted inserts the job in the INIT state.
func (r *Recorder) JobStarted(jobID, question string) error {
	return r.db.InsertJob(jobID, question, string(orchestrator.StateInit))
}

// StateChanged records a transition and updates the job state.
func (r *Recorder) StateChanged(jobID string, from, to orchestrator.State) error {
	return r.db.UpdateJobState(jobID, string(from), string(to))
}

// PlanDrafted saves a plan revision shown to the reviewer.
func (r *Recorder) PlanDrafted(jobID string, revision int, plan model.ResearchPlan) error {
	return r.db.SavePlanDraft(jobID, revision, plan)
}

// DecisionMade stores the reviewer decision on a revision.
func (r *Recorder) DecisionMade(jobID string, revision int, d orchestrator.Decision) error {
	return r.db.InsertDecision(jobID, revision, string(d.Action), d.Feedback)
}

// JobFinished writes the final state, costs, stats and ledger rows. The
// schema is stored only once it was finalized.
func (r *Recorder) JobFinished(res *orchestrator.Result) error {
	o := Outcome{
		ID:           res.JobID,
		Scope:        res.Scope,
		State:        string(res.State),
		Revisions:    res.Revisions,
		StopReason:   string(res.StopReason),
		Cost:         res.Cost,
		PlanningCost: res.PlanningCost,
		Stats:        res.Stats,
		Rows:         res.Rows,
	}
	if len(res.Plan.SubQuestions) > 0 {
		plan := res.Plan
		o.Plan = &plan
	}
	if slices.Contains(res.States, orchestrator.StateSchemaFinalized) {
		schema := res.Schema
		o.Schema = &schema
	}
	return r.db.FinishJob(o)
}
