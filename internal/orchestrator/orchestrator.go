// Package orchestrator sequences a research job from the raw question to the
// finished ledger, with a human approval gate before any search or fetch.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/TobiSchelling/researchledger/internal/cost"
	"github.com/TobiSchelling/researchledger/internal/llm"
	"github.com/TobiSchelling/researchledger/internal/model"
	"github.com/TobiSchelling/researchledger/internal/research"
)

// State is a job lifecycle state.
type State string

const (
	StateInit             State = "INIT"
	StateScopeClarified   State = "SCOPE_CLARIFIED"
	StatePlanDrafted      State = "PLAN_DRAFTED"
	StatePlanApproved     State = "PLAN_APPROVED"
	StatePlanRejected     State = "PLAN_REJECTED"
	StateSchemaFinalized  State = "SCHEMA_FINALIZED"
	StatePipelineRunning  State = "PIPELINE_RUNNING"
	StatePipelineComplete State = "PIPELINE_COMPLETE"
	StateFailed           State = "FAILED"
)

// Terminal reports whether no further transition can follow s.
func (s State) Terminal() bool {
	return s == StatePlanRejected || s == StatePipelineComplete || s == StateFailed
}

// MaxRevisions caps plan edit rounds.
const MaxRevisions = 3

const (
	defaultPlanMaxTokens  = 6000
	defaultScopeMaxTokens = 1500
)

// Pipeline runs research for an approved plan.
type Pipeline interface {
	Run(ctx context.Context, plan model.ResearchPlan, schema model.LedgerSchema) (*research.Result, error)
}

// Recorder observes a job. Errors are logged and never stop the job.
type Recorder interface {
	JobStarted(jobID, question string) error
	StateChanged(jobID string, from, to State) error
	PlanDrafted(jobID string, revision int, plan model.ResearchPlan) error
	DecisionMade(jobID string, revision int, d Decision) error
	JobFinished(res *Result) error
}

type nopRecorder struct{}

func (nopRecorder) JobStarted(string, string) error                   { return nil }
func (nopRecorder) StateChanged(string, State, State) error           { return nil }
func (nopRecorder) PlanDrafted(string, int, model.ResearchPlan) error { return nil }
func (nopRecorder) DecisionMade(string, int, Decision) error          { return nil }
func (nopRecorder) JobFinished(*Result) error                         { return nil }

// Options tunes an Orchestrator.
type Options struct {
	// StopRule overrides the plan's stop rule when positive.
	StopRule       int
	PlanMaxTokens  int
	ScopeMaxTokens int
	// SkipClarification plans from the bare question.
	SkipClarification bool
	Pricing           cost.Pricing
	Recorder          Recorder
}

// Result is the outcome of a job.
type Result struct {
	JobID    string
	Question string
	Scope    string
	State    State
	States   []State
	// Plan is the last draft when the job ended before approval; Schema is
	// only set once the plan is approved.
	Plan         model.ResearchPlan
	Schema       model.LedgerSchema
	Revisions    int
	Rows         []model.EvidenceRow
	Cost         cost.Summary
	PlanningCost cost.Summary
	Stats        research.Stats
	StopReason   research.StopReason
}

// Orchestrator runs jobs. It is safe to run several jobs concurrently.
type Orchestrator struct {
	provider llm.Provider
	approver Approver
	pipeline Pipeline
	opts     Options
}

// New creates an orchestrator.
func New(provider llm.Provider, approver Approver, pipeline Pipeline, opts Options) *Orchestrator {
	if opts.PlanMaxTokens <= 0 {
		opts.PlanMaxTokens = defaultPlanMaxTokens
	}
	if opts.ScopeMaxTokens <= 0 {
		opts.ScopeMaxTokens = defaultScopeMaxTokens
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	return &Orchestrator{provider: provider, approver: approver, pipeline: pipeline, opts: opts}
}

// job carries the state of one Run call.
type job struct {
	o       *Orchestrator
	res     *Result
	planned *cost.Tracker
}

func (j *job) transition(to State) {
	from := j.res.State
	j.res.State = to
	j.res.States = append(j.res.States, to)
	zap.S().Debugf("Job %s: %s -> %s", j.res.JobID, from, to)
	if err := j.o.opts.Recorder.StateChanged(j.res.JobID, from, to); err != nil {
		zap.S().Warnf("Recording state change for job %s: %v", j.res.JobID, err)
	}
}

func (j *job) finish() {
	j.res.PlanningCost = j.planned.Summary()
	if err := j.o.opts.Recorder.JobFinished(j.res); err != nil {
		zap.S().Warnf("Recording result for job %s: %v", j.res.JobID, err)
	}
}

func (j *job) fail(err error) (*Result, error) {
	j.transition(StateFailed)
	j.finish()
	return j.res, err
}

// Run executes one job. A rejected plan returns a Result in
// PLAN_REJECTED with no rows and nil error. Planning failures return a
// *PlanningFailedError; the Result is still returned for inspection.
func (o *Orchestrator) Run(ctx context.Context, question string) (*Result, error) {
	question = strings.TrimSpace(question)
	if err := o.check(question); err != nil {
		return nil, err
	}

	j := &job{
		o:       o,
		planned: cost.NewTracker(o.opts.Pricing),
		res:     &Result{JobID: uuid.NewString(), Question: question, State: StateInit, States: []State{StateInit}},
	}
	if err := o.opts.Recorder.JobStarted(j.res.JobID, question); err != nil {
		zap.S().Warnf("Recording start of job %s: %v", j.res.JobID, err)
	}
	zap.S().Infof("Job %s started", j.res.JobID)

	if !o.opts.SkipClarification {
		j.res.Scope = o.clarify(ctx, question, j.planned)
	}
	j.transition(StateScopeClarified)

	plan, ok, err := o.review(ctx, j)
	if err != nil {
		return j.fail(err)
	}
	if !ok {
		j.transition(StatePlanRejected)
		j.finish()
		zap.S().Infof("Job %s: plan rejected", j.res.JobID)
		return j.res, nil
	}
	j.transition(StatePlanApproved)

	plan = plan.Clone()
	if o.opts.StopRule > 0 {
		plan.StopRule = o.opts.StopRule
	}
	schema := model.FinalizeSchema(plan)
	j.res.Plan = plan
	j.res.Schema = schema
	j.transition(StateSchemaFinalized)

	j.transition(StatePipelineRunning)
	pres, err := o.pipeline.Run(ctx, plan.Clone(), schema)
	if err != nil {
		return j.fail(fmt.Errorf("research pipeline: %w", err))
	}
	j.res.Rows = pres.Rows
	j.res.Cost = pres.Cost
	j.res.Stats = pres.Stats
	j.res.StopReason = pres.StopReason
	j.transition(StatePipelineComplete)
	j.finish()
	zap.S().Infof("Job %s complete: %d rows (%s)", j.res.JobID, len(j.res.Rows), j.res.StopReason)
	return j.res, nil
}

func (o *Orchestrator) check(question string) error {
	switch {
	case question == "":
		return &ConfigError{Reason: "research question is empty"}
	case o.provider == nil || !o.provider.IsConfigured():
		return &ConfigError{Reason: "no configured LLM provider"}
	case o.approver == nil:
		return &ConfigError{Reason: "no approver"}
	case o.pipeline == nil:
		return &ConfigError{Reason: "no research pipeline"}
	case o.opts.StopRule < 0:
		return &ConfigError{Reason: fmt.Sprintf("stop rule override must not be negative, got %d", o.opts.StopRule)}
	}
	return nil
}

// clarify asks for the research scope. Failures are logged and yield an
// empty scope.
func (o *Orchestrator) clarify(ctx context.Context, question string, tracker *cost.Tracker) string {
	resp, err := o.provider.Generate(ctx, llm.Request{
		Prompt:    fmt.Sprintf(scopePrompt, question),
		MaxTokens: o.opts.ScopeMaxTokens,
	})
	if err != nil {
		zap.S().Warnf("Scope clarification failed, planning from the question alone: %v", err)
		tracker.Record(llm.Usage{})
		return ""
	}
	tracker.Record(resp.Usage)
	return strings.TrimSpace(resp.Text)
}

// review drafts plans and presents them until the reviewer approves or
// rejects, or the revision cap is hit.
func (o *Orchestrator) review(ctx context.Context, j *job) (model.ResearchPlan, bool, error) {
	var feedback []string
	var previous *model.ResearchPlan
	for revision := 0; ; revision++ {
		plan, err := o.draft(ctx, j.res.Question, j.res.Scope, previous, feedback, j.planned)
		if err != nil {
			return model.ResearchPlan{}, false, &PlanningFailedError{Err: err}
		}
		j.res.Plan = plan
		j.res.Revisions = revision
		j.transition(StatePlanDrafted)
		if err := o.opts.Recorder.PlanDrafted(j.res.JobID, revision, plan); err != nil {
			zap.S().Warnf("Recording plan for job %s: %v", j.res.JobID, err)
		}

		d, err := o.approver.Present(ctx, PlanReview{
			JobID:    j.res.JobID,
			Question: j.res.Question,
			Scope:    j.res.Scope,
			Plan:     plan.Clone(),
			Revision: revision,
			Display:  model.FormatPlan(plan),
		})
		if err != nil {
			return model.ResearchPlan{}, false, fmt.Errorf("plan approval: %w", err)
		}
		if err := o.opts.Recorder.DecisionMade(j.res.JobID, revision, d); err != nil {
			zap.S().Warnf("Recording decision for job %s: %v", j.res.JobID, err)
		}

		switch d.Action {
		case ActionApprove:
			return plan, true, nil
		case ActionReject:
			return model.ResearchPlan{}, false, nil
		case ActionEdit:
			if revision >= MaxRevisions {
				return model.ResearchPlan{}, false, &PlanningFailedError{Err: &PlanNotConvergedError{Rounds: MaxRevisions}}
			}
			if f := strings.TrimSpace(d.Feedback); f != "" {
				feedback = append(feedback, f)
			}
			previous = &plan
		default:
			return model.ResearchPlan{}, false, fmt.Errorf("unknown approval action %q", d.Action)
		}
	}
}

// draft generates and validates one plan, re-prompting once with the
// parse or validation error.
func (o *Orchestrator) draft(ctx context.Context, question, scope string, previous *model.ResearchPlan, feedback []string, tracker *cost.Tracker) (model.ResearchPlan, error) {
	prompt := planPrompt(question, scope, previous, feedback)
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		p := prompt
		if attempt == 1 {
			p += repairSuffix(lastErr)
		}
		var plan model.ResearchPlan
		usage, err := llm.GenerateStructured(ctx, o.provider, llm.Request{Prompt: p, MaxTokens: o.opts.PlanMaxTokens}, planShape, &plan)
		tracker.Record(usage)
		if err != nil {
			var pe *llm.ParseError
			if !errors.As(err, &pe) {
				return model.ResearchPlan{}, fmt.Errorf("generate plan: %w", err)
			}
			lastErr = pe
			zap.S().Infof("Plan output could not be parsed (attempt %d): %v", attempt+1, pe.Err)
			continue
		}
		if err := plan.Validate(); err != nil {
			lastErr = err
			zap.S().Infof("Plan failed validation (attempt %d): %v", attempt+1, err)
			continue
		}
		return plan, nil
	}
	return model.ResearchPlan{}, fmt.Errorf("invalid plan after retry: %w", lastErr)
}
