package orchestrator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/TobiSchelling/researchledger/internal/model"
)

// Action is a reviewer's verdict on a plan.
type Action string

const (
	ActionApprove Action = "approve"
	ActionEdit    Action = "edit"
	ActionReject  Action = "reject"
)

// ParseAction maps reviewer input to an Action. Menu numbers are accepted.
func ParseAction(s string) (Action, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "a", "approve":
		return ActionApprove, true
	case "2", "e", "edit":
		return ActionEdit, true
	case "3", "r", "reject":
		return ActionReject, true
	}
	return "", false
}

// Decision is the reviewer's answer to a PlanReview.
type Decision struct {
	Action   Action `json:"action"`
	Feedback string `json:"feedback,omitempty"`
}

// PlanReview is what the reviewer sees at the approval gate.
type PlanReview struct {
	JobID    string
	Question string
	Scope    string
	Plan     model.ResearchPlan
	Revision int
	Display  string
}

// Approver is the human approval boundary. Present blocks until a decision
// is made or ctx is done.
type Approver interface {
	Present(ctx context.Context, review PlanReview) (Decision, error)
}

// ApproverFunc adapts a function to Approver.
type ApproverFunc func(ctx context.Context, review PlanReview) (Decision, error)

// Present calls f.
func (f ApproverFunc) Present(ctx context.Context, review PlanReview) (Decision, error) {
	return f(ctx, review)
}

// AutoApprove approves every plan without asking.
var AutoApprove = ApproverFunc(func(context.Context, PlanReview) (Decision, error) {
	return Decision{Action: ActionApprove}, nil
})

// TerminalApprover asks on a line-oriented terminal.
type TerminalApprover struct {
	in  *bufio.Scanner
	out io.Writer
}

// NewTerminalApprover reads answers from in and writes prompts to out.
func NewTerminalApprover(in io.Reader, out io.Writer) *TerminalApprover {
	return &TerminalApprover{in: bufio.NewScanner(in), out: out}
}

// Present prints the plan and the approval menu, then reads a decision.
func (t *TerminalApprover) Present(ctx context.Context, review PlanReview) (Decision, error) {
	fmt.Fprintln(t.out, review.Display)
	fmt.Fprintln(t.out, "APPROVAL REQUIRED")
	if review.Revision > 0 {
		fmt.Fprintf(t.out, "Revision %d of %d\n", review.Revision, MaxRevisions)
	}
	fmt.Fprintln(t.out, "  1. Approve  - proceed with this plan")
	fmt.Fprintln(t.out, "  2. Edit     - give feedback for a revised plan")
	fmt.Fprintln(t.out, "  3. Reject   - cancel the research")

	for {
		if err := ctx.Err(); err != nil {
			return Decision{}, err
		}
		fmt.Fprint(t.out, "Enter your decision (1/2/3 or approve/edit/reject): ")
		line, err := t.readLine()
		if err != nil {
			return Decision{}, err
		}
		action, ok := ParseAction(line)
		if !ok {
			fmt.Fprintln(t.out, "Invalid choice.")
			continue
		}
		if action != ActionEdit {
			return Decision{Action: action}, nil
		}
		fmt.Fprint(t.out, "Enter your feedback for revision: ")
		feedback, err := t.readLine()
		if err != nil {
			return Decision{}, err
		}
		return Decision{Action: ActionEdit, Feedback: feedback}, nil
	}
}

func (t *TerminalApprover) readLine() (string, error) {
	if !t.in.Scan() {
		if err := t.in.Err(); err != nil {
			return "", err
		}
		return "", errors.New("no input: approval needs an interactive terminal or --yes")
	}
	return strings.TrimSpace(t.in.Text()), nil
}
