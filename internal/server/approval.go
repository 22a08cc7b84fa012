package server

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/TobiSchelling/researchledger/internal/orchestrator"
)

type pendingReview struct {
	review orchestrator.PlanReview
	answer chan orchestrator.Decision
}

// ApprovalQueue is an orchestrator.Approver answered over HTTP. Present
// blocks until Decide is called for the job or the job's context ends.
type ApprovalQueue struct {
	mu      sync.Mutex
	pending map[string]*pendingReview
	order   map[string]int
	seq     int
}

// NewApprovalQueue creates an empty queue.
func NewApprovalQueue() *ApprovalQueue {
	return &ApprovalQueue{
		pending: make(map[string]*pendingReview),
		order:   make(map[string]int),
	}
}

// Present queues review and waits for a decision.
func (q *ApprovalQueue) Present(ctx context.Context, review orchestrator.PlanReview) (orchestrator.Decision, error) {
	p := &pendingReview{review: review, answer: make(chan orchestrator.Decision, 1)}

	q.mu.Lock()
	q.pending[review.JobID] = p
	q.seq++
	q.order[review.JobID] = q.seq
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		if q.pending[review.JobID] == p {
			delete(q.pending, review.JobID)
			delete(q.order, review.JobID)
		}
		q.mu.Unlock()
	}()

	select {
	case d := <-p.answer:
		return d, nil
	case <-ctx.Done():
		return orchestrator.Decision{}, ctx.Err()
	}
}

// Decide answers the pending review of jobID.
func (q *ApprovalQueue) Decide(jobID string, d orchestrator.Decision) error {
	q.mu.Lock()
	p, ok := q.pending[jobID]
	if ok {
		delete(q.pending, jobID)
		delete(q.order, jobID)
	}
	q.mu.Unlock()

	if !ok {
		return fmt.Errorf("no plan awaiting approval for job %s", jobID)
	}
	p.answer <- d
	return nil
}

// Get returns the pending review of jobID, if any.
func (q *ApprovalQueue) Get(jobID string) (orchestrator.PlanReview, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	p, ok := q.pending[jobID]
	if !ok {
		return orchestrator.PlanReview{}, false
	}
	return p.review, true
}

// Pending returns all waiting reviews, oldest first.
func (q *ApprovalQueue) Pending() []orchestrator.PlanReview {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]orchestrator.PlanReview, 0, len(q.pending))
	for _, p := range q.pending {
		out = append(out, p.review)
	}
	sort.Slice(out, func(i, j int) bool {
		return q.order[out[i].JobID] < q.order[out[j].JobID]
	})
	return out
}
