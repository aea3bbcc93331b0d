// Package memory provides an in-process persistence implementation for development and tests.
package memory

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/custodychain/custodyflow/pkg/models"
	"github.com/custodychain/custodyflow/pkg/persistence"
)

// Persistence keeps every record in memory. Records are copied on the way in
// and out so callers never share state with the store.
type Persistence struct {
	mu        sync.RWMutex
	workflows map[string]*models.Workflow
	order     []string
	schedules map[string]*models.WorkflowSchedule
	approvals map[string]*models.ApprovalRequest
}

// NewPersistence creates an empty in-memory store.
func NewPersistence() *Persistence {
	return &Persistence{
		workflows: make(map[string]*models.Workflow),
		schedules: make(map[string]*models.WorkflowSchedule),
		approvals: make(map[string]*models.ApprovalRequest),
	}
}

func (p *Persistence) HealthCheck(context.Context) error { return nil }

func (p *Persistence) Close(context.Context) error { return nil }

// Workflows returns the workflows in the order they were first saved.
func (p *Persistence) Workflows(context.Context) ([]*models.Workflow, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*models.Workflow, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.workflows[id].Clone())
	}

	return out, nil
}

func (p *Persistence) SaveWorkflow(_ context.Context, workflow *models.Workflow) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	if _, exists := p.workflows[workflow.ID]; !exists {
		p.order = append(p.order, workflow.ID)
	}

	p.workflows[workflow.ID] = workflow.Clone()

	return nil
}

func (p *Persistence) WorkflowByID(_ context.Context, id string) (*models.Workflow, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	w, ok := p.workflows[id]
	if !ok {
		return nil, persistence.NewWorkflowError("WorkflowByID", id, persistence.ErrWorkflowNotFound)
	}

	return w.Clone(), nil
}

func (p *Persistence) DeleteWorkflow(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.workflows[id]; !ok {
		return persistence.NewWorkflowError("DeleteWorkflow", id, persistence.ErrWorkflowNotFound)
	}

	delete(p.workflows, id)

	for i, existing := range p.order {
		if existing == id {
			p.order = append(p.order[:i], p.order[i+1:]...)

			break
		}
	}

	return nil
}

func (p *Persistence) Schedules(context.Context) ([]*models.WorkflowSchedule, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*models.WorkflowSchedule, 0, len(p.schedules))
	for _, s := range p.schedules {
		out = append(out, copySchedule(s))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out, nil
}

func (p *Persistence) SaveSchedule(_ context.Context, schedule *models.WorkflowSchedule) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.schedules[schedule.ID] = copySchedule(schedule)

	return nil
}

func (p *Persistence) DeleteSchedule(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.schedules[id]; !ok {
		return persistence.ErrScheduleNotFound
	}

	delete(p.schedules, id)

	return nil
}

func (p *Persistence) SaveApproval(_ context.Context, request *models.ApprovalRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.approvals[request.ID] = copyApproval(request)

	return nil
}

func (p *Persistence) ApprovalByID(_ context.Context, id string) (*models.ApprovalRequest, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	request, ok := p.approvals[id]
	if !ok {
		return nil, persistence.NewApprovalError("ApprovalByID", id, persistence.ErrApprovalNotFound)
	}

	return copyApproval(request), nil
}

func (p *Persistence) PendingApprovals(context.Context) ([]*models.ApprovalRequest, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*models.ApprovalRequest, 0)
	for _, request := range p.approvals {
		if request.State == models.ApprovalPending {
			out = append(out, copyApproval(request))
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Deadline.Before(out[j].Deadline) })

	return out, nil
}

func copySchedule(s *models.WorkflowSchedule) *models.WorkflowSchedule {
	c := *s
	if s.LastFiredAt != nil {
		t := *s.LastFiredAt
		c.LastFiredAt = &t
	}

	return &c
}

func copyApproval(r *models.ApprovalRequest) *models.ApprovalRequest {
	c := *r
	c.ApproverRoles = append([]string(nil), r.ApproverRoles...)
	c.ReceivedApprovals = append([]string{}, r.ReceivedApprovals...)
	c.Continuation.Subject = maps.Clone(r.Continuation.Subject)

	if r.ResolvedAt != nil {
		t := *r.ResolvedAt
		c.ResolvedAt = &t
	}

	return &c
}
