// Package persistence provides the storage abstraction for workflows, schedules and approval requests.
package persistence

import (
	"context"

	"github.com/custodychain/custodyflow/pkg/models"
)

// WorkflowRepository stores workflow definitions in their persisted shape.
type WorkflowRepository interface {
	Workflows(ctx context.Context) ([]*models.Workflow, error)
	SaveWorkflow(ctx context.Context, workflow *models.Workflow) error
	WorkflowByID(ctx context.Context, id string) (*models.Workflow, error)
	DeleteWorkflow(ctx context.Context, id string) error
}

// ScheduleRepository stores the materialized schedules of SCHEDULE workflows.
type ScheduleRepository interface {
	Schedules(ctx context.Context) ([]*models.WorkflowSchedule, error)
	SaveSchedule(ctx context.Context, schedule *models.WorkflowSchedule) error
	DeleteSchedule(ctx context.Context, id string) error
}

// ApprovalRepository stores approval requests together with their continuations.
type ApprovalRepository interface {
	SaveApproval(ctx context.Context, request *models.ApprovalRequest) error
	ApprovalByID(ctx context.Context, id string) (*models.ApprovalRequest, error)
	PendingApprovals(ctx context.Context) ([]*models.ApprovalRequest, error)
}

// Persistence aggregates every repository behind one connection.
type Persistence interface {
	WorkflowRepository
	ScheduleRepository
	ApprovalRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
