package web

import (
	"time"

	"github.com/custodychain/custodyflow/pkg/models"
)

// SubmitEventRequest is the body of POST /events.
type SubmitEventRequest struct {
	ID             string         `json:"id,omitempty"`
	TriggerType    string         `json:"trigger_type"          validate:"required,oneof=IOT_ALERT CUSTODY_EVENT MANUAL SCHEDULE"`
	OccurredAt     *time.Time     `json:"occurred_at,omitempty"`
	EntitySnapshot map[string]any `json:"entity_snapshot"`
	CorrelationID  string         `json:"correlation_id"        validate:"required"`
	Source         string         `json:"source,omitempty"`
}

// ManualTriggerRequest is the body of POST /triggers/manual.
type ManualTriggerRequest struct {
	Name     string         `json:"name,omitempty"`
	EntityID string         `json:"entity_id"          validate:"required"`
	Data     map[string]any `json:"data,omitempty"`
}

// ResolveApprovalRequest is the body of POST /approvals/:id/resolve. The
// approver identity is established by the caller's authorization layer.
type ResolveApprovalRequest struct {
	Approver string `json:"approver" validate:"required"`
	Decision string `json:"decision" validate:"required,oneof=ACCEPT REJECT"`
}

// WorkflowSummary is one entry of GET /workflows.
type WorkflowSummary struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Version     int                `json:"version"`
	Priority    int                `json:"priority"`
	IsActive    bool               `json:"is_active"`
	TriggerType models.TriggerType `json:"trigger_type"`
	Actions     int                `json:"actions"`
}

// RejectedWorkflow reports a workflow excluded from the registry.
type RejectedWorkflow struct {
	WorkflowID string   `json:"workflow_id"`
	Problems   []string `json:"problems"`
}

// ReloadResponse is the body returned by POST /workflows/reload.
type ReloadResponse struct {
	Generation int64              `json:"generation"`
	Accepted   int                `json:"accepted"`
	Rejected   []RejectedWorkflow `json:"rejected"`
}

func (r SubmitEventRequest) toEvent(now time.Time) models.TriggerEvent {
	occurredAt := now
	if r.OccurredAt != nil {
		occurredAt = r.OccurredAt.UTC()
	}

	source := r.Source
	if source == "" {
		source = "api"
	}

	return models.TriggerEvent{
		ID:             r.ID,
		TriggerType:    models.TriggerType(r.TriggerType),
		OccurredAt:     occurredAt,
		EntitySnapshot: r.EntitySnapshot,
		CorrelationID:  r.CorrelationID,
		Source:         source,
	}
}

// toEvent builds a MANUAL event about EntityID. The entity id is also the
// correlation id, so manual runs serialize with other events on the subject.
func (r ManualTriggerRequest) toEvent(now time.Time) models.TriggerEvent {
	snapshot := make(map[string]any, len(r.Data)+2)
	for k, v := range r.Data {
		snapshot[k] = v
	}

	snapshot[models.SnapshotEntityID] = r.EntityID
	if r.Name != "" {
		snapshot[models.SnapshotTriggerName] = r.Name
	}

	return models.TriggerEvent{
		TriggerType:    models.TriggerManual,
		OccurredAt:     now,
		EntitySnapshot: snapshot,
		CorrelationID:  r.EntityID,
		Source:         "api",
	}
}

func summarize(w *models.Workflow) WorkflowSummary {
	return WorkflowSummary{
		ID:          w.ID,
		Name:        w.Name,
		Version:     w.Version,
		Priority:    w.Priority,
		IsActive:    w.IsActive,
		TriggerType: w.TriggerType,
		Actions:     len(w.Actions),
	}
}

func rejectedWorkflows(errs []*models.ConfigError) []RejectedWorkflow {
	out := make([]RejectedWorkflow, 0, len(errs))
	for _, e := range errs {
		out = append(out, RejectedWorkflow{WorkflowID: e.WorkflowID, Problems: e.Problems})
	}

	return out
}
