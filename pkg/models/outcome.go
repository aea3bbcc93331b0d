package models

import "time"

// ActionStatus is the result of a single action.
type ActionStatus string

const (
	ActionSucceeded   ActionStatus = "SUCCEEDED"
	ActionFailed      ActionStatus = "FAILED"
	ActionSkipped     ActionStatus = "SKIPPED"
	ActionSuspended   ActionStatus = "SUSPENDED"
	ActionNotApproved ActionStatus = "NOT_APPROVED"
	ActionCancelled   ActionStatus = "CANCELLED"
)

// ActionOutcome records what happened to one action of a chain.
type ActionOutcome struct {
	Index      int            `json:"index"`
	Type       ActionType     `json:"type"`
	Status     ActionStatus   `json:"status"`
	Error      string         `json:"error,omitempty"`
	Mutation   map[string]any `json:"mutation,omitempty"`
	ApprovalID string         `json:"approval_id,omitempty"`
	// BestEffort outcomes never degrade the workflow status when they fail.
	BestEffort bool      `json:"best_effort,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// WorkflowStatus is the terminal status of one workflow within a dispatch.
type WorkflowStatus string

const (
	WorkflowCompleted        WorkflowStatus = "COMPLETED"
	WorkflowCompletedPartial WorkflowStatus = "COMPLETED_PARTIAL"
	WorkflowSkipped          WorkflowStatus = "SKIPPED"
	WorkflowRejectedCycle    WorkflowStatus = "REJECTED_CYCLE"
	WorkflowSuspended        WorkflowStatus = "SUSPENDED"
	WorkflowNotApproved      WorkflowStatus = "NOT_APPROVED"
	WorkflowCancelled        WorkflowStatus = "CANCELLED"
)

// WorkflowOutcome aggregates the action outcomes of one workflow.
type WorkflowOutcome struct {
	WorkflowID      string          `json:"workflow_id"`
	WorkflowVersion int             `json:"workflow_version"`
	WorkflowName    string          `json:"workflow_name"`
	Priority        int             `json:"priority"`
	CorrelationID   string          `json:"correlation_id"`
	Depth           int             `json:"depth"`
	Status          WorkflowStatus  `json:"status"`
	Reason          string          `json:"reason,omitempty"`
	Actions         []ActionOutcome `json:"actions,omitempty"`
	ApprovalID      string          `json:"approval_id,omitempty"`
}

// SummarizeActions derives a workflow status from its action outcomes.
func SummarizeActions(outcomes []ActionOutcome) WorkflowStatus {
	status := WorkflowCompleted

	for _, o := range outcomes {
		switch o.Status {
		case ActionCancelled:
			return WorkflowCancelled
		case ActionSuspended:
			return WorkflowSuspended
		case ActionNotApproved:
			return WorkflowNotApproved
		case ActionFailed:
			if o.Type == ActionApprove {
				return WorkflowNotApproved
			}

			if !o.BestEffort {
				status = WorkflowCompletedPartial
			}
		}
	}

	return status
}

// DispatchState is a state of the per-dispatch state machine.
type DispatchState string

const (
	DispatchReceived           DispatchState = "RECEIVED"
	DispatchCandidatesSelected DispatchState = "CANDIDATES_SELECTED"
	DispatchEvaluating         DispatchState = "EVALUATING"
	DispatchExecuting          DispatchState = "EXECUTING"
	DispatchCompleted          DispatchState = "COMPLETED"
	DispatchCompletedPartial   DispatchState = "COMPLETED_PARTIAL"
	DispatchSkipped            DispatchState = "SKIPPED"
	DispatchRejectedCycle      DispatchState = "REJECTED_CYCLE"
	DispatchCancelled          DispatchState = "CANCELLED"
	DispatchInvalid            DispatchState = "INVALID"
)

// IsTerminal reports whether s ends the dispatch.
func (s DispatchState) IsTerminal() bool {
	switch s {
	case DispatchCompleted, DispatchCompletedPartial, DispatchSkipped, DispatchRejectedCycle, DispatchCancelled, DispatchInvalid:
		return true
	default:
		return false
	}
}

// DispatchResult is returned to the caller of a dispatch for audit logging.
// ResumedApproval is set when the result comes from a resumed continuation.
type DispatchResult struct {
	EventID         string            `json:"event_id"`
	TriggerType     TriggerType       `json:"trigger_type"`
	CorrelationID   string            `json:"correlation_id"`
	State           DispatchState     `json:"state"`
	Transitions     []DispatchState   `json:"transitions"`
	Candidates      int               `json:"candidates"`
	Outcomes        []WorkflowOutcome `json:"outcomes"`
	Error           string            `json:"error,omitempty"`
	ResumedApproval string            `json:"resumed_approval,omitempty"`
	StartedAt       time.Time         `json:"started_at"`
	FinishedAt      time.Time         `json:"finished_at"`
}

// Transition moves the dispatch into state s and records it.
func (r *DispatchResult) Transition(s DispatchState) {
	r.State = s
	r.Transitions = append(r.Transitions, s)
}

// Conclude derives the terminal state from the recorded outcomes.
func (r *DispatchResult) Conclude() DispatchState {
	if len(r.Outcomes) == 0 {
		return DispatchSkipped
	}

	executed := false
	partial := false
	cancelled := false
	cycles := 0

	for _, o := range r.Outcomes {
		switch o.Status {
		case WorkflowSkipped:
		case WorkflowRejectedCycle:
			cycles++
		case WorkflowCancelled:
			cancelled = true
		case WorkflowCompletedPartial:
			executed = true
			partial = true
		default:
			executed = true
		}
	}

	switch {
	case cancelled:
		return DispatchCancelled
	case partial:
		return DispatchCompletedPartial
	case executed:
		return DispatchCompleted
	case cycles > 0:
		return DispatchRejectedCycle
	default:
		return DispatchSkipped
	}
}

// Outcome returns the first outcome recorded for workflowID at depth.
func (r *DispatchResult) Outcome(workflowID string, depth int) (WorkflowOutcome, bool) {
	for _, o := range r.Outcomes {
		if o.WorkflowID == workflowID && o.Depth == depth {
			return o, true
		}
	}

	return WorkflowOutcome{}, false
}
