package models

import (
	"errors"
	"sort"
	"time"
)

// ApprovalState is the lifecycle state of an ApprovalRequest.
type ApprovalState string

const (
	ApprovalPending  ApprovalState = "PENDING"
	ApprovalApproved ApprovalState = "APPROVED"
	ApprovalRejected ApprovalState = "REJECTED"
	ApprovalExpired  ApprovalState = "EXPIRED"
)

// Decision is the verdict an approver submits.
type Decision string

const (
	DecisionAccept Decision = "ACCEPT"
	DecisionReject Decision = "REJECT"
)

// DefaultApprovalTimeout applies to APPROVE actions that configure no timeout.
const DefaultApprovalTimeout = 24 * time.Hour

var (
	// ErrApprovalClosed is returned when a decision targets a request in a terminal state.
	ErrApprovalClosed = errors.New("approval request is closed")

	// ErrInvalidDecision is returned for a decision other than ACCEPT or REJECT.
	ErrInvalidDecision = errors.New("invalid approval decision")
)

// ApprovalRequest is the multi-party sign-off created by an APPROVE action.
type ApprovalRequest struct {
	ID                string        `json:"id"                 validate:"required"`
	WorkflowID        string        `json:"workflow_id"`
	CorrelationID     string        `json:"correlation_id"     validate:"required"`
	RequiredApprovals int           `json:"required_approvals" validate:"min=1"`
	ApproverRoles     []string      `json:"approver_roles"`
	ReceivedApprovals []string      `json:"received_approvals"`
	RejectedBy        string        `json:"rejected_by,omitempty"`
	Deadline          time.Time     `json:"deadline"`
	State             ApprovalState `json:"state"`
	CreatedAt         time.Time     `json:"created_at"`
	ResolvedAt        *time.Time    `json:"resolved_at,omitempty"`
	Continuation      Continuation  `json:"continuation"`
}

// Continuation is the paused remainder of a workflow's action chain, stored by
// request id and resumed by lookup once the request reaches a terminal state.
type Continuation struct {
	WorkflowID      string         `json:"workflow_id"`
	WorkflowVersion int            `json:"workflow_version"`
	CorrelationID   string         `json:"correlation_id"`
	TriggerType     TriggerType    `json:"trigger_type"`
	NextAction      int            `json:"next_action"`
	Subject         map[string]any `json:"subject"`
}

// IsTerminal reports whether no further transitions are possible.
func (r *ApprovalRequest) IsTerminal() bool {
	return r.State != ApprovalPending
}

// HasApproved reports whether approver already counted towards the request.
func (r *ApprovalRequest) HasApproved(approver string) bool {
	for _, a := range r.ReceivedApprovals {
		if a == approver {
			return true
		}
	}

	return false
}

// Approve records an approval from approver. It returns true when the request
// state changed. Repeat approvals by the same identity are ignored.
func (r *ApprovalRequest) Approve(approver string, now time.Time) (bool, error) {
	if r.IsTerminal() {
		if r.State == ApprovalApproved && r.HasApproved(approver) {
			return false, nil
		}

		return false, ErrApprovalClosed
	}

	if r.HasApproved(approver) {
		return false, nil
	}

	r.ReceivedApprovals = append(r.ReceivedApprovals, approver)
	sort.Strings(r.ReceivedApprovals)

	if len(r.ReceivedApprovals) >= r.RequiredApprovals {
		r.close(ApprovalApproved, now)
	}

	return true, nil
}

// Reject closes the request as REJECTED. Rejecting an already rejected request is a no-op.
func (r *ApprovalRequest) Reject(approver string, now time.Time) (bool, error) {
	if r.IsTerminal() {
		if r.State == ApprovalRejected {
			return false, nil
		}

		return false, ErrApprovalClosed
	}

	r.RejectedBy = approver
	r.close(ApprovalRejected, now)

	return true, nil
}

// Expire closes the request as EXPIRED when its deadline has passed.
func (r *ApprovalRequest) Expire(now time.Time) bool {
	if r.IsTerminal() || !now.After(r.Deadline) {
		return false
	}

	r.close(ApprovalExpired, now)

	return true
}

func (r *ApprovalRequest) close(state ApprovalState, now time.Time) {
	r.State = state
	r.ResolvedAt = &now
}
