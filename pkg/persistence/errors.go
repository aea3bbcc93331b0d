// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates a workflow was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrScheduleNotFound indicates a schedule was not found by the given identifier.
	ErrScheduleNotFound = errors.New("schedule not found")

	// ErrApprovalNotFound indicates an approval request was not found by the given identifier.
	ErrApprovalNotFound = errors.New("approval request not found")
)

// WorkflowError wraps workflow-related errors with additional context.
type WorkflowError struct {
	Op         string // Operation being performed (e.g., "WorkflowByID", "SaveWorkflow")
	WorkflowID string
	Err        error
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("%s operation failed for workflow %s: %v", e.Op, e.WorkflowID, e.Err)
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for workflow errors.
func (e *WorkflowError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewWorkflowError creates a new workflow error with context.
func NewWorkflowError(op, workflowID string, err error) *WorkflowError {
	return &WorkflowError{
		Op:         op,
		WorkflowID: workflowID,
		Err:        err,
	}
}

// ApprovalError wraps approval-related errors with additional context.
type ApprovalError struct {
	Op        string
	RequestID string
	Err       error
}

func (e *ApprovalError) Error() string {
	return fmt.Sprintf("%s operation failed for approval request %s: %v", e.Op, e.RequestID, e.Err)
}

func (e *ApprovalError) Unwrap() error {
	return e.Err
}

func (e *ApprovalError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewApprovalError creates a new approval error with context.
func NewApprovalError(op, requestID string, err error) *ApprovalError {
	return &ApprovalError{
		Op:        op,
		RequestID: requestID,
		Err:       err,
	}
}

// IsWorkflowNotFound checks if an error indicates a workflow was not found.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsScheduleNotFound checks if an error indicates a schedule was not found.
func IsScheduleNotFound(err error) bool {
	return errors.Is(err, ErrScheduleNotFound)
}

// IsApprovalNotFound checks if an error indicates an approval request was not found.
func IsApprovalNotFound(err error) bool {
	return errors.Is(err, ErrApprovalNotFound)
}
