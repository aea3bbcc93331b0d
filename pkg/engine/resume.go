package engine

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/custodychain/custodyflow/pkg/actions"
	"github.com/custodychain/custodyflow/pkg/log"
	"github.com/custodychain/custodyflow/pkg/models"
	"github.com/custodychain/custodyflow/pkg/otelhelper"
)

// HandleResolution resumes the continuation of a resolved approval request.
// It matches approval.ResolutionHandler.
func (e *Engine) HandleResolution(ctx context.Context, request *models.ApprovalRequest) {
	e.Resume(ctx, request)
}

// Resume continues a suspended action chain after its approval request reached
// a terminal state. An APPROVED request runs the remaining actions against the
// workflow version that opened it; REJECTED and EXPIRED requests end the
// workflow as NOT_APPROVED. The resumption holds the correlation lease like a
// dispatch, and mutations it makes re-inject follow-up events.
func (e *Engine) Resume(ctx context.Context, request *models.ApprovalRequest) *models.DispatchResult {
	continuation := request.Continuation

	result := &models.DispatchResult{
		EventID:         request.ID,
		TriggerType:     continuation.TriggerType,
		CorrelationID:   request.CorrelationID,
		Outcomes:        []models.WorkflowOutcome{},
		ResumedApproval: request.ID,
		StartedAt:       e.now(),
	}
	result.Transition(models.DispatchReceived)

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.resume",
		attribute.String(otelhelper.ApprovalIDKey, request.ID),
		attribute.String(otelhelper.WorkflowIDKey, continuation.WorkflowID),
		attribute.String(otelhelper.CorrelationIDKey, request.CorrelationID))
	defer span.End()

	logger := e.logger.With(
		"approval_id", request.ID,
		"workflow_id", continuation.WorkflowID,
		"correlation_id", request.CorrelationID,
		"approval_state", request.State)

	if !request.IsTerminal() {
		return e.fail(ctx, span, result, models.DispatchInvalid,
			fmt.Errorf("approval request %s is still %s", request.ID, request.State))
	}

	workflow, ok := e.continuationWorkflow(continuation)
	if !ok {
		logger.ErrorContext(ctx, "Workflow version of continuation is not retained",
			"workflow_version", continuation.WorkflowVersion)

		return e.fail(ctx, span, result, models.DispatchInvalid,
			fmt.Errorf("workflow %s version %d is not loaded", continuation.WorkflowID, continuation.WorkflowVersion))
	}

	if workflow.Version != continuation.WorkflowVersion {
		logger.WarnContext(ctx, "Resuming against the current workflow definition",
			"workflow_version", continuation.WorkflowVersion,
			"current_version", workflow.Version)
	}

	release, err := e.acquire(ctx, request.CorrelationID)
	if err != nil {
		logger.WarnContext(ctx, "Could not acquire correlation lease", "error", err)

		return e.fail(ctx, span, result, models.DispatchCancelled, err)
	}
	defer release()

	ctx = log.WithLogger(ctx, logger)

	result.Candidates = 1
	result.Transition(models.DispatchCandidatesSelected)
	result.Transition(models.DispatchExecuting)

	outcome := models.WorkflowOutcome{
		WorkflowID:      workflow.ID,
		WorkflowVersion: workflow.Version,
		WorkflowName:    workflow.Name,
		Priority:        workflow.Priority,
		CorrelationID:   request.CorrelationID,
		ApprovalID:      request.ID,
	}

	if request.State != models.ApprovalApproved {
		outcome.Status = models.WorkflowNotApproved
		outcome.Reason = "approval " + string(request.State)
		outcome.Actions = []models.ActionOutcome{{
			Index:      continuation.NextAction - 1,
			Type:       models.ActionApprove,
			Status:     models.ActionNotApproved,
			StartedAt:  request.CreatedAt,
			FinishedAt: e.now(),
		}}
		result.Outcomes = append(result.Outcomes, outcome)
		result.Transition(result.Conclude())

		logger.InfoContext(ctx, "Workflow not approved, remaining actions abandoned",
			"remaining", len(workflow.Actions)-continuation.NextAction)

		return e.finish(ctx, span, result)
	}

	execution := e.runner.Execute(ctx, actions.Plan{
		WorkflowID:      workflow.ID,
		WorkflowVersion: workflow.Version,
		CorrelationID:   request.CorrelationID,
		TriggerType:     continuation.TriggerType,
		EntityID:        models.TriggerEvent{EntitySnapshot: continuation.Subject, CorrelationID: request.CorrelationID}.EntityID(),
		Actions:         workflow.Actions,
		Start:           continuation.NextAction,
		Subject:         continuation.Subject,
	})

	outcome.Status = execution.Status
	outcome.Actions = execution.Outcomes

	if execution.Approval != nil {
		outcome.ApprovalID = execution.Approval.ID
	}

	result.Outcomes = append(result.Outcomes, outcome)

	logger.InfoContext(ctx, "Workflow resumed", "status", outcome.Status, "actions", len(outcome.Actions))

	if execution.Mutated() && ctx.Err() == nil && e.config.MaxChainDepth > 0 {
		follow := models.TriggerEvent{
			ID:             request.ID,
			TriggerType:    continuation.TriggerType,
			OccurredAt:     e.now().UTC(),
			EntitySnapshot: mergeSnapshot(continuation.Subject, execution.Mutations),
			CorrelationID:  request.CorrelationID,
		}

		e.runChain(ctx, result, follow, map[string]bool{workflow.ID: true}, 1)
	}

	result.Transition(result.Conclude())

	return e.finish(ctx, span, result)
}

// continuationWorkflow returns the version a continuation was suspended on.
// When that version is gone, e.g. after a restart, the current definition is
// used if it still gates the same action index with an APPROVE.
func (e *Engine) continuationWorkflow(continuation models.Continuation) (*models.Workflow, bool) {
	if workflow, ok := e.registry.Version(continuation.WorkflowID, continuation.WorkflowVersion); ok {
		return workflow, true
	}

	current, ok := e.registry.Get(continuation.WorkflowID)
	if !ok {
		return nil, false
	}

	gate := continuation.NextAction - 1
	if gate < 0 || gate >= len(current.Actions) || current.Actions[gate].Type != models.ActionApprove {
		return nil, false
	}

	return current, true
}
