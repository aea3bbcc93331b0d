package eventbus

import (
	"context"
	"log/slog"

	"github.com/custodychain/custodyflow/pkg/events"
	"github.com/custodychain/custodyflow/pkg/models"
)

// AuditPublisher publishes dispatch results and approval lifecycle changes
// to the audit topic, keyed by correlation id.
type AuditPublisher struct {
	publisher EventPublisher
	logger    *slog.Logger
}

func NewAuditPublisher(publisher EventPublisher, logger *slog.Logger) *AuditPublisher {
	return &AuditPublisher{
		publisher: publisher,
		logger:    logger.With("module", "audit"),
	}
}

// RecordDispatch publishes a dispatch.completed event, or workflow.resumed
// when the result comes from an approval resolution.
func (a *AuditPublisher) RecordDispatch(ctx context.Context, result *models.DispatchResult) error {
	var event Event

	if result.ResumedApproval != "" {
		event = events.WorkflowResumed{
			BaseEvent:  events.NewBaseEvent(events.WorkflowResumedEvent, result.CorrelationID),
			ApprovalID: result.ResumedApproval,
			Result:     *result,
		}
	} else {
		event = events.DispatchCompleted{
			BaseEvent: events.NewBaseEvent(events.DispatchCompletedEvent, result.CorrelationID),
			Result:    *result,
		}
	}

	return a.publisher.Publish(ctx, result.CorrelationID, event)
}

// ApprovalRequested announces a newly opened approval request to approvers.
func (a *AuditPublisher) ApprovalRequested(ctx context.Context, request *models.ApprovalRequest) error {
	return a.publisher.Publish(ctx, request.CorrelationID, events.ApprovalRequested{
		BaseEvent: events.NewBaseEvent(events.ApprovalRequestedEvent, request.CorrelationID),
		Request:   *request,
	})
}

// ApprovalResolved publishes the terminal state of an approval request. It
// matches approval.ResolutionHandler, so publish failures are only logged.
func (a *AuditPublisher) ApprovalResolved(ctx context.Context, request *models.ApprovalRequest) {
	err := a.publisher.Publish(ctx, request.CorrelationID, events.ApprovalResolved{
		BaseEvent: events.NewBaseEvent(events.ApprovalResolvedEvent, request.CorrelationID),
		Request:   *request,
	})
	if err != nil {
		a.logger.WarnContext(ctx, "Failed to publish approval resolution",
			"approval_id", request.ID, "state", request.State, "error", err)
	}
}
