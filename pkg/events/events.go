// Package events defines the messages exchanged over the event bus: inbound
// trigger submissions, audit records and collaborator commands.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/custodychain/custodyflow/pkg/models"
)

type EventType string

// Topics.
const (
	TriggersTopic = "custodyflow.triggers" // Inbound trigger events
	AuditTopic    = "custodyflow.audit"    // Dispatch results and approval lifecycle
	CommandsTopic = "custodyflow.commands" // Requests for external collaborators
)

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Inbound.
	TriggerSubmittedEvent EventType = "trigger.submitted"

	// Audit.
	DispatchCompletedEvent EventType = "dispatch.completed"
	WorkflowResumedEvent   EventType = "workflow.resumed"
	ApprovalRequestedEvent EventType = "approval.requested"
	ApprovalResolvedEvent  EventType = "approval.resolved"

	// Collaborator commands.
	NotificationRequestedEvent EventType = "notification.requested"
	RewardRequestedEvent       EventType = "reward.requested"
	StateUpdateRequestedEvent  EventType = "state.update.requested"
)

// TopicFor returns the topic events of eventType travel on.
func TopicFor(eventType EventType) string {
	switch eventType {
	case TriggerSubmittedEvent:
		return TriggersTopic
	case NotificationRequestedEvent, RewardRequestedEvent, StateUpdateRequestedEvent:
		return CommandsTopic
	default:
		return AuditTopic
	}
}

type BaseEvent struct {
	ID            string         `json:"id"`
	Type          EventType      `json:"type"`
	Timestamp     time.Time      `json:"timestamp"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, correlationID string) BaseEvent {
	return BaseEvent{
		ID:            uuid.New().String(),
		Type:          eventType,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Metadata:      make(map[string]any),
	}
}

// TriggerSubmitted carries a trigger event from a producer (IoT ingestion,
// custody handling, manual API) to the engine.
type TriggerSubmitted struct {
	BaseEvent

	Trigger models.TriggerEvent `json:"trigger"`
}

func (e TriggerSubmitted) GetType() EventType {
	return TriggerSubmittedEvent
}

type DispatchCompleted struct {
	BaseEvent

	Result models.DispatchResult `json:"result"`
}

func (e DispatchCompleted) GetType() EventType {
	return DispatchCompletedEvent
}

type WorkflowResumed struct {
	BaseEvent

	ApprovalID string                `json:"approval_id"`
	Result     models.DispatchResult `json:"result"`
}

func (e WorkflowResumed) GetType() EventType {
	return WorkflowResumedEvent
}

type ApprovalRequested struct {
	BaseEvent

	Request models.ApprovalRequest `json:"request"`
}

func (e ApprovalRequested) GetType() EventType {
	return ApprovalRequestedEvent
}

type ApprovalResolved struct {
	BaseEvent

	Request models.ApprovalRequest `json:"request"`
}

func (e ApprovalResolved) GetType() EventType {
	return ApprovalResolvedEvent
}

type NotificationRequested struct {
	BaseEvent

	Roles   []string `json:"roles"`
	Message string   `json:"message"`
}

func (e NotificationRequested) GetType() EventType {
	return NotificationRequestedEvent
}

type RewardRequested struct {
	BaseEvent

	Address string  `json:"address"`
	Amount  float64 `json:"amount"`
	Reason  string  `json:"reason"`
}

func (e RewardRequested) GetType() EventType {
	return RewardRequestedEvent
}

type StateUpdateRequested struct {
	BaseEvent

	EntityID string         `json:"entity_id"`
	Fields   map[string]any `json:"fields"`
}

func (e StateUpdateRequested) GetType() EventType {
	return StateUpdateRequestedEvent
}

// New returns an empty event of eventType to decode a payload into.
func New(eventType EventType) (any, bool) {
	switch eventType {
	case TriggerSubmittedEvent:
		return &TriggerSubmitted{}, true
	case DispatchCompletedEvent:
		return &DispatchCompleted{}, true
	case WorkflowResumedEvent:
		return &WorkflowResumed{}, true
	case ApprovalRequestedEvent:
		return &ApprovalRequested{}, true
	case ApprovalResolvedEvent:
		return &ApprovalResolved{}, true
	case NotificationRequestedEvent:
		return &NotificationRequested{}, true
	case RewardRequestedEvent:
		return &RewardRequested{}, true
	case StateUpdateRequestedEvent:
		return &StateUpdateRequested{}, true
	default:
		return nil, false
	}
}
