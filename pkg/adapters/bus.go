// Package adapters implements the engine's external collaborators: the
// notifier, the reward ledger and the subject state store.
package adapters

import (
	"context"
	"errors"
	"strings"

	"github.com/custodychain/custodyflow/pkg/eventbus"
	"github.com/custodychain/custodyflow/pkg/events"
)

var ErrNoRecipients = errors.New("notification has no recipient roles")

// BusNotifier hands NOTIFY and ALERT messages to the notification service
// as notification.requested commands.
type BusNotifier struct {
	publisher eventbus.EventPublisher
}

func NewBusNotifier(publisher eventbus.EventPublisher) *BusNotifier {
	return &BusNotifier{publisher: publisher}
}

func (n *BusNotifier) Notify(ctx context.Context, roles []string, message string) error {
	if len(roles) == 0 {
		return ErrNoRecipients
	}

	key := strings.Join(roles, ",")

	return n.publisher.Publish(ctx, key, events.NotificationRequested{
		BaseEvent: events.NewBaseEvent(events.NotificationRequestedEvent, ""),
		Roles:     roles,
		Message:   message,
	})
}

// BusLedger hands MINT_REWARD requests to the ledger service as
// reward.requested commands, keyed by recipient address.
type BusLedger struct {
	publisher eventbus.EventPublisher
}

func NewBusLedger(publisher eventbus.EventPublisher) *BusLedger {
	return &BusLedger{publisher: publisher}
}

func (l *BusLedger) MintReward(ctx context.Context, address string, amount float64, reason string) error {
	return l.publisher.Publish(ctx, address, events.RewardRequested{
		BaseEvent: events.NewBaseEvent(events.RewardRequestedEvent, ""),
		Address:   address,
		Amount:    amount,
		Reason:    reason,
	})
}

// BusStateStore publishes state.update.requested commands for deployments
// where the owning backend consumes updates from the bus.
type BusStateStore struct {
	publisher eventbus.EventPublisher
}

func NewBusStateStore(publisher eventbus.EventPublisher) *BusStateStore {
	return &BusStateStore{publisher: publisher}
}

func (s *BusStateStore) ApplyUpdate(ctx context.Context, entityID string, fields map[string]any) error {
	return s.publisher.Publish(ctx, entityID, events.StateUpdateRequested{
		BaseEvent: events.NewBaseEvent(events.StateUpdateRequestedEvent, entityID),
		EntityID:  entityID,
		Fields:    fields,
	})
}
