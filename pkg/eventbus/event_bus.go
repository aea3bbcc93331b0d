// Package eventbus carries custodyflow events over watermill publishers and
// subscribers.
package eventbus

import (
	"context"
	"errors"

	"github.com/custodychain/custodyflow/pkg/events"
)

var (
	ErrBusClosed         = errors.New("event bus is closed")
	ErrUnknownEventType  = errors.New("unknown event type")
	ErrAlreadySubscribed = errors.New("event bus already subscribed")
)

type Event interface {
	GetType() events.EventType
}

type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}
