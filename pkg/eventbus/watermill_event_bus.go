package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/custodychain/custodyflow/pkg/events"
)

type WatermillEventBus struct {
	logger        *slog.Logger
	publisher     message.Publisher
	subscriber    message.Subscriber
	mu            sync.RWMutex
	subscriptions map[events.EventType]EventHandler
	subscribed    bool
	closed        bool
}

func NewWatermillEventBus(pub message.Publisher, sub message.Subscriber, logger *slog.Logger) *WatermillEventBus {
	return &WatermillEventBus{
		logger:        logger.With("module", "eventbus"),
		publisher:     pub,
		subscriber:    sub,
		subscriptions: make(map[events.EventType]EventHandler),
	}
}

func (eb *WatermillEventBus) GenerateID() string {
	return watermill.NewULID()
}

// Publish sends event to the topic of its type. The key is carried in the
// message metadata and used as the partition key by keyed transports.
func (eb *WatermillEventBus) Publish(ctx context.Context, key string, event Event) error {
	eb.mu.RLock()
	closed := eb.closed
	eb.mu.RUnlock()

	if closed {
		return ErrBusClosed
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event.GetType(), err)
	}

	msg := message.NewMessage("msg-"+eb.GenerateID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(events.EventMetadataKey, key)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.GetType()))

	return eb.publisher.Publish(events.TopicFor(event.GetType()), msg)
}

// Handle registers the handler for eventType. Handlers must be registered
// before Subscribe.
func (eb *WatermillEventBus) Handle(eventType events.EventType, handler EventHandler) error {
	if _, ok := events.New(eventType); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEventType, eventType)
	}

	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.subscribed {
		return ErrAlreadySubscribed
	}

	eb.subscriptions[eventType] = handler

	return nil
}

// Subscribe starts one consumer per topic carrying a handled event type.
// Consumers stop when ctx is cancelled or the bus is closed.
func (eb *WatermillEventBus) Subscribe(ctx context.Context) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return ErrBusClosed
	}

	if eb.subscribed {
		return ErrAlreadySubscribed
	}

	topics := make(map[string]bool)
	for eventType := range eb.subscriptions {
		topics[events.TopicFor(eventType)] = true
	}

	for topic := range topics {
		messages, err := eb.subscriber.Subscribe(ctx, topic)
		if err != nil {
			return fmt.Errorf("subscribe to %s: %w", topic, err)
		}

		go eb.consume(ctx, topic, messages)
	}

	eb.subscribed = true

	return nil
}

func (eb *WatermillEventBus) consume(ctx context.Context, topic string, messages <-chan *message.Message) {
	logger := eb.logger.With("topic", topic)

	for msg := range messages {
		eventType := events.EventType(msg.Metadata.Get(events.EventTypeMetadataKey))

		eb.mu.RLock()
		handler, exists := eb.subscriptions[eventType]
		eb.mu.RUnlock()

		if !exists {
			msg.Ack()

			continue
		}

		event, _ := events.New(eventType)

		if err := json.Unmarshal(msg.Payload, event); err != nil {
			// Undecodable payloads would be redelivered forever.
			logger.ErrorContext(ctx, "Dropping undecodable event",
				"message_id", msg.UUID, "event_type", eventType, "error", err)
			msg.Ack()

			continue
		}

		if err := handler(ctx, event); err != nil {
			logger.WarnContext(ctx, "Event handler failed, message will be redelivered",
				"message_id", msg.UUID, "event_type", eventType, "error", err)
			msg.Nack()

			continue
		}

		msg.Ack()
	}
}

func (eb *WatermillEventBus) Close() error {
	eb.mu.Lock()
	if eb.closed {
		eb.mu.Unlock()

		return nil
	}
	eb.closed = true
	eb.mu.Unlock()

	err := eb.publisher.Close()
	if err != nil {
		return err
	}

	return eb.subscriber.Close()
}
