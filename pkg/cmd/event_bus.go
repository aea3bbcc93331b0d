package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/custodychain/custodyflow/pkg/channels/gochannel"
	"github.com/custodychain/custodyflow/pkg/channels/kafka"
	"github.com/custodychain/custodyflow/pkg/eventbus"
)

const serviceName = "custodyflow"

// NewEventBus creates the event bus for provider. brokers is only read by kafka.
func NewEventBus(provider, brokers string, logger *slog.Logger) (*eventbus.WatermillEventBus, error) {
	adapter := watermill.NewSlogLogger(logger)

	switch provider {
	case "gochannel":
		pub, sub, err := gochannel.CreateChannel(adapter)
		if err != nil {
			return nil, fmt.Errorf("failed to create in-process pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub, logger), nil
	case "kafka":
		pub, sub, err := kafka.CreateChannel(adapter, kafka.ParseBrokers(brokers), serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub, logger), nil
	default:
		return nil, fmt.Errorf("%w: event bus %q", ErrUnsupportedProvider, provider)
	}
}
