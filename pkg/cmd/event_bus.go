package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/marzen/tandem/pkg/channels/gochannel"
	"github.com/marzen/tandem/pkg/channels/kafka"
	"github.com/marzen/tandem/pkg/eventbus"
)

func NewEventBus(provider string, logger *slog.Logger, topic string) eventbus.EventBus {
	switch provider {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(watermill.NewSlogLogger(logger), "tandem")
		if err != nil {
			panic(fmt.Errorf("failed to create Kafka pub/sub: %w", err))
		}

		return eventbus.NewWatermillEventBus(pub, sub, topic)
	case "gochannel":
		pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
		if err != nil {
			panic(fmt.Errorf("failed to create gochannel pub/sub: %w", err))
		}

		return eventbus.NewWatermillEventBus(pub, sub, topic)
	default:
		panic("Unsupported event bus provider: " + provider)
	}
}
