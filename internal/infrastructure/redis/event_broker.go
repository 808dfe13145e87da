package redis

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"auction-marketplace/internal/domain"
	"auction-marketplace/pkg/logger"
)

// EventBroker publishes and consumes JSON events over Redis pub/sub channels named
// after the topics. Pub/sub is fire-and-forget, so delivery is at most once.
type EventBroker struct {
	client *redis.Client
	log    logger.Logger
}

func NewEventBroker(client *redis.Client, log logger.Logger) *EventBroker {
	return &EventBroker{
		client: client,
		log:    log,
	}
}

func (b *EventBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := b.client.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

func (b *EventBroker) Subscribe(ctx context.Context, handler domain.MessageHandler, topics ...string) error {
	pubsub := b.client.Subscribe(ctx, topics...)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to %v: %w", topics, err)
	}
	ch := pubsub.Channel()

	b.log.Info("Subscribed to broker topics", "topics", topics)

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if err := handler(msg.Channel, []byte(msg.Payload)); err != nil {
				b.log.Error("Failed to handle broker message", "topic", msg.Channel, "error", err)
			}

		case <-ctx.Done():
			b.log.Info("Broker subscription stopped", "topics", topics)
			return ctx.Err()
		}
	}
}
