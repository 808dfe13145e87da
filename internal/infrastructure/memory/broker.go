package memory

import (
	"context"
	"sync"

	"auction-marketplace/internal/domain"
)

// Broker is an in-process domain.EventBroker. Delivery is best-effort: a subscriber
// whose buffer is full misses the message, matching the at-most-once broker contract.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string][]chan message
	bufferSize  int
}

type message struct {
	topic   string
	payload []byte
}

func NewBroker(bufferSize int) *Broker {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Broker{subscribers: make(map[string][]chan message), bufferSize: bufferSize}
}

func (b *Broker) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers[topic] {
		select {
		case ch <- message{topic: topic, payload: payload}:
		default:
		}
	}
	return nil
}

func (b *Broker) Subscribe(ctx context.Context, handler domain.MessageHandler, topics ...string) error {
	ch := make(chan message, b.bufferSize)

	b.mu.Lock()
	for _, topic := range topics {
		b.subscribers[topic] = append(b.subscribers[topic], ch)
	}
	b.mu.Unlock()

	defer b.unsubscribe(ch, topics)

	for {
		select {
		case msg := <-ch:
			_ = handler(msg.topic, msg.payload)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (b *Broker) unsubscribe(ch chan message, topics []string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, topic := range topics {
		subs := b.subscribers[topic]
		for i, existing := range subs {
			if existing == ch {
				b.subscribers[topic] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
}
