package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerDeliversSubscribedTopics(t *testing.T) {
	b := NewBroker(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan string, 4)
	go func() {
		_ = b.Subscribe(ctx, func(topic string, payload []byte) error {
			got <- topic + ":" + string(payload)
			return nil
		}, "t1")
	}()

	require.Eventually(t, func() bool {
		b.mu.RLock()
		defer b.mu.RUnlock()
		return len(b.subscribers["t1"]) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, b.Publish(ctx, "t2", []byte("ignored")))
	require.NoError(t, b.Publish(ctx, "t1", []byte("hello")))

	select {
	case msg := <-got:
		assert.Equal(t, "t1:hello", msg)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}

	cancel()
	require.Eventually(t, func() bool {
		b.mu.RLock()
		defer b.mu.RUnlock()
		return len(b.subscribers["t1"]) == 0
	}, time.Second, 5*time.Millisecond)
}
