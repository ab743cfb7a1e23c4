package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func receive[K key, M message](t *testing.T, ch <-chan Message[K, M]) Message[K, M] {
	t.Helper()
	select {
	case msg, ok := <-ch:
		require.True(t, ok, "channel closed")
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
	return Message[K, M]{}
}

func TestPublishSubscribe(t *testing.T) {
	b := NewBus[string, int](zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	all := b.Subscribe(ctx)
	left := b.Subscribe(ctx, "left")

	b.Publish("right", 1)
	b.CreatePublisher("left")(2)

	assert.Equal(t, Message[string, int]{Key: "right", Message: 1}, receive(t, all))
	assert.Equal(t, Message[string, int]{Key: "left", Message: 2}, receive(t, all))
	assert.Equal(t, Message[string, int]{Key: "left", Message: 2}, receive(t, left))
	assert.Equal(t, uint64(2), b.Published())
	assert.Zero(t, b.Dropped())
}

func TestPublishDoesNotBlock(t *testing.T) {
	b := NewBus[string, int](zaptest.NewLogger(t), WithBufferSize(2))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := b.Subscribe(ctx, "k")
	for i := 0; i < 5; i++ {
		b.Publish("k", i)
	}
	assert.Equal(t, uint64(3), b.Dropped())
	assert.Equal(t, 0, receive(t, ch).Message)
	assert.Equal(t, 1, receive(t, ch).Message)
}

func TestUnsubscribeOnCancel(t *testing.T) {
	b := NewBus[string, int](zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	ch := b.CreateSubscriber("k")(ctx)
	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		_, ok := b.keySubs.Load("k")
		return !ok
	}, time.Second, time.Millisecond)

	// publishing after close must not panic
	b.Publish("k", 1)
}
