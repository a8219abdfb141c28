package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshotOf(ids ...string) []Message {
	out := make([]Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, botMsg(id))
	}
	return out
}

func receive(t *testing.T, ch <-chan []Message) []Message {
	t.Helper()
	select {
	case snap, ok := <-ch:
		require.True(t, ok, "channel closed")
		return snap
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for snapshot")
		return nil
	}
}

func TestBroadcaster_AllSubscribersReceive(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	ch1, _ := b.Subscribe(testContext(t))
	ch2, _ := b.Subscribe(testContext(t))

	b.Publish(snapshotOf("1", "2"))

	for _, ch := range []<-chan []Message{ch1, ch2} {
		snap := receive(t, ch)
		require.Len(t, snap, 2)
		assert.Equal(t, "2", snap[1].ID)
	}
}

func TestBroadcaster_UnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	ch, id := b.Subscribe(testContext(t))
	require.Equal(t, 1, b.SubscriberCount())

	b.Unsubscribe(id)
	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, b.SubscriberCount())

	b.Unsubscribe(id)
}

func TestBroadcaster_ContextCancelUnsubscribes(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscriber not removed after cancel")
	}
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestBroadcaster_FullSubscriberDoesNotBlock(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	slow, _ := b.Subscribe(testContext(t))
	fast, _ := b.Subscribe(testContext(t))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBufferSize*2; i++ {
			b.Publish(snapshotOf("x"))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	assert.Len(t, slow, subscriberBufferSize)
	assert.Len(t, fast, subscriberBufferSize)
}

func TestBroadcaster_CloseClosesAll(t *testing.T) {
	b := NewBroadcaster()

	ch1, _ := b.Subscribe(testContext(t))
	ch2, _ := b.Subscribe(testContext(t))
	b.Close()
	b.Close()

	for _, ch := range []<-chan []Message{ch1, ch2} {
		_, ok := <-ch
		assert.False(t, ok)
	}

	late, _ := b.Subscribe(testContext(t))
	_, ok := <-late
	assert.False(t, ok, "subscribe after close returns a closed channel")

	b.Publish(snapshotOf("1"))
}

func TestBroadcaster_ConcurrentPublishAndSubscribe(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			ch, _ := b.Subscribe(ctx)
			go func() {
				for range ch {
				}
			}()
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				b.Publish(snapshotOf("a"))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 8, b.SubscriberCount())
}
