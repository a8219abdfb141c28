package chat

import (
	"context"
	"log"
	"sync"

	"github.com/google/uuid"
)

const subscriberBufferSize = 64

// Broadcaster раздаёт свежие снимки ленты всем подписчикам (SSE, CLI).
// Publish не блокируется: если канал подписчика полон, снимок теряется,
// следующий всё равно несёт полное состояние.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]chan []Message
	closed      bool
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[string]chan []Message),
	}
}

// Subscribe registers a subscriber that is removed when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context) (<-chan []Message, string) {
	subID := uuid.New().String()
	ch := make(chan []Message, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	b.subscribers[subID] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.Unsubscribe(subID)
	}()

	return ch, subID
}

func (b *Broadcaster) Unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subscribers[subID]; ok {
		delete(b.subscribers, subID)
		close(ch)
	}
}

func (b *Broadcaster) Publish(snapshot []Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for subID, ch := range b.subscribers {
		select {
		case ch <- snapshot:
		default:
			log.Printf("[broadcast] subscriber %s full, snapshot dropped", subID)
		}
	}
}

func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for subID, ch := range b.subscribers {
		delete(b.subscribers, subID)
		close(ch)
	}
}
