package chat

import (
	"strconv"
	"sync"
	"time"
)

// idGen выдаёт id из времени отправки в миллисекундах, строго по возрастанию:
// два сообщения в одну миллисекунду не получат один id.
type idGen struct {
	mu   sync.Mutex
	last int64
}

func (g *idGen) Next(now time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := now.UnixMilli()
	if ms <= g.last {
		ms = g.last + 1
	}
	g.last = ms
	return strconv.FormatInt(ms, 10)
}

// Observe raises the floor above every numeric id already in msgs.
func (g *idGen) Observe(msgs []Message) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, m := range msgs {
		if v, err := strconv.ParseInt(m.ID, 10, 64); err == nil && v > g.last {
			g.last = v
		}
	}
}
