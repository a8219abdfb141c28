package ai

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MockClient — офлайн-заглушка для локальной разработки.
// Стрим отдаёт через Emitter, по слову.
type MockClient struct {
	Delay time.Duration
}

func NewMockClient() *MockClient {
	return &MockClient{Delay: 40 * time.Millisecond}
}

func (m *MockClient) Name() string { return "Mock AI" }

func (m *MockClient) Bootstrap(context.Context) error { return nil }

func (m *MockClient) Ready() bool { return true }

func (m *MockClient) Chat(ctx context.Context, prompt string, opts Options) (any, error) {
	answer := mockAnswer(prompt)
	if !opts.Stream {
		return Message{Text: answer}, nil
	}

	e := newEmitter()
	go func() {
		for _, word := range strings.SplitAfter(answer, " ") {
			select {
			case <-ctx.Done():
				e.emit(EventError, ctx.Err())
				return
			case <-time.After(m.Delay):
			}
			e.emit(EventData, word)
		}
		e.emit(EventEnd, nil)
	}()
	return e, nil
}

func mockAnswer(prompt string) string {
	q := prompt
	if i := strings.LastIndex(prompt, "Question: "); i >= 0 {
		q = prompt[i+len("Question: "):]
	}
	return fmt.Sprintf("• You asked: %q\n• This is a local mock reply, no hosted model was called.", q)
}

// emitter — минимальный push-источник. Обработчики можно вешать до или
// после старта; события, пришедшие до подписки, копятся.
type emitter struct {
	mu       sync.Mutex
	handlers map[string][]func(any)
	pending  []emitted
}

type emitted struct {
	event string
	arg   any
}

func newEmitter() *emitter {
	return &emitter{handlers: make(map[string][]func(any))}
}

func (e *emitter) On(event string, fn func(any)) {
	e.mu.Lock()
	e.handlers[event] = append(e.handlers[event], fn)
	var replay []emitted
	keep := e.pending[:0]
	for _, p := range e.pending {
		if p.event == event {
			replay = append(replay, p)
		} else {
			keep = append(keep, p)
		}
	}
	e.pending = keep
	e.mu.Unlock()

	for _, p := range replay {
		fn(p.arg)
	}
}

func (e *emitter) emit(event string, arg any) {
	e.mu.Lock()
	hs := append([]func(any){}, e.handlers[event]...)
	if len(hs) == 0 {
		e.pending = append(e.pending, emitted{event: event, arg: arg})
	}
	e.mu.Unlock()

	for _, fn := range hs {
		fn(arg)
	}
}
