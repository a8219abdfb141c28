package ai

import (
	"context"
	"errors"
	"io"
)

var (
	ErrBootstrap         = errors.New("ai: bootstrap failed")
	ErrUnavailable       = errors.New("ai: capability unavailable")
	ErrUnrecognizedShape = errors.New("ai: unrecognized reply shape")
	ErrStreamTransport   = errors.New("ai: stream transport error")
	ErrNonStream         = errors.New("ai: non-stream request failed")
)

// Options — параметры генерации, которые уходят вместе с промптом
type Options struct {
	Model       string
	MaxTokens   int
	Temperature float32
	Stream      bool
}

// Capability — внешний чат. Что вернётся, заранее неизвестно:
// Completion, ChunkSequence, ReaderStream или Emitter.
type Capability interface {
	Chat(ctx context.Context, prompt string, opts Options) (any, error)
}

// Loader — то, что умеет подняться один раз на старте и сказать, готово ли.
type Loader interface {
	Bootstrap(ctx context.Context) error
	Ready() bool
}

// Provider — адаптер целиком: чат + загрузка.
type Provider interface {
	Capability
	Loader
	Name() string
}

// ------------------------------------------------------------
// Reply shapes
// ------------------------------------------------------------

// Completion is a complete, non-streamed reply.
type Completion interface {
	Content() string
}

// ChunkSequence is pulled chunk by chunk until it returns io.EOF.
type ChunkSequence interface {
	Next(ctx context.Context) (any, error)
}

// ReaderStream exposes raw bytes of the reply as they arrive.
type ReaderStream interface {
	Reader() io.Reader
}

// Emitter pushes chunks to subscribed handlers.
// Events: "data", "end", "close", "error".
type Emitter interface {
	On(event string, fn func(any))
}

// TextPart is a structured chunk carrying a text field.
type TextPart interface {
	ChunkText() string
}

const (
	EventData  = "data"
	EventEnd   = "end"
	EventClose = "close"
	EventError = "error"
)

// ChunkText достаёт текст из чанка любого поддерживаемого вида.
func ChunkText(part any) string {
	switch p := part.(type) {
	case string:
		return p
	case []byte:
		return string(p)
	case TextPart:
		return p.ChunkText()
	case nil:
		return ""
	}
	return ""
}

// Message is a plain completion used by adapters.
type Message struct {
	Text string
}

func (m Message) Content() string { return m.Text }
