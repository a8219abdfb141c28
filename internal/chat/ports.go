package chat

import (
	"context"
	"errors"
	"time"
)

type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

var (
	ErrDuplicateIdentity = errors.New("chat: duplicate message id")
	ErrNotFound          = errors.New("chat: bot message not found")
	ErrPersistenceRead   = errors.New("chat: persisted conversation unreadable")
	ErrPersistenceWrite  = errors.New("chat: persisting conversation failed")
)

// Message — одно сообщение в ленте. Меняется только Content у бота.
type Message struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
	Sources   []string  `json:"sources,omitempty"`
}

func (m Message) clone() Message {
	if m.Sources != nil {
		m.Sources = append([]string(nil), m.Sources...)
	}
	return m
}

// Slot — один ключ в key-value хранилище, куда целиком пишется лента.
type Slot interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
	Delete(ctx context.Context) error
	Close() error
}

// Mutator получает текущий текст и возвращает новый.
type Mutator func(content string) string

func Append(text string) Mutator {
	return func(content string) string { return content + text }
}

func Set(text string) Mutator {
	return func(string) string { return text }
}

// Turn — итог одной отправки.
type Turn struct {
	UserMessage  Message  `json:"user_message"`
	BotMessageID string   `json:"bot_message_id,omitempty"`
	Outcome      Outcome  `json:"-"`
	Apology      *Message `json:"apology,omitempty"`
}

type Status struct {
	Availability string `json:"availability"`
	Busy         bool   `json:"busy"`
	Input        string `json:"input"`
}

// Service — оркестрация хода: ввод -> заглушка бота -> ingest.
type Service interface {
	Submit(ctx context.Context, text string) (*Turn, error)
	Send(ctx context.Context) (*Turn, error)
	SetInput(text string)
	Input() string
	QuickFill(n int) (string, error)
	Clear(ctx context.Context) error
	Snapshot() []Message
	Status() Status
	Busy() bool
	Subscribe(ctx context.Context) (<-chan []Message, string)
	Close()
}
