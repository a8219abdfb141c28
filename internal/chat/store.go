package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"
)

const persistTimeout = 5 * time.Second

// Store владеет лентой целиком. Наружу отдаются только копии.
// Каждая успешная мутация сразу пишет полный снимок в slot.
type Store struct {
	mu       sync.RWMutex
	slot     Slot
	messages []Message
	index    map[string]int
	onChange func([]Message)
}

func NewStore(slot Slot) *Store {
	return &Store{
		slot:  slot,
		index: make(map[string]int),
	}
}

// OnChange registers a callback that receives a snapshot after every
// committed mutation. It is called with the store lock held and must not
// block or call back into the store.
func (s *Store) OnChange(fn func([]Message)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Load reads the persisted conversation. Missing or malformed data is
// replaced by fallback() and never reported; the returned error only means
// fallback itself was not a valid sequence.
func (s *Store) Load(ctx context.Context, fallback func() []Message) error {
	msgs, err := s.read(ctx)
	if err != nil {
		log.Printf("[store] %v, starting fresh", err)
		msgs = fallback()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.replaceLocked(msgs); err != nil {
		return err
	}
	s.notifyLocked()
	return nil
}

func (s *Store) read(ctx context.Context) ([]Message, error) {
	if s.slot == nil {
		return nil, fmt.Errorf("%w: no slot", ErrPersistenceRead)
	}
	data, err := s.slot.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceRead, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty slot", ErrPersistenceRead)
	}
	msgs, err := decodeMessages(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceRead, err)
	}
	return msgs, nil
}

func (s *Store) Append(ctx context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[msg.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateIdentity, msg.ID)
	}

	s.index[msg.ID] = len(s.messages)
	s.messages = append(s.messages, msg.clone())

	s.commitLocked(ctx)
	return nil
}

// UpdateContent applies fn to the content of the bot message id and returns
// the new content. User messages are never mutated.
func (s *Store) UpdateContent(ctx context.Context, id string, fn Mutator) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[id]
	if !ok || s.messages[i].Sender != SenderBot {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	s.messages[i].Content = fn(s.messages[i].Content)
	content := s.messages[i].Content

	s.commitLocked(ctx)
	return content, nil
}

// ReplaceAll swaps the whole conversation atomically and persists it.
func (s *Store) ReplaceAll(ctx context.Context, msgs []Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.replaceLocked(msgs); err != nil {
		return err
	}
	s.commitLocked(ctx)
	return nil
}

// Reset swaps the conversation and erases the persisted slot instead of
// writing the new sequence.
func (s *Store) Reset(ctx context.Context, msgs []Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.replaceLocked(msgs); err != nil {
		return err
	}

	if s.slot != nil {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
		defer cancel()
		if err := s.slot.Delete(ctx); err != nil {
			log.Printf("[store] %v: delete: %v", ErrPersistenceWrite, err)
		}
	}

	s.notifyLocked()
	return nil
}

func (s *Store) Snapshot() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneAll(s.messages)
}

func (s *Store) Get(id string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index[id]
	if !ok {
		return Message{}, false
	}
	return s.messages[i].clone(), true
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// ------------------------------------------------------------

func (s *Store) replaceLocked(msgs []Message) error {
	index := make(map[string]int, len(msgs))
	for i, m := range msgs {
		if _, ok := index[m.ID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateIdentity, m.ID)
		}
		index[m.ID] = i
	}
	s.messages = cloneAll(msgs)
	s.index = index
	return nil
}

// commitLocked пишет полный снимок, не дельту: падение между мутацией и
// записью теряет максимум последний ход.
func (s *Store) commitLocked(ctx context.Context) {
	if s.slot != nil {
		if err := s.persistLocked(ctx); err != nil {
			log.Printf("[store] %v", err)
		}
	}
	s.notifyLocked()
}

func (s *Store) persistLocked(ctx context.Context) error {
	data, err := encodeMessages(s.messages)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceWrite, err)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err := s.slot.Save(ctx, data); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceWrite, err)
	}
	return nil
}

func (s *Store) notifyLocked() {
	if s.onChange != nil {
		s.onChange(cloneAll(s.messages))
	}
}

func cloneAll(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.clone()
	}
	return out
}

// ------------------------------------------------------------
// Persisted layout
// ------------------------------------------------------------

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

type wireMessage struct {
	ID        *string  `json:"id"`
	Content   *string  `json:"content"`
	Sender    *string  `json:"sender"`
	Timestamp *string  `json:"timestamp"`
	Sources   []string `json:"sources,omitempty"`
}

func encodeMessages(msgs []Message) ([]byte, error) {
	out := make([]wireMessage, 0, len(msgs))
	for _, m := range msgs {
		id, content, sender := m.ID, m.Content, string(m.Sender)
		ts := m.Timestamp.UTC().Format(timestampLayout)
		out = append(out, wireMessage{
			ID:        &id,
			Content:   &content,
			Sender:    &sender,
			Timestamp: &ts,
			Sources:   m.Sources,
		})
	}
	return json.Marshal(out)
}

// decodeMessages принимает только полностью корректную ленту; любое
// несовпадение формы — ошибка, а не частичный результат.
func decodeMessages(data []byte) ([]Message, error) {
	var raw []wireMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty conversation")
	}

	seen := make(map[string]bool, len(raw))
	out := make([]Message, 0, len(raw))
	for i, w := range raw {
		if w.ID == nil || *w.ID == "" || w.Content == nil || w.Sender == nil || w.Timestamp == nil {
			return nil, fmt.Errorf("message %d: missing field", i)
		}
		sender := Sender(*w.Sender)
		if sender != SenderUser && sender != SenderBot {
			return nil, fmt.Errorf("message %d: unknown sender %q", i, *w.Sender)
		}
		ts, err := time.Parse(time.RFC3339Nano, *w.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("message %d: %v", i, err)
		}
		if seen[*w.ID] {
			return nil, fmt.Errorf("message %d: duplicate id %q", i, *w.ID)
		}
		seen[*w.ID] = true

		out = append(out, Message{
			ID:        *w.ID,
			Content:   *w.Content,
			Sender:    sender,
			Timestamp: ts,
			Sources:   w.Sources,
		})
	}
	return out, nil
}
