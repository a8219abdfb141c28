package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Vovarama1992/finbot-ai-bridge/internal/availability"
)

var errStaleTurn = errors.New("chat: conversation was cleared during the turn")

// Monitor is the part of the availability monitor the controller reads.
type Monitor interface {
	Available() bool
	State() availability.State
}

type service struct {
	store       *Store
	engine      *Engine
	monitor     Monitor
	provider    string
	broadcaster *Broadcaster
	ids         idGen
	now         func() time.Time

	mu         sync.Mutex
	input      string
	generation uint64
	nextTurn   uint64
	turns      map[uint64]context.CancelFunc

	inflight atomic.Int32
}

// NewService expects store to be loaded already.
func NewService(store *Store, engine *Engine, monitor Monitor, provider string) Service {
	s := &service{
		store:       store,
		engine:      engine,
		monitor:     monitor,
		provider:    provider,
		broadcaster: NewBroadcaster(),
		now:         time.Now,
		turns:       make(map[uint64]context.CancelFunc),
	}
	s.ids.Observe(store.Snapshot())
	store.OnChange(s.broadcaster.Publish)
	return s
}

// Greeting is the single message a fresh conversation starts with.
func Greeting(now time.Time) Message {
	return Message{
		ID:        "1",
		Content:   GreetingText,
		Sender:    SenderBot,
		Timestamp: stamp(now),
		Sources:   []string{SourceGreeting},
	}
}

// DefaultConversation is the Store.Load fallback.
func DefaultConversation() []Message {
	return []Message{Greeting(time.Now())}
}

// stamp — точность как у Date: миллисекунды, без монотонной части
func stamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

func (s *service) Submit(ctx context.Context, text string) (*Turn, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	log.Printf("[svc] submit text=%q", short(text))

	now := s.now()
	userMsg := Message{
		ID:        s.ids.Next(now),
		Content:   text,
		Sender:    SenderUser,
		Timestamp: stamp(now),
	}

	s.mu.Lock()
	if err := s.store.Append(ctx, userMsg); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.input = ""
	gen := s.generation
	turnID := s.nextTurn
	s.nextTurn++
	turnCtx, cancel := context.WithCancel(ctx)
	s.turns[turnID] = cancel
	s.mu.Unlock()

	s.inflight.Add(1)
	defer func() {
		s.mu.Lock()
		delete(s.turns, turnID)
		s.mu.Unlock()
		cancel()
		s.inflight.Add(-1)
	}()

	turn := &Turn{UserMessage: userMsg}

	err := s.runTurn(turnCtx, gen, text, turn)
	if err == nil {
		return turn, nil
	}

	if s.stale(gen) {
		log.Printf("[svc] turn %s dropped: %v", userMsg.ID, err)
		return turn, nil
	}

	log.Printf("[svc] turn %s failed: %v", userMsg.ID, err)

	apology := Message{
		ID:        s.ids.Next(s.now()),
		Content:   apologyText(text),
		Sender:    SenderBot,
		Timestamp: stamp(s.now()),
		Sources:   []string{SourceErrorHandler},
	}
	if err := s.appendCurrent(ctx, gen, apology); err != nil {
		if errors.Is(err, errStaleTurn) {
			return turn, nil
		}
		return turn, err
	}
	turn.Apology = &apology
	return turn, nil
}

func (s *service) runTurn(ctx context.Context, gen uint64, question string, turn *Turn) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	now := s.now()
	placeholder := Message{
		ID:        s.ids.Next(now),
		Content:   "",
		Sender:    SenderBot,
		Timestamp: stamp(now),
		Sources:   s.sources(),
	}
	if err := s.appendCurrent(ctx, gen, placeholder); err != nil {
		return err
	}
	turn.BotMessageID = placeholder.ID

	outcome, err := s.engine.Ingest(ctx, question, placeholder.ID)
	turn.Outcome = outcome
	if err != nil {
		return err
	}

	log.Printf("[svc] reply %s delivered %s via %s (%d updates)",
		placeholder.ID, outcome.Delivery, outcome.Tier, outcome.Updates,
	)
	return nil
}

// appendCurrent добавляет сообщение, только если ленту не очистили
// с начала хода gen.
func (s *service) appendCurrent(ctx context.Context, gen uint64, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation != gen {
		return errStaleTurn
	}
	return s.store.Append(ctx, msg)
}

func (s *service) stale(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation != gen
}

func (s *service) sources() []string {
	if s.monitor != nil && s.monitor.Available() {
		return []string{s.provider, SourceFinBot}
	}
	return []string{SourceKnowledgeBase}
}

func (s *service) Send(ctx context.Context) (*Turn, error) {
	return s.Submit(ctx, s.Input())
}

func (s *service) SetInput(text string) {
	s.mu.Lock()
	s.input = text
	s.mu.Unlock()
}

func (s *service) Input() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.input
}

// QuickFill puts quick question n (1-based) into the input buffer.
func (s *service) QuickFill(n int) (string, error) {
	if n < 1 || n > len(QuickQuestions) {
		return "", fmt.Errorf("quick question %d out of range 1..%d", n, len(QuickQuestions))
	}
	q := QuickQuestions[n-1]
	s.SetInput(q)
	return q, nil
}

// Clear replaces the conversation with a fresh greeting, erases the persisted
// slot and cancels every turn still in flight.
func (s *service) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generation++
	for _, cancel := range s.turns {
		cancel()
	}

	log.Printf("[svc] clear, %d turns cancelled", len(s.turns))
	return s.store.Reset(ctx, []Message{Greeting(s.now())})
}

func (s *service) Snapshot() []Message {
	return s.store.Snapshot()
}

func (s *service) Busy() bool {
	return s.inflight.Load() > 0
}

func (s *service) Status() Status {
	state := availability.Unavailable
	if s.monitor != nil {
		state = s.monitor.State()
	}
	return Status{
		Availability: state.String(),
		Busy:         s.Busy(),
		Input:        s.Input(),
	}
}

func (s *service) Subscribe(ctx context.Context) (<-chan []Message, string) {
	return s.broadcaster.Subscribe(ctx)
}

func (s *service) Close() {
	s.mu.Lock()
	for _, cancel := range s.turns {
		cancel()
	}
	s.mu.Unlock()
	s.broadcaster.Close()
}

func short(s string) string {
	if len(s) > 180 {
		return s[:180] + "..."
	}
	return s
}
