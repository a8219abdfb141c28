package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/Vovarama1992/finbot-ai-bridge/internal/ai"
)

type Delivery int

const (
	DeliverySingleShot Delivery = iota
	DeliveryStreamed
)

func (d Delivery) String() string {
	if d == DeliveryStreamed {
		return "streamed"
	}
	return "single-shot"
}

type Tier string

const (
	TierStream    Tier = "stream"
	TierAI        Tier = "ai"
	TierKnowledge Tier = "knowledge"
)

// Outcome нужен только для логов и меток, не для управления потоком.
type Outcome struct {
	Delivery Delivery
	Tier     Tier
	Updates  int
}

// Availability is read-only input: ingestion never feeds back into it.
type Availability interface {
	Available() bool
}

type Engine struct {
	store        *Store
	ai           ai.Capability
	availability Availability
	opts         ai.Options
}

func NewEngine(store *Store, capability ai.Capability, availability Availability, opts ai.Options) *Engine {
	return &Engine{
		store:        store,
		ai:           capability,
		availability: availability,
		opts:         opts,
	}
}

func (e *Engine) available() bool {
	return e.ai != nil && e.availability != nil && e.availability.Available()
}

// Ingest fills the bot message targetID with the answer to question.
// Streaming is tried first; any failure demotes to one complete answer written
// with a single update. The only error returned is ErrNotFound, when the
// target message no longer exists and the update had to be dropped.
func (e *Engine) Ingest(ctx context.Context, question, targetID string) (Outcome, error) {
	if e.available() {
		n, err := e.stream(ctx, question, targetID)
		if err == nil && n > 0 {
			return Outcome{Delivery: DeliveryStreamed, Tier: TierStream, Updates: n}, nil
		}
		if errors.Is(err, ErrNotFound) {
			return Outcome{Delivery: DeliveryStreamed, Tier: TierStream, Updates: n}, err
		}
		if err == nil {
			err = errors.New("stream produced no text")
		}
		log.Printf("[ingest] streaming failed for %s, will fallback to non-stream: %v", targetID, err)
	}

	answer, tier := e.fallback(ctx, question)

	if _, err := e.store.UpdateContent(ctx, targetID, Set(answer)); err != nil {
		return Outcome{Delivery: DeliverySingleShot, Tier: tier}, err
	}
	return Outcome{Delivery: DeliverySingleShot, Tier: tier, Updates: 1}, nil
}

// ------------------------------------------------------------
// streaming tier
// ------------------------------------------------------------

func (e *Engine) stream(ctx context.Context, question, targetID string) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ai.ErrStreamTransport, r)
		}
	}()

	opts := e.opts
	opts.Stream = true

	reply, err := e.ai.Chat(ctx, BuildPrompt(question), opts)
	if err != nil {
		return 0, err
	}
	if c, ok := reply.(io.Closer); ok {
		defer c.Close()
	}

	// формы взаимоисключающие, берём первую подошедшую
	switch r := reply.(type) {
	case ai.ChunkSequence:
		return e.pull(ctx, r, targetID)
	case ai.ReaderStream:
		return e.read(ctx, r.Reader(), targetID)
	case ai.Emitter:
		return e.listen(ctx, r, targetID)
	}
	return 0, fmt.Errorf("%w: %T", ai.ErrUnrecognizedShape, reply)
}

func (e *Engine) appendChunk(ctx context.Context, targetID, text string) (bool, error) {
	if text == "" {
		return false, nil
	}
	if _, err := e.store.UpdateContent(ctx, targetID, Append(text)); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) pull(ctx context.Context, seq ai.ChunkSequence, targetID string) (int, error) {
	n := 0
	for {
		part, err := seq.Next(ctx)
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, transportErr(err)
		}

		ok, err := e.appendChunk(ctx, targetID, ai.ChunkText(part))
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
}

const readBufferSize = 4096

func (e *Engine) read(ctx context.Context, r io.Reader, targetID string) (int, error) {
	if r == nil {
		return 0, fmt.Errorf("%w: nil reader", ai.ErrUnrecognizedShape)
	}

	// декодер держит недочитанные байты многобайтовых символов между чтениями
	dec := transform.NewReader(r, unicode.UTF8.NewDecoder())
	buf := make([]byte, readBufferSize)

	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, transportErr(err)
		}

		k, readErr := dec.Read(buf)
		if k > 0 {
			ok, err := e.appendChunk(ctx, targetID, string(buf[:k]))
			if err != nil {
				return n, err
			}
			if ok {
				n++
			}
		}
		if errors.Is(readErr, io.EOF) {
			return n, nil
		}
		if readErr != nil {
			return n, transportErr(readErr)
		}
	}
}

func (e *Engine) listen(ctx context.Context, em ai.Emitter, targetID string) (int, error) {
	var (
		mu      sync.Mutex
		n       int
		stopped atomic.Bool
		once    sync.Once
		done    = make(chan error, 1)
	)
	// после end/close/error поздние data игнорируются
	finish := func(err error) {
		once.Do(func() {
			stopped.Store(true)
			done <- err
		})
	}

	em.On(ai.EventData, func(part any) {
		defer func() {
			if r := recover(); r != nil {
				finish(fmt.Errorf("%w: panic: %v", ai.ErrStreamTransport, r))
			}
		}()

		mu.Lock()
		defer mu.Unlock()
		if stopped.Load() {
			return
		}
		ok, err := e.appendChunk(ctx, targetID, ai.ChunkText(part))
		if err != nil {
			finish(err)
			return
		}
		if ok {
			n++
		}
	})
	em.On(ai.EventEnd, func(any) { finish(nil) })
	em.On(ai.EventClose, func(any) { finish(nil) })
	em.On(ai.EventError, func(arg any) {
		finish(fmt.Errorf("%w: %v", ai.ErrStreamTransport, arg))
	})

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		stopped.Store(true)
		err = transportErr(ctx.Err())
	}

	mu.Lock()
	count := n
	mu.Unlock()

	return count, err
}

func transportErr(err error) error {
	if errors.Is(err, ai.ErrStreamTransport) {
		return err
	}
	return fmt.Errorf("%w: %w", ai.ErrStreamTransport, err)
}

// ------------------------------------------------------------
// fallback tier
// ------------------------------------------------------------

func (e *Engine) fallback(ctx context.Context, question string) (string, Tier) {
	if e.available() && ctx.Err() == nil {
		answer, err := e.complete(ctx, question)
		if err == nil && answer != "" {
			return answer, TierAI
		}
		if err == nil {
			err = errors.New("empty completion")
		}
		log.Printf("[ingest] AI error, using fallback: %v", err)
	}

	topic, answer := CannedAnswer(question)
	log.Printf("[ingest] knowledge base answer topic=%s", topic)
	return answer, TierKnowledge
}

func (e *Engine) complete(ctx context.Context, question string) (answer string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ai.ErrNonStream, r)
		}
	}()

	opts := e.opts
	opts.Stream = false

	reply, err := e.ai.Chat(ctx, BuildPrompt(question), opts)
	if err != nil {
		if errors.Is(err, ai.ErrNonStream) {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", ai.ErrNonStream, err)
	}
	if c, ok := reply.(io.Closer); ok {
		defer c.Close()
	}

	c, ok := reply.(ai.Completion)
	if !ok {
		return "", fmt.Errorf("%w: %T", ai.ErrUnrecognizedShape, reply)
	}
	return c.Content(), nil
}
