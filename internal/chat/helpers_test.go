package chat

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Vovarama1992/finbot-ai-bridge/internal/ai"
	"github.com/Vovarama1992/finbot-ai-bridge/internal/availability"
)

// staticAvailability — монитор с зафиксированным состоянием
type staticAvailability struct {
	state availability.State
}

func (a staticAvailability) Available() bool           { return a.state == availability.Available }
func (a staticAvailability) State() availability.State { return a.state }

var (
	up   = staticAvailability{state: availability.Available}
	down = staticAvailability{state: availability.Unavailable}
)

// fakeCapability returns canned replies for stream and non-stream calls.
type fakeCapability struct {
	mu sync.Mutex

	streamReply any
	streamErr   error
	streamPanic bool

	completeReply any
	completeErr   error

	streamCalls   int
	completeCalls int
	prompts       []string
	opts          []ai.Options
}

func (f *fakeCapability) Chat(_ context.Context, prompt string, opts ai.Options) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.prompts = append(f.prompts, prompt)
	f.opts = append(f.opts, opts)

	if opts.Stream {
		f.streamCalls++
		if f.streamPanic {
			panic("sdk exploded")
		}
		return f.streamReply, f.streamErr
	}
	f.completeCalls++
	return f.completeReply, f.completeErr
}

func (f *fakeCapability) calls() (stream, complete int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streamCalls, f.completeCalls
}

// chunkSeq is a pull-based reply; failAt >= 0 returns errAt after that many chunks.
type chunkSeq struct {
	parts  []any
	pos    int
	failAt int
	errAt  error
	closed bool
}

func newChunkSeq(parts ...any) *chunkSeq {
	return &chunkSeq{parts: parts, failAt: -1}
}

func (s *chunkSeq) Next(context.Context) (any, error) {
	if s.failAt >= 0 && s.pos == s.failAt {
		return nil, s.errAt
	}
	if s.pos >= len(s.parts) {
		return nil, io.EOF
	}
	p := s.parts[s.pos]
	s.pos++
	return p, nil
}

func (s *chunkSeq) Close() error {
	s.closed = true
	return nil
}

type textPart struct{ text string }

func (p textPart) ChunkText() string { return p.text }

// readerReply is a reader-shaped reply.
type readerReply struct {
	r io.Reader
}

func (r readerReply) Reader() io.Reader { return r.r }

// byteAtATime hands out one byte per Read, to split multi-byte runes.
type byteAtATime struct {
	data []byte
}

func (b *byteAtATime) Read(p []byte) (int, error) {
	if len(b.data) == 0 {
		return 0, io.EOF
	}
	p[0] = b.data[0]
	b.data = b.data[1:]
	return 1, nil
}

// failingReader returns data then a transport error.
type failingReader struct {
	data []byte
	err  error
}

func (f *failingReader) Read(p []byte) (int, error) {
	if len(f.data) == 0 {
		return 0, f.err
	}
	n := copy(p, f.data)
	f.data = f.data[n:]
	return n, nil
}

// scriptedEmitter fires its script from a goroutine once "end"/"close" or
// "error" handlers are attached.
type scriptedEmitter struct {
	mu       sync.Mutex
	handlers map[string][]func(any)
	script   []emitStep
	started  bool
}

type emitStep struct {
	event string
	arg   any
}

func newScriptedEmitter(steps ...emitStep) *scriptedEmitter {
	return &scriptedEmitter{handlers: make(map[string][]func(any)), script: steps}
}

func (e *scriptedEmitter) On(event string, fn func(any)) {
	e.mu.Lock()
	e.handlers[event] = append(e.handlers[event], fn)
	ready := !e.started && len(e.handlers[ai.EventError]) > 0
	if ready {
		e.started = true
	}
	e.mu.Unlock()

	if ready {
		go e.run()
	}
}

func (e *scriptedEmitter) run() {
	for _, step := range e.script {
		e.mu.Lock()
		hs := append([]func(any){}, e.handlers[step.event]...)
		e.mu.Unlock()
		for _, fn := range hs {
			fn(step.arg)
		}
	}
}

func contentOf(t *testing.T, s *Store, id string) string {
	t.Helper()
	m, ok := s.Get(id)
	require.True(t, ok, "message %s not in store", id)
	return m.Content
}

// contentHistory records the content of one message after every change.
type contentHistory struct {
	mu     sync.Mutex
	id     string
	values []string
}

func watchContent(s *Store, id string) *contentHistory {
	h := &contentHistory{id: id}
	s.OnChange(func(snap []Message) {
		for _, m := range snap {
			if m.ID == id {
				h.mu.Lock()
				if len(h.values) == 0 || h.values[len(h.values)-1] != m.Content {
					h.values = append(h.values, m.Content)
				}
				h.mu.Unlock()
			}
		}
	})
	return h
}

func (h *contentHistory) all() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.values...)
}

func newTestStore(t *testing.T) (*Store, *MemorySlot) {
	t.Helper()
	slot := NewMemorySlot()
	s := NewStore(slot)
	require.NoError(t, s.Load(context.Background(), DefaultConversation))
	return s, slot
}

func botMsg(id string) Message {
	return Message{ID: id, Sender: SenderBot, Timestamp: stamp(time.Now())}
}

func userMsg(id, text string) Message {
	return Message{ID: id, Content: text, Sender: SenderUser, Timestamp: stamp(time.Now())}
}

var errBoom = errors.New("boom")
