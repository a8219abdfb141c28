// Package availability tracks whether the hosted AI capability finished
// loading and can be called.
//
// The state starts at Pending and moves forward exactly once, to Available or
// Unavailable. Nothing moves it back: a failed chat call later on does not
// demote the capability for subsequent turns.
package availability

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

type State int32

const (
	Pending State = iota
	Available
	Unavailable
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Available:
		return "available"
	case Unavailable:
		return "unavailable"
	}
	return "unknown"
}

// Loader is the external resource the monitor bootstraps and then probes.
type Loader interface {
	Bootstrap(ctx context.Context) error
	Ready() bool
}

type Monitor struct {
	loader Loader
	settle time.Duration

	state atomic.Int32
	once  sync.Once
	done  chan struct{}
}

func NewMonitor(loader Loader, settle time.Duration) *Monitor {
	return &Monitor{
		loader: loader,
		settle: settle,
		done:   make(chan struct{}),
	}
}

// Start runs the bootstrap once in the background. Later calls are no-ops.
func (m *Monitor) Start(ctx context.Context) {
	m.once.Do(func() {
		go m.run(ctx)
	})
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)

	if m.loader == nil {
		m.settleTo(Unavailable, "no AI provider configured")
		return
	}

	if err := m.loader.Bootstrap(ctx); err != nil {
		m.settleTo(Unavailable, "bootstrap failed: "+err.Error())
		return
	}

	// даём SDK время проинициализироваться
	t := time.NewTimer(m.settle)
	defer t.Stop()
	select {
	case <-ctx.Done():
		m.settleTo(Unavailable, "stopped before probe")
		return
	case <-t.C:
	}

	if m.loader.Ready() {
		m.settleTo(Available, "AI ready")
		return
	}
	m.settleTo(Unavailable, "AI not available after bootstrap")
}

func (m *Monitor) settleTo(s State, reason string) {
	if m.state.CompareAndSwap(int32(Pending), int32(s)) {
		log.Printf("[monitor] %s -> %s (%s)", Pending, s, reason)
	}
}

func (m *Monitor) State() State {
	return State(m.state.Load())
}

func (m *Monitor) Available() bool {
	return m.State() == Available
}

// Wait blocks until the monitor leaves Pending or ctx ends.
func (m *Monitor) Wait(ctx context.Context) State {
	select {
	case <-m.done:
	case <-ctx.Done():
	}
	return m.State()
}
