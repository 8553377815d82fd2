package lead

import (
	"context"
	"sync"
)

// gate is a manual-reset latch, normally open. Closing it blocks
// waiters until it is opened again; pause/resume may oscillate freely.
// This is the opposite polarity of the blocker latch, which releases
// exactly once.
type gate struct {
	mu sync.Mutex
	ch chan struct{}
}

// newGate returns an open gate
func newGate() *gate {
	g := &gate{ch: make(chan struct{})}
	close(g.ch)
	return g
}

// Close shuts the gate; subsequent Wait calls block
func (g *gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.ch:
		// currently open; replace with a blocking channel
		g.ch = make(chan struct{})
	default:
		// already closed
	}
}

// Open releases the gate and any current waiters
func (g *gate) Open() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.ch:
		// already open
	default:
		close(g.ch)
	}
}

// Wait blocks while the gate is closed
func (g *gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	ch := g.ch
	g.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
