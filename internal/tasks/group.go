// Package tasks tracks fire-and-forget goroutines that callers later wait
// on, such as background revalidations and asynchronous cache writes.
package tasks

import (
	"context"
	"sync"
)

// Group tracks running goroutines. Unlike sync.WaitGroup, Go may be called
// at any time, including while Wait is blocked. The zero value is ready
// to use.
type Group struct {
	mu      sync.Mutex
	running int
	started int
	idle    chan struct{} // closed when running drops to zero; nil while idle
}

// Go runs fn in a new goroutine and tracks it until it returns.
func (g *Group) Go(fn func()) {
	g.mu.Lock()
	g.running++
	g.started++
	if g.running == 1 {
		g.idle = make(chan struct{})
	}
	g.mu.Unlock()

	go func() {
		defer g.done()
		fn()
	}()
}

func (g *Group) done() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.running--
	if g.running == 0 {
		close(g.idle)
		g.idle = nil
	}
}

// Started returns how many goroutines Go has started.
func (g *Group) Started() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.started
}

// Running returns how many goroutines are still running.
func (g *Group) Running() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running
}

// Wait blocks until no goroutine is running or ctx is done. Goroutines
// started while Wait blocks are waited for as well.
func (g *Group) Wait(ctx context.Context) error {
	for {
		g.mu.Lock()
		idle := g.idle
		g.mu.Unlock()
		if idle == nil {
			return nil
		}

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
