package pool

import (
	"context"
	"sync"
)

// gate is a condition-variable admission window. The window can be resized
// between acquisitions: holders already admitted are never revoked, but a
// shrink blocks new acquisitions until enough slots free up.
type gate struct {
	mu      sync.Mutex
	cond    *sync.Cond
	window  int
	holders int
}

func newGate(window int) *gate {
	if window < 1 {
		window = 1
	}
	g := &gate{window: window}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// setWindow resizes the admission window and wakes waiters on growth.
func (g *gate) setWindow(n int) {
	if n < 1 {
		n = 1
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if n == g.window {
		return
	}
	g.window = n
	g.cond.Broadcast()
}

// acquire blocks until a slot frees up or ctx is done.
func (g *gate) acquire(ctx context.Context) error {
	// Wait alone cannot observe cancellation; wake everyone when it fires.
	stop := context.AfterFunc(ctx, func() {
		g.mu.Lock()
		g.cond.Broadcast()
		g.mu.Unlock()
	})
	defer stop()

	g.mu.Lock()
	defer g.mu.Unlock()
	for g.holders >= g.window {
		if err := ctx.Err(); err != nil {
			return err
		}
		g.cond.Wait()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	g.holders++
	return nil
}

func (g *gate) release() {
	g.mu.Lock()
	g.holders--
	g.cond.Broadcast()
	g.mu.Unlock()
}
