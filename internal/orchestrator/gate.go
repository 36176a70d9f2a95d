package orchestrator

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Gate bounds how many fetches run at once.
type Gate struct {
	sem *semaphore.Weighted
	cap int

	mu      sync.Mutex
	holders int
	peak    int
}

// NewGate returns a gate admitting at most n holders (minimum 1).
func NewGate(n int) *Gate {
	if n < 1 {
		n = 1
	}
	return &Gate{sem: semaphore.NewWeighted(int64(n)), cap: n}
}

// Do runs fn while holding a slot. The slot is released however fn exits,
// panics included. Only a cancelled ctx while waiting prevents fn from running.
func (g *Gate) Do(ctx context.Context, fn func() error) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	g.enter()
	defer func() {
		g.leave()
		g.sem.Release(1)
	}()
	return fn()
}

func (g *Gate) enter() {
	g.mu.Lock()
	g.holders++
	if g.holders > g.peak {
		g.peak = g.holders
	}
	g.mu.Unlock()
}

func (g *Gate) leave() {
	g.mu.Lock()
	g.holders--
	g.mu.Unlock()
}

// Cap returns the gate capacity.
func (g *Gate) Cap() int { return g.cap }

// Peak returns the highest number of simultaneous holders seen.
func (g *Gate) Peak() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.peak
}
