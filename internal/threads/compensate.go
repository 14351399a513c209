package threads

import (
	"context"
	"log/slog"
	"sync"
)

type undoStep struct {
	name string
	fn   func(ctx context.Context) error
}

// Compensator collects undo actions while a multi-step operation makes
// progress. On terminal failure Run executes them newest first; failures are
// logged and swallowed. On success call Discard.
type Compensator struct {
	mu    sync.Mutex
	steps []undoStep
}

// Add registers an undo action.
func (c *Compensator) Add(name string, fn func(ctx context.Context) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps = append(c.steps, undoStep{name: name, fn: fn})
}

// Discard drops all registered actions.
func (c *Compensator) Discard() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps = nil
}

// Run executes and clears the registered actions. Returns how many failed.
// Runs even if ctx is already cancelled.
func (c *Compensator) Run(ctx context.Context) int {
	c.mu.Lock()
	steps := c.steps
	c.steps = nil
	c.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	failed := 0
	for i := len(steps) - 1; i >= 0; i-- {
		s := steps[i]
		if err := s.fn(ctx); err != nil {
			failed++
			slog.Warn("compensation step failed", "step", s.name, "error", err)
			continue
		}
		slog.Debug("compensation step done", "step", s.name)
	}
	return failed
}

// Len returns the number of pending actions.
func (c *Compensator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.steps)
}
