// Package singleton enforces the one-run-per-session invariant: a new
// MessageReceived for a session key cancels any run already in flight for
// that key before its own run is installed, so a caller never observes a
// reply built from a partially-superseded conversation state.
package singleton

import (
	"context"
	"sync"
)

// run tracks the cancel func and a generation counter for one session key's
// in-flight run, so a release call can tell whether it is still current.
type run struct {
	cancel context.CancelFunc
	gen    uint64
}

// Controller serializes agent runs per session key. It is safe for
// concurrent use, grounded on the same sync.Mutex-per-manager idiom as
// session.Manager and channels.Manager.
type Controller struct {
	mu      sync.Mutex
	runs    map[string]*run
	nextGen uint64
}

// New creates an empty Controller.
func New() *Controller {
	return &Controller{runs: make(map[string]*run)}
}

// Acquire cancels any run already in flight for sessionKey, installs a new
// cancellable context derived from parent, and returns it along with a
// release func the caller must defer. release is a no-op if a newer run has
// since superseded this one (so an old run's cleanup never clobbers a new
// run's bookkeeping).
func (c *Controller) Acquire(parent context.Context, sessionKey string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)

	c.mu.Lock()
	if prev, ok := c.runs[sessionKey]; ok {
		prev.cancel()
	}
	c.nextGen++
	gen := c.nextGen
	c.runs[sessionKey] = &run{cancel: cancel, gen: gen}
	c.mu.Unlock()

	release := func() {
		cancel()
		c.mu.Lock()
		if cur, ok := c.runs[sessionKey]; ok && cur.gen == gen {
			delete(c.runs, sessionKey)
		}
		c.mu.Unlock()
	}
	return ctx, release
}

// Cancelled reports whether ctx has been superseded (or otherwise ended).
// durable.Step checks the run's context itself at each substep boundary;
// nothing in the repository calls this function.
func Cancelled(ctx context.Context) bool {
	return ctx.Err() != nil
}

// Active reports the number of session keys with a run currently in flight.
// Nothing in the repository calls it; control flow never depends on it.
func (c *Controller) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.runs)
}
