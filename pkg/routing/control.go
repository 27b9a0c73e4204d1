package routing

import (
	"context"
	"sync"
	"time"
)

// Control pauses, resumes and cancels a running search. The search checks
// it once per iteration, before expanding the next node, and while sleeping
// between progress events. A nil *Control never pauses.
type Control struct {
	mu        sync.Mutex
	gate      chan struct{} // closed while running, open while paused
	cancelled chan struct{}
	once      sync.Once
}

// NewControl returns a Control in the running state.
func NewControl() *Control {
	gate := make(chan struct{})
	close(gate)
	return &Control{gate: gate, cancelled: make(chan struct{})}
}

// Pause holds the search at its next check.
func (c *Control) Pause() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.gate:
		c.gate = make(chan struct{})
	default:
	}
}

// Resume releases a paused search.
func (c *Control) Resume() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.gate:
	default:
		close(c.gate)
	}
}

// Paused reports whether the control is holding the search.
func (c *Control) Paused() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.gate:
		return false
	default:
		return true
	}
}

// Cancel stops the search for good. It is safe to call more than once.
func (c *Control) Cancel() {
	if c == nil {
		return
	}
	c.once.Do(func() { close(c.cancelled) })
}

// Cancelled reports whether Cancel has been called.
func (c *Control) Cancelled() bool {
	if c == nil {
		return false
	}
	select {
	case <-c.cancelled:
		return true
	default:
		return false
	}
}

// wait blocks while paused. It returns ErrCancelled once the control or
// ctx is cancelled.
func (c *Control) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return cancelErr(err)
	}
	if c == nil {
		return nil
	}
	if c.Cancelled() {
		return ErrCancelled
	}

	c.mu.Lock()
	gate := c.gate
	c.mu.Unlock()

	select {
	case <-c.cancelled:
		return ErrCancelled
	case <-ctx.Done():
		return cancelErr(ctx.Err())
	case <-gate:
	}
	if c.Cancelled() {
		return ErrCancelled
	}
	return nil
}

// sleep waits d, returning early on cancellation. Pausing does not cut a
// sleep short; the pause takes hold at the next wait.
func (c *Control) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()

	var cancelled <-chan struct{}
	if c != nil {
		cancelled = c.cancelled
	}

	select {
	case <-t.C:
		return nil
	case <-cancelled:
		return ErrCancelled
	case <-ctx.Done():
		return cancelErr(ctx.Err())
	}
}
