package scanner

import (
	"context"
	"sync"
)

// Token is the pause/stop switch shared between a scan and its caller. The
// scan checks it before each file; while paused the scan blocks until
// Resume or Stop.
type Token struct {
	mu      sync.Mutex
	cond    *sync.Cond
	paused  bool
	stopped bool
	waiting int
}

// NewToken returns a running token
func NewToken() *Token {
	t := &Token{}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// Pause holds the scan at its next checkpoint
func (t *Token) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.stopped {
		t.paused = true
	}
}

// Resume releases a paused scan
func (t *Token) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paused = false
	t.cond.Broadcast()
}

// Toggle flips between paused and running and reports the new paused state
func (t *Token) Toggle() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return false
	}
	t.paused = !t.paused
	if !t.paused {
		t.cond.Broadcast()
	}
	return t.paused
}

// Stop ends the scan at its next checkpoint, waking it if paused
func (t *Token) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	t.paused = false
	t.cond.Broadcast()
}

// Paused reports whether the token is paused
func (t *Token) Paused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}

// Stopped reports whether Stop was called
func (t *Token) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// Wait blocks while the token is paused. It returns false once the token is
// stopped or ctx is done.
func (t *Token) Wait(ctx context.Context) bool {
	unregister := context.AfterFunc(ctx, func() {
		t.mu.Lock()
		t.cond.Broadcast()
		t.mu.Unlock()
	})
	defer unregister()

	t.mu.Lock()
	defer t.mu.Unlock()
	for t.paused && !t.stopped && ctx.Err() == nil {
		t.waiting++
		t.cond.Wait()
		t.waiting--
	}
	return !t.stopped && ctx.Err() == nil
}
