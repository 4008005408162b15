package chat

import (
	"context"
	"sync"
	"sync/atomic"
)

// Token is the cancellation signal handed to one remote call.
type Token struct {
	id       uint64
	cancel   context.CancelFunc
	signaled atomic.Bool
}

// Signal aborts the call. Signalling twice is a no-op.
func (t *Token) Signal() {
	if t == nil {
		return
	}
	if t.signaled.CompareAndSwap(false, true) {
		t.cancel()
	}
}

func (t *Token) Signaled() bool {
	return t != nil && t.signaled.Load()
}

// Canceller holds at most one token: the latest submission. Starting a new
// submission forgets the previous token, which can then no longer be cancelled.
type Canceller struct {
	mu      sync.Mutex
	seq     uint64
	current *Token
}

// Begin derives a cancellable context from parent and makes it current.
func (c *Canceller) Begin(parent context.Context) (context.Context, *Token) {
	ctx, cancel := context.WithCancel(parent)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	tok := &Token{id: c.seq, cancel: cancel}
	c.current = tok
	return ctx, tok
}

// Release discards tok once its call finished. A newer token stays current.
func (c *Canceller) Release(tok *Token) {
	if tok == nil {
		return
	}
	c.mu.Lock()
	if c.current == tok {
		c.current = nil
	}
	c.mu.Unlock()
	tok.cancel()
}

// Cancel signals and clears the current token. It reports whether one existed.
func (c *Canceller) Cancel() bool {
	c.mu.Lock()
	tok := c.current
	c.current = nil
	c.mu.Unlock()
	if tok == nil {
		return false
	}
	tok.Signal()
	return true
}

// Active reports whether a token is outstanding.
func (c *Canceller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}
