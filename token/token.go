// Package token defines the cancellation-token contract the cache core
// consumes from its host. The core never cancels a fetch itself; it only
// observes tokens and derives new ones from them (see internal/aggregate).
package token

import (
	"context"
	"errors"
	"sync"
)

// ErrFired is the default reason reported by Manual.Fire when called with a
// nil reason.
var ErrFired = errors.New("token: fired")

// Unsubscribe detaches a previously registered OnFire callback. Calling it
// more than once is a no-op.
type Unsubscribe func()

// Token is the capability the cache requires from a caller-supplied
// cancellation handle: it can report whether it has already fired, why, and
// it can notify subscribers exactly once when it does.
//
// Implementations must make OnFire safe to call re-entrantly from within a
// firing callback, and must deliver a pending fire to a callback registered
// after the fact (i.e. OnFire on an already-fired token invokes cb
// synchronously with the recorded reason).
type Token interface {
	Aborted() bool
	Reason() error
	OnFire(cb func(reason error)) Unsubscribe
}

// Manual is a token an owner fires explicitly. It is what internal/aggregate
// hands back as the derived token for a reduction.
type Manual struct {
	mu     sync.Mutex
	fired  bool
	reason error
	subs   map[int]func(error)
	nextID int
}

// NewManual returns a token that has not fired.
func NewManual() *Manual {
	return &Manual{subs: make(map[int]func(error))}
}

func (m *Manual) Aborted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fired
}

func (m *Manual) Reason() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reason
}

func (m *Manual) OnFire(cb func(reason error)) Unsubscribe {
	m.mu.Lock()
	if m.fired {
		reason := m.reason
		m.mu.Unlock()
		cb(reason)
		return func() {}
	}
	id := m.nextID
	m.nextID++
	m.subs[id] = cb
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// Fire aborts the token, notifying every current subscriber. It fires
// exactly once; later calls are no-ops regardless of reason.
func (m *Manual) Fire(reason error) {
	if reason == nil {
		reason = ErrFired
	}
	m.mu.Lock()
	if m.fired {
		m.mu.Unlock()
		return
	}
	m.fired = true
	m.reason = reason
	subs := m.subs
	m.subs = nil
	m.mu.Unlock()
	for _, cb := range subs {
		cb(reason)
	}
}

// ctxToken adapts a context.Context to Token. Returned as a pointer so two
// tokens derived from the same context still compare as distinct identities,
// matching "each caller passes its own token".
type ctxToken struct {
	ctx context.Context
}

// FromContext adapts ctx to Token, so callers can pass a normal
// context.Context into Cache.Get/GetMany instead of constructing a Manual
// by hand.
func FromContext(ctx context.Context) Token {
	return &ctxToken{ctx: ctx}
}

func (c *ctxToken) Aborted() bool {
	return c.ctx.Err() != nil
}

func (c *ctxToken) Reason() error {
	return c.ctx.Err()
}

func (c *ctxToken) OnFire(cb func(error)) Unsubscribe {
	if err := c.ctx.Err(); err != nil {
		cb(err)
		return func() {}
	}
	done := make(chan struct{})
	var once sync.Once
	go func() {
		select {
		case <-c.ctx.Done():
			cb(c.ctx.Err())
		case <-done:
		}
	}()
	return func() { once.Do(func() { close(done) }) }
}
