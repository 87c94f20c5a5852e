// Package aggregate implements the two cancellation reductions the cache
// core needs: AllOf, which derives a token that fires only once every input
// has fired, and AnyOf, its dual.
//
// Neither type is part of the cache's public contract: callers only ever
// see their own token and the facade's error surface, never the derived
// token or the reduction machinery.
package aggregate

import (
	"sync"

	"cachecoalesce/token"
)

// AllOf combines a set of caller tokens into a single derived token that
// fires only when every token currently tracked has fired.
type AllOf struct {
	mu        sync.Mutex
	derived   *token.Manual
	active    map[token.Token]token.Unsubscribe
	everAdded bool
	done      bool
}

// NewAllOf returns an aggregator with an empty active set. Per the "all
// callers have aborted" corner case, its derived token never fires until at
// least one token is added.
func NewAllOf() *AllOf {
	return &AllOf{
		derived: token.NewManual(),
		active:  make(map[token.Token]token.Unsubscribe),
	}
}

// Derived returns the token that fires once the active set empties out
// through firing (never through Remove alone).
func (a *AllOf) Derived() token.Token {
	return a.derived
}

// Add subscribes t into the active set. A token that has already fired does
// not join; the caller's own failure path handles its cancellation, and
// joining a fired token would let a single pre-fired caller poison the
// derived token for everyone else.
func (a *AllOf) Add(t token.Token) {
	a.mu.Lock()
	if a.done {
		a.mu.Unlock()
		return
	}
	if t.Aborted() {
		a.mu.Unlock()
		return
	}
	a.everAdded = true
	a.active[t] = t.OnFire(func(reason error) { a.handleFire(t, reason) })
	a.mu.Unlock()
}

// Remove unsubscribes and erases t without treating its departure as a
// fire. Used only for bookkeeping around tokens that never fired.
func (a *AllOf) Remove(t token.Token) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if unsub, ok := a.active[t]; ok {
		unsub()
		delete(a.active, t)
	}
}

func (a *AllOf) handleFire(t token.Token, reason error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.done {
		return
	}
	delete(a.active, t)
	a.evaluateLocked(reason)
}

// evaluateLocked fires the derived token iff the active set has been
// emptied entirely by member tokens firing, and it has had at least one
// member. Emptying via explicit Remove alone never reaches here with
// everAdded still meaningfully "all fired", callers of Remove are
// responsible for that distinction.
func (a *AllOf) evaluateLocked(reason error) {
	if a.done || !a.everAdded || len(a.active) != 0 {
		return
	}
	a.done = true
	a.derived.Fire(reason)
}

// Cleanup unsubscribes from all remaining tokens and clears the active set.
// Idempotent; call once the fetch this aggregator is guarding has settled
// so no listener is leaked on the winning or losing tokens.
func (a *AllOf) Cleanup() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for t, unsub := range a.active {
		unsub()
		delete(a.active, t)
	}
	a.done = true
}
