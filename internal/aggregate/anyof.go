package aggregate

import (
	"sync"

	"cachecoalesce/token"
)

// AnyOf is the dual of AllOf: its derived token fires as soon as any one
// input fires. Fetchers use it to combine the derived cancellation token
// handed down by the facade with ad-hoc inter-request cancellation (e.g. a
// fetcher-internal timeout) without the cache core needing to know about it.
type AnyOf struct {
	mu      sync.Mutex
	derived *token.Manual
	once    sync.Once
	subs    map[token.Token]token.Unsubscribe
}

// NewAnyOf builds the reduction over the given inputs, firing immediately
// if any of them have already fired.
func NewAnyOf(inputs ...token.Token) *AnyOf {
	a := &AnyOf{
		derived: token.NewManual(),
		subs:    make(map[token.Token]token.Unsubscribe),
	}
	for _, t := range inputs {
		a.Add(t)
	}
	return a
}

// Derived returns the token that fires on the first input to fire.
func (a *AnyOf) Derived() token.Token {
	return a.derived
}

// Add folds another input into the reduction. Safe to call after the
// derived token has already fired; it is then a no-op.
func (a *AnyOf) Add(t token.Token) {
	if t.Aborted() {
		a.fireOnce(t.Reason())
		return
	}
	a.mu.Lock()
	if a.subs == nil {
		a.mu.Unlock()
		return
	}
	a.subs[t] = t.OnFire(func(reason error) { a.fireOnce(reason) })
	a.mu.Unlock()
}

func (a *AnyOf) fireOnce(reason error) {
	a.once.Do(func() {
		a.derived.Fire(reason)
		a.mu.Lock()
		subs := a.subs
		a.subs = nil
		a.mu.Unlock()
		for _, unsub := range subs {
			unsub()
		}
	})
}
