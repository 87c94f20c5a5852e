package cachecoalesce

import (
	"sync"

	"github.com/google/uuid"

	"cachecoalesce/internal/aggregate"
	"cachecoalesce/token"
)

// entry is both the in-flight coalesced fetch and the store's record for a
// key: while pending it is the single fetch every joining caller waits on;
// once settled it is the cached value itself, read in place without any
// further store write. Store identity (pointer equality) is what lets a
// settling fetch tell whether it is still the entry of record (see
// internal/store's CompareAndDelete).
type entry[V any] struct {
	id  string
	agg *aggregate.AllOf

	once  sync.Once
	ready chan struct{}
	value V
	err   error
}

func newEntry[V any]() *entry[V] {
	return &entry[V]{
		id:    uuid.NewString(),
		agg:   aggregate.NewAllOf(),
		ready: make(chan struct{}),
	}
}

// attach joins tok to the set of callers keeping this entry's fetch alive.
// Safe to call both before and after settlement; joining a settled entry is
// harmless bookkeeping (AllOf.Add no-ops once its aggregator is done).
func (e *entry[V]) attach(tok token.Token) {
	e.agg.Add(tok)
}

// derived is the token handed to the fetcher chain: it fires once every
// attached caller's own token has fired, never before.
func (e *entry[V]) derived() token.Token {
	return e.agg.Derived()
}

func (e *entry[V]) settleResolved(v V) {
	e.once.Do(func() {
		e.value = v
		close(e.ready)
		e.agg.Cleanup()
	})
}

func (e *entry[V]) settleRejected(err error) {
	e.once.Do(func() {
		e.err = err
		close(e.ready)
		e.agg.Cleanup()
	})
}

// isSettled reports whether this entry has a final value or error, without
// blocking.
func (e *entry[V]) isSettled() bool {
	select {
	case <-e.ready:
		return true
	default:
		return false
	}
}

// isResolvedOK reports whether this entry settled successfully. Used by Has,
// which must not report true for an entry still pending or one that settled
// with an error.
func (e *entry[V]) isResolvedOK() bool {
	select {
	case <-e.ready:
		return e.err == nil
	default:
		return false
	}
}

// wait blocks until the entry settles or tok fires, whichever comes first.
// Per the "completion wins over late cancel" rule, a tok firing concurrently
// with settlement must never cause wait to report cancellation: once ready
// is observed closed, that result is final regardless of tok's state.
func (e *entry[V]) wait(tok token.Token) (V, error) {
	select {
	case <-e.ready:
		return e.value, e.err
	default:
	}

	fired := make(chan error, 1)
	unsub := tok.OnFire(func(reason error) {
		select {
		case fired <- reason:
		default:
		}
	})
	defer unsub()

	select {
	case <-e.ready:
		return e.value, e.err
	case reason := <-fired:
		select {
		case <-e.ready:
			return e.value, e.err
		default:
			var zero V
			return zero, cancelled(reason)
		}
	}
}
