package fetch

import (
	"context"
	"errors"

	"cachecoalesce/token"
)

// Chain is an ordered, non-empty fetcher chain. The order of the slice
// passed to NewChain is authoritative: each fetcher is consulted in turn
// until one produces a value.
type Chain[K comparable, V any] struct {
	fetchers []Fetcher[K, V]
}

// NewChain builds a chain from one or more fetchers. The last fetcher is
// expected to be non-nullable (it should never return ok=false); NewChain
// does not and cannot enforce this statically, it is a contract on the
// caller.
func NewChain[K comparable, V any](fetchers ...Fetcher[K, V]) (*Chain[K, V], error) {
	if len(fetchers) == 0 {
		return nil, errors.New("fetch: a chain must have at least one fetcher")
	}
	return &Chain[K, V]{fetchers: append([]Fetcher[K, V](nil), fetchers...)}, nil
}

// HeadIsBatch reports whether the first fetcher in the chain is a batch
// producer. The facade uses this to decide, for a multi-key get, whether
// absent keys should be issued as one batched fetch or as N independent
// per-key fetches.
func (c *Chain[K, V]) HeadIsBatch() bool {
	return c.fetchers[0].IsBatch()
}

// ResolveOne runs the chain for a single key: each fetcher is tried in
// order, and the first to produce a value wins. If every fetcher returns no
// value, ResolveOne fails with ErrNoFetcherProduced.
func (c *Chain[K, V]) ResolveOne(ctx context.Context, key K, tok token.Token) (V, error) {
	for _, f := range c.fetchers {
		v, ok, err := f.resolveSingle(ctx, key, tok)
		if err != nil {
			var zero V
			return zero, err
		}
		if ok {
			return v, nil
		}
	}
	var zero V
	return zero, ErrNoFetcherProduced
}

// ResolveMany runs the chain for a set of keys, narrowing the pending set
// after every fetcher: each fetcher only sees keys no earlier fetcher
// resolved. It returns the keys it resolved, and the keys still pending
// after exhausting the chain (non-empty pending with a nil error means
// those keys should fail as ErrNoFetcherProduced).
func (c *Chain[K, V]) ResolveMany(ctx context.Context, keys []K, tok token.Token) (resolved map[K]V, pending []K, err error) {
	pending = append([]K(nil), keys...)
	resolved = make(map[K]V, len(keys))
	for _, f := range c.fetchers {
		if len(pending) == 0 {
			break
		}
		got, ferr := f.resolveMany(ctx, pending, tok)
		if ferr != nil {
			return resolved, pending, ferr
		}
		next := pending[:0:0]
		for _, k := range pending {
			if v, ok := got[k]; ok {
				resolved[k] = v
			} else {
				next = append(next, k)
			}
		}
		pending = next
	}
	return resolved, pending, nil
}
