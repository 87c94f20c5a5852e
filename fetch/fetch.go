// Package fetch implements an ordered, non-empty chain of fetchers: a list
// of producers consulted in sequence until one yields a value, with support
// for both single-key and batch-key producers sharing one chain.
package fetch

import (
	"context"
	"errors"

	"cachecoalesce/token"
)

// ErrNoFetcherProduced is returned when every fetcher in a chain returns no
// value for a key.
var ErrNoFetcherProduced = errors.New("fetch: no fetcher in the chain produced a value")

// SingleFetcher resolves one key. Returning ok=false (with a nil error)
// means "no value here, try the next fetcher in the chain". The declared
// tail fetcher of a chain is expected never to do this.
type SingleFetcher[K comparable, V any] func(ctx context.Context, key K, tok token.Token) (v V, ok bool, err error)

// BatchFetcher resolves a whole set of keys at once, returning an opaque
// result set a Selector then reads per key.
type BatchFetcher[K comparable, R any] func(ctx context.Context, keys []K, tok token.Token) (R, error)

// Selector projects one key's value out of a batch fetcher's result set.
// ok=false means the batch didn't cover that key; it falls through to the
// next fetcher in the chain.
type Selector[K comparable, R any, V any] func(results R, key K) (v V, ok bool)

// Fetcher is one link in a Chain: either a Single producer or a Batch
// producer paired with its Selector. The batch's result type is erased at
// construction so a Chain can hold a homogeneous slice of Fetcher[K, V].
type Fetcher[K comparable, V any] struct {
	single SingleFetcher[K, V]
	batch  func(ctx context.Context, keys []K, tok token.Token) (map[K]V, error)
}

// Single wraps a single-key producer as a chain link.
func Single[K comparable, V any](fn SingleFetcher[K, V]) Fetcher[K, V] {
	return Fetcher[K, V]{single: fn}
}

// Batch wraps a batch producer and its selector as a chain link. The
// selector is applied once per requested key against the one batch result.
func Batch[K comparable, R any, V any](batchFn BatchFetcher[K, R], sel Selector[K, R, V]) Fetcher[K, V] {
	return Fetcher[K, V]{
		batch: func(ctx context.Context, keys []K, tok token.Token) (map[K]V, error) {
			results, err := batchFn(ctx, keys, tok)
			if err != nil {
				return nil, err
			}
			out := make(map[K]V, len(keys))
			for _, k := range keys {
				if v, ok := sel(results, k); ok {
					out[k] = v
				}
			}
			return out, nil
		},
	}
}

// IsBatch reports whether this link is a batch producer.
func (f Fetcher[K, V]) IsBatch() bool {
	return f.batch != nil
}

func (f Fetcher[K, V]) resolveSingle(ctx context.Context, key K, tok token.Token) (V, bool, error) {
	if f.single != nil {
		return f.single(ctx, key, tok)
	}
	out, err := f.batch(ctx, []K{key}, tok)
	if err != nil {
		var zero V
		return zero, false, err
	}
	v, ok := out[key]
	return v, ok, nil
}

func (f Fetcher[K, V]) resolveMany(ctx context.Context, keys []K, tok token.Token) (map[K]V, error) {
	if f.batch != nil {
		return f.batch(ctx, keys, tok)
	}
	out := make(map[K]V, len(keys))
	for _, k := range keys {
		v, ok, err := f.single(ctx, k, tok)
		if err != nil {
			return nil, err
		}
		if ok {
			out[k] = v
		}
	}
	return out, nil
}
