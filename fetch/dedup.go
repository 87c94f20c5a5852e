package fetch

import (
	"context"

	"tailscale.com/util/singleflight"

	"cachecoalesce/token"
)

// Dedup wraps a SingleFetcher so that concurrent calls naming the same
// upstream resource key share one underlying call to fn, via
// tailscale.com/util/singleflight. This is a distinct concern from the
// cache's own per-cache-key coalescing (internal/aggregate.AllOf): two
// different cache keys can legitimately map to the same upstream resource
// (e.g. two keys served by one paginated backend call), and that overlap is
// invisible to the cache core.
//
// resourceKey maps a cache key to the upstream resource identity that should
// be deduplicated on; it is often the identity function for fetchers where
// cache key and resource key coincide.
func Dedup[K comparable, V any](resourceKey func(K) string, fn SingleFetcher[K, V]) SingleFetcher[K, V] {
	var group singleflight.Group[string, dedupResult[V]]
	return func(ctx context.Context, key K, tok token.Token) (V, bool, error) {
		r, err, _ := group.Do(resourceKey(key), func() (dedupResult[V], error) {
			v, ok, ferr := fn(ctx, key, tok)
			if ferr != nil {
				return dedupResult[V]{}, ferr
			}
			return dedupResult[V]{v: v, ok: ok}, nil
		})
		if err != nil {
			var zero V
			return zero, false, err
		}
		return r.v, r.ok, nil
	}
}

type dedupResult[V any] struct {
	v  V
	ok bool
}
