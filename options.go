package cachecoalesce

import (
	"time"

	"go.uber.org/zap"

	"cachecoalesce/fetch"
	"cachecoalesce/internal/store"
	"cachecoalesce/metrics"
)

// EvictReason names why an entry left the cache, mirrored from
// internal/store so callers never need to import that package directly.
type EvictReason = store.EvictReason

const (
	EvictExpired  = store.EvictExpired
	EvictCapacity = store.EvictCapacity
	EvictDeleted  = store.EvictDeleted
	EvictReplaced = store.EvictReplaced
)

// Options configures a Cache. Fetchers is the only required field; every
// other field has a usable zero value. A plain struct of optional knobs
// passed to a constructor, rather than functional options.
type Options[K comparable, V any] struct {
	// Fetchers is the non-empty, ordered chain of fetchers consulted on a miss.
	Fetchers []fetch.Fetcher[K, V]

	// KeyTransformer normalizes a caller-supplied key before it reaches the
	// store or the fetcher chain (e.g. case-folding, trimming). Defaults to
	// the identity function.
	KeyTransformer func(K) K

	// Expiration is the cache-wide TTL. Zero means entries never expire.
	Expiration time.Duration
	// RollingExpiration, when true, measures Expiration from last access
	// rather than insertion.
	RollingExpiration bool
	// MaxEntries bounds the cache's size with FIFO (or, under
	// RollingExpiration, LRU) eviction. Zero means unbounded.
	MaxEntries int
	// CleanupInterval, if positive, runs a background sweep goroutine in
	// addition to the lazy sweep every read already performs.
	CleanupInterval time.Duration

	// NoRetention, if true, purges every fetched entry immediately after it
	// settles, successfully or not, so the cache only suppresses duplicate
	// concurrent fetches and never serves a value from a prior fetch. Values
	// installed with Set are retained as usual.
	NoRetention bool

	// OnEvicted, if set, is called after an entry leaves the cache for any
	// reason, with the value it last held. Never called for an entry that
	// was still pending or settled with an error.
	OnEvicted func(K, V, EvictReason)

	// Logger receives structured debug/warn logging. Defaults to a no-op
	// logger.
	Logger *zap.Logger
	// Metrics receives hit/miss/coalesce/eviction/rejection counters. A nil
	// Metrics disables instrumentation entirely.
	Metrics *metrics.Recorder
}

func (o Options[K, V]) transform(k K) K {
	if o.KeyTransformer == nil {
		return k
	}
	return o.KeyTransformer(k)
}
