// Package cachecoalesce implements a request-coalescing, layered cache: a
// keyed store in front of an ordered chain of fetchers, where any number of
// concurrent callers for the same key share exactly one in-flight fetch.
//
// The core type is Cache[K, V], built with New. A caller's cancellation
// reaches the shared fetch only once every other caller waiting on the same
// key has also cancelled (internal/aggregate.AllOf); a caller that cancels
// alone simply stops waiting and never affects the others.
//
package cachecoalesce

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"cachecoalesce/fetch"
	"cachecoalesce/internal/aggregate"
	"cachecoalesce/internal/store"
	"cachecoalesce/token"
)

const maxConcurrentSettlements = 16

// Cache is the request-coalescing layered cache.
type Cache[K comparable, V any] struct {
	opts  Options[K, V]
	chain *fetch.Chain[K, V]
	store *store.Store[K, *entry[V]]
	log   *zap.Logger
}

// New builds a Cache from opts. Fetchers must be non-empty.
func New[K comparable, V any](opts Options[K, V]) (*Cache[K, V], error) {
	if len(opts.Fetchers) == 0 {
		return nil, errors.New("cachecoalesce: Options.Fetchers must be non-empty")
	}
	chain, err := fetch.NewChain(opts.Fetchers...)
	if err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	c := &Cache[K, V]{opts: opts, chain: chain, log: log}
	c.store = store.New[K, *entry[V]](store.Options{
		Expiration:      opts.Expiration,
		Rolling:         opts.RollingExpiration,
		MaxEntries:      opts.MaxEntries,
		CleanupInterval: opts.CleanupInterval,
	}, c.handleEvict)
	return c, nil
}

func (c *Cache[K, V]) handleEvict(k K, e *entry[V], reason store.EvictReason) {
	c.opts.Metrics.Evicted(reasonLabel(reason))
	if c.opts.OnEvicted == nil || !e.isResolvedOK() {
		return
	}
	c.opts.OnEvicted(k, e.value, reason)
}

// Get returns the value for key, blocking until either a cached value is
// available, a fetch this call joins or starts settles, or ctx is cancelled.
// A cancellation that is not shared by every other caller currently waiting
// on the same key never aborts the underlying fetch; it only stops this call
// from waiting on it.
func (c *Cache[K, V]) Get(ctx context.Context, key K) (V, error) {
	var zero V
	tok := token.FromContext(ctx)
	if tok.Aborted() {
		return zero, cancelled(tok.Reason())
	}

	tkey := c.opts.transform(key)

	e, inserted := c.store.GetOrInsert(tkey, func() *entry[V] { return newEntry[V]() })
	e.attach(tok)

	switch {
	case inserted:
		c.log.Debug("cache miss, starting fetch", zap.Any("key", tkey), zap.String("entry_id", e.id))
		c.opts.Metrics.Miss()
		go c.resolveOne(tkey, e)
	case e.isSettled():
		c.opts.Metrics.Hit()
	default:
		c.log.Debug("joined in-flight fetch", zap.Any("key", tkey))
		c.opts.Metrics.Coalesced()
	}

	return e.wait(tok)
}

func (c *Cache[K, V]) resolveOne(tkey K, e *entry[V]) {
	fetchCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	unsub := e.derived().OnFire(func(error) { cancel() })
	defer unsub()

	v, err := c.chain.ResolveOne(fetchCtx, tkey, e.derived())
	if err != nil {
		wrapped := wrapFetchErr(err)
		if d := e.derived(); d.Aborted() {
			wrapped = cancelled(d.Reason())
		}
		c.store.CompareAndDelete(tkey, e)
		e.settleRejected(wrapped)
		c.opts.Metrics.Rejected(kindLabel(wrapped))
		c.log.Warn("fetch failed", zap.Any("key", tkey), zap.Error(err))
		return
	}
	if c.opts.NoRetention {
		c.store.CompareAndDelete(tkey, e)
	}
	e.settleResolved(v)
}

// Future is a pending or settled result for one key of a GetMany call,
// independently awaitable from every other key in the same batch.
type Future[V any] struct {
	entry *entry[V]
	tok   token.Token
	// err is set directly, bypassing entry entirely, only when GetMany's own
	// cancellation pre-check already failed for the whole call.
	err error
}

// Get blocks until this key's value is available, for the same caller and
// under the same rules as Cache.Get.
func (f *Future[V]) Get() (V, error) {
	if f.err != nil {
		var zero V
		return zero, f.err
	}
	return f.entry.wait(f.tok)
}

// GetMany starts or joins the fetches for every key in keys and returns
// immediately with one independently awaitable Future per key. If the head
// of the fetcher chain is a batch producer, the keys that miss the store are
// resolved with a single shared batch fetch; otherwise each missing key
// starts its own Get-equivalent fetch. Duplicate keys share one Future.
//
// If ctx is already cancelled, GetMany performs the same synchronous,
// no-state-mutation cancellation pre-check as Get: every returned Future
// fails with Cancelled without ever touching the store or a fetcher.
func (c *Cache[K, V]) GetMany(ctx context.Context, keys []K) map[K]*Future[V] {
	tok := token.FromContext(ctx)
	futures := make(map[K]*Future[V], len(keys))
	if tok.Aborted() {
		err := cancelled(tok.Reason())
		for _, key := range keys {
			futures[key] = &Future[V]{err: err}
		}
		return futures
	}

	entries := make(map[K]*entry[V], len(keys))
	var newKeys []K

	for _, key := range keys {
		tkey := c.opts.transform(key)
		if _, ok := entries[tkey]; ok {
			futures[key] = &Future[V]{entry: entries[tkey], tok: tok}
			continue
		}
		e, inserted := c.store.GetOrInsert(tkey, func() *entry[V] { return newEntry[V]() })
		e.attach(tok)
		entries[tkey] = e
		futures[key] = &Future[V]{entry: e, tok: tok}

		switch {
		case inserted:
			c.opts.Metrics.Miss()
			newKeys = append(newKeys, tkey)
		case e.isSettled():
			c.opts.Metrics.Hit()
		default:
			c.opts.Metrics.Coalesced()
		}
	}

	if len(newKeys) > 0 {
		go c.resolveMany(newKeys, entries)
	}
	return futures
}

func (c *Cache[K, V]) resolveMany(tkeys []K, entries map[K]*entry[V]) {
	if c.chain.HeadIsBatch() {
		c.resolveBatch(tkeys, entries)
		return
	}
	// Head of chain is single-producer: fall back to one independent
	// resolveOne per key, bounded by errgroup so a large batch doesn't spawn
	// unbounded concurrency.
	g := new(errgroup.Group)
	g.SetLimit(maxConcurrentSettlements)
	for _, k := range tkeys {
		k := k
		g.Go(func() error {
			c.resolveOne(k, entries[k])
			return nil
		})
	}
	_ = g.Wait()
}

// batchDerivedToken folds the per-key derived tokens of every entry in a
// batch into one token for the shared fetch: since one batch fetch serves
// several keys at once, it must only be abandoned once every one of those
// keys has, independently, had every one of its own callers cancel. AllOf is
// reused here one level up from its usual per-key role.
func batchDerivedToken[K comparable, V any](tkeys []K, entries map[K]*entry[V]) token.Token {
	agg := aggregate.NewAllOf()
	for _, k := range tkeys {
		agg.Add(entries[k].derived())
	}
	return agg.Derived()
}

func (c *Cache[K, V]) resolveBatch(tkeys []K, entries map[K]*entry[V]) {
	batchTok := batchDerivedToken(tkeys, entries)
	fetchCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	unsub := batchTok.OnFire(func(error) { cancel() })
	defer unsub()

	resolved, pending, err := c.chain.ResolveMany(fetchCtx, tkeys, batchTok)

	g := new(errgroup.Group)
	g.SetLimit(maxConcurrentSettlements)

	if err != nil {
		wrapped := fetcherFailed(err)
		if batchTok.Aborted() {
			wrapped = cancelled(batchTok.Reason())
		}
		for _, k := range tkeys {
			k := k
			g.Go(func() error {
				c.settleFailed(k, entries[k], wrapped)
				return nil
			})
		}
		_ = g.Wait()
		return
	}

	for k, v := range resolved {
		k, v := k, v
		g.Go(func() error {
			e := entries[k]
			if c.opts.NoRetention {
				c.store.CompareAndDelete(k, e)
			}
			e.settleResolved(v)
			return nil
		})
	}
	for _, k := range pending {
		k := k
		g.Go(func() error {
			c.settleFailed(k, entries[k], noFetcherProduced())
			return nil
		})
	}
	_ = g.Wait()
}

func (c *Cache[K, V]) settleFailed(tkey K, e *entry[V], wrapped error) {
	c.store.CompareAndDelete(tkey, e)
	e.settleRejected(wrapped)
	c.opts.Metrics.Rejected(kindLabel(wrapped))
}

// Set installs value for key unconditionally, replacing whatever entry is
// currently resident (pending or resolved). If a fetch was in flight for the
// old entry, its settlement still reaches callers already attached to it,
// but it no longer has any effect on the store once replaced.
func (c *Cache[K, V]) Set(key K, value V) {
	tkey := c.opts.transform(key)
	e := newEntry[V]()
	e.settleResolved(value)
	c.store.Set(tkey, e)
}

// Delete unconditionally removes key's entry, if any.
func (c *Cache[K, V]) Delete(key K) {
	c.store.Delete(c.opts.transform(key))
}

// Has reports whether key currently has an unexpired, successfully settled
// value — never true for a key whose fetch is still pending or that last
// settled with an error.
func (c *Cache[K, V]) Has(key K) bool {
	e, ok := c.store.Get(c.opts.transform(key))
	if !ok {
		return false
	}
	return e.isResolvedOK()
}

// Stats is a read-only snapshot of the cache's current size.
type Stats struct {
	Entries        int
	OldestInserted time.Time
}

// Stats returns a snapshot of the cache's current size, for observability.
// It never mutates the cache and never triggers eviction. Cumulative
// hit/miss/coalesce counts live in the Prometheus registry Options.Metrics
// was built against, not here, since prometheus.Counter deliberately has no
// public read accessor.
func (c *Cache[K, V]) Stats() Stats {
	return Stats{Entries: c.store.Len(), OldestInserted: c.store.OldestInsertedAt()}
}

// Close stops the cache's background sweep goroutine, if one was started via
// Options.CleanupInterval. Idempotent.
func (c *Cache[K, V]) Close() {
	c.store.Close()
}

func wrapFetchErr(err error) error {
	if errors.Is(err, fetch.ErrNoFetcherProduced) {
		return noFetcherProduced()
	}
	return fetcherFailed(err)
}

func kindLabel(err error) string {
	var ce *CacheError
	if errors.As(err, &ce) {
		return ce.Kind.String()
	}
	return "unknown"
}

func reasonLabel(r store.EvictReason) string {
	switch r {
	case store.EvictExpired:
		return "expired"
	case store.EvictCapacity:
		return "capacity"
	case store.EvictDeleted:
		return "deleted"
	case store.EvictReplaced:
		return "replaced"
	default:
		return fmt.Sprintf("unknown(%d)", r)
	}
}
