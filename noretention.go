package cachecoalesce

// NewNoRetention builds a Cache that still coalesces concurrent callers for
// the same key onto one fetch, but purges every fetched entry immediately
// once it settles, successfully or not, so a later Get or GetMany call
// starts (or joins) a fresh fetch rather than serving a previously fetched
// value. A value installed with Set is not purged and is served as in New.
// Equivalent to New with Options.NoRetention forced to true.
func NewNoRetention[K comparable, V any](opts Options[K, V]) (*Cache[K, V], error) {
	opts.NoRetention = true
	return New(opts)
}
