// Package metrics wires the cache facade into Prometheus, mirroring the
// counter-per-operation style used by jonwraymond-toolops/observe and
// BaSui01-agentflow's instrumentation. A nil *Recorder no-ops everywhere, so
// metrics are entirely optional.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Recorder records cache operation counters. The zero value is not usable;
// construct with New. A nil *Recorder is safe to call methods on.
type Recorder struct {
	hits       prometheus.Counter
	misses     prometheus.Counter
	coalesced  prometheus.Counter
	evictions  *prometheus.CounterVec
	rejections *prometheus.CounterVec
}

// New builds a Recorder under namespace and registers it against reg. reg
// may be nil, in which case the counters are created but never exposed
// (useful for tests that only want the in-process numbers).
func New(reg prometheus.Registerer, namespace string) *Recorder {
	r := &Recorder{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Number of get operations served from an unexpired entry without invoking a fetcher.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Number of get operations that started a new fetch.",
		}),
		coalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_coalesced_joins_total",
			Help:      "Number of get operations that joined an already in-flight fetch.",
		}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Number of entries removed from the store, by reason.",
		}, []string{"reason"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_rejections_total",
			Help:      "Number of get operations that settled with an error, by kind.",
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(r.hits, r.misses, r.coalesced, r.evictions, r.rejections)
	}
	return r
}

func (r *Recorder) Hit() {
	if r != nil {
		r.hits.Inc()
	}
}

func (r *Recorder) Miss() {
	if r != nil {
		r.misses.Inc()
	}
}

func (r *Recorder) Coalesced() {
	if r != nil {
		r.coalesced.Inc()
	}
}

func (r *Recorder) Evicted(reason string) {
	if r != nil {
		r.evictions.WithLabelValues(reason).Inc()
	}
}

func (r *Recorder) Rejected(kind string) {
	if r != nil {
		r.rejections.WithLabelValues(kind).Inc()
	}
}
