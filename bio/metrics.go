package bio

import "github.com/prometheus/client_golang/prometheus"

// Metrics is optional Prometheus instrumentation for a Cache. A nil
// *Metrics is always safe to call through.
type Metrics struct {
	hits       prometheus.Counter
	misses     prometheus.Counter
	steals     prometheus.Counter
	exhausted  prometheus.Counter
	diskReads  prometheus.Counter
	diskWrites prometheus.Counter
}

// NewMetrics registers the cache's counters on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bio_cache_hits_total",
			Help: "Total get() calls satisfied by an already-resident buffer.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bio_cache_misses_total",
			Help: "Total get() calls satisfied by an idle victim in the home bucket.",
		}),
		steals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bio_cache_steals_total",
			Help: "Total get() calls satisfied by stealing a victim from another bucket.",
		}),
		exhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bio_cache_exhausted_total",
			Help: "Total get() calls that found no victim anywhere (fatal).",
		}),
		diskReads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bio_disk_reads_total",
			Help: "Total disk reads issued to fill an invalid buffer.",
		}),
		diskWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bio_disk_writes_total",
			Help: "Total disk writes issued by Write.",
		}),
	}
	reg.MustRegister(m.hits, m.misses, m.steals, m.exhausted, m.diskReads, m.diskWrites)
	return m
}

func (m *Metrics) incHit() {
	if m != nil {
		m.hits.Inc()
	}
}

func (m *Metrics) incMiss() {
	if m != nil {
		m.misses.Inc()
	}
}

func (m *Metrics) incSteal() {
	if m != nil {
		m.steals.Inc()
	}
}

func (m *Metrics) incExhausted() {
	if m != nil {
		m.exhausted.Inc()
	}
}

func (m *Metrics) incDiskRead() {
	if m != nil {
		m.diskReads.Inc()
	}
}

func (m *Metrics) incDiskWrite() {
	if m != nil {
		m.diskWrites.Inc()
	}
}
