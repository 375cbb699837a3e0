package kmem

import "github.com/prometheus/client_golang/prometheus"

// Metrics is optional Prometheus instrumentation for an Allocator. A
// nil *Metrics is always safe to call through -- instrumentation is
// never on the correctness hot path (spec.md 4.1's domain-stack note).
type Metrics struct {
	allocTotal     prometheus.Counter
	freeTotal      prometheus.Counter
	stealTotal     prometheus.Counter
	exhaustedTotal prometheus.Counter
}

// NewMetrics registers the allocator's counters on reg and returns the
// handle to pass to WithMetrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		allocTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kmem_alloc_total",
			Help: "Total frames handed out by Alloc.",
		}),
		freeTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kmem_free_total",
			Help: "Total frames returned by Free.",
		}),
		stealTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kmem_steal_total",
			Help: "Total allocations satisfied from a non-home shard.",
		}),
		exhaustedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kmem_exhausted_total",
			Help: "Total Alloc calls that found every shard empty.",
		}),
	}
	reg.MustRegister(m.allocTotal, m.freeTotal, m.stealTotal, m.exhaustedTotal)
	return m
}

func (m *Metrics) incAlloc() {
	if m != nil {
		m.allocTotal.Inc()
	}
}

func (m *Metrics) incFree() {
	if m != nil {
		m.freeTotal.Inc()
	}
}

func (m *Metrics) incSteal() {
	if m != nil {
		m.stealTotal.Inc()
	}
}

func (m *Metrics) incExhausted() {
	if m != nil {
		m.exhaustedTotal.Inc()
	}
}
