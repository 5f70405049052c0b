package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SlabMetrics counts arena-allocator backpressure events (C1, §4.1). It
// satisfies the slab package's exhaustedCounter interface so slab.Pool
// need not import this package directly.
type SlabMetrics struct {
	Exhausted prometheus.Counter
}

// IncExhausted records one Reserve call that found every slot in use.
func (s *SlabMetrics) IncExhausted() { s.Exhausted.Inc() }

// NewSlabMetrics constructs slab-pool metrics against reg. A nil reg
// builds working but unregistered instruments.
func NewSlabMetrics(reg prometheus.Registerer) *SlabMetrics {
	return &SlabMetrics{
		Exhausted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "hdds_slab_exhausted_total",
			Help: "Reserve calls that found every slot in use (WouldBlock backpressure).",
		}),
	}
}
