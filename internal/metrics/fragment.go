package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// FragmentMetrics counts DATA_FRAG reassembly outcomes (C6, §4.6). It
// satisfies the fragment package's metricsRecorder interface so
// fragment.Buffer need not import this package directly.
type FragmentMetrics struct {
	Completed prometheus.Counter
	Evicted   prometheus.Counter
}

// IncCompleted records one fully reassembled sample.
func (f *FragmentMetrics) IncCompleted() { f.Completed.Inc() }

// AddEvicted records n reassemblies abandoned in one sweep.
func (f *FragmentMetrics) AddEvicted(n int) { f.Evicted.Add(float64(n)) }

// NewFragmentMetrics constructs fragment-reassembly metrics against reg.
// A nil reg builds working but unregistered instruments, for test
// isolation across multiple Buffers in the same process.
func NewFragmentMetrics(reg prometheus.Registerer) *FragmentMetrics {
	f := promauto.With(reg)
	return &FragmentMetrics{
		Completed: f.NewCounter(prometheus.CounterOpts{
			Name: "hdds_fragment_reassembly_completed_total",
			Help: "Fragmented samples fully reassembled.",
		}),
		Evicted: f.NewCounter(prometheus.CounterOpts{
			Name: "hdds_fragment_reassembly_evicted_total",
			Help: "In-flight reassemblies abandoned by TTL expiry (LRU displacements are not counted).",
		}),
	}
}
