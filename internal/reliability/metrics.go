package reliability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the reliability engine.
type Metrics struct {
	HeartbeatsSent   prometheus.Counter
	AckNacksReceived prometheus.Counter
	AckNacksDropped  *prometheus.CounterVec
	Retransmits      *prometheus.CounterVec
	NackFragsHandled prometheus.Counter
	ReplayedSamples  prometheus.Counter
}

var (
	defaultMetricsOnce sync.Once
	defaultMetrics     *Metrics
)

// NewMetrics returns the reliability engine's metrics, registered on the
// Prometheus default registry. The instruments are created and registered
// on the first call; later calls return the same *Metrics.
func NewMetrics() *Metrics {
	defaultMetricsOnce.Do(func() { defaultMetrics = newMetrics() })
	return defaultMetrics
}

func newMetrics() *Metrics {
	return &Metrics{
		HeartbeatsSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hdds_reliability_heartbeats_sent_total",
			Help: "Total number of HEARTBEAT submessages sent by writers.",
		}),
		AckNacksReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hdds_reliability_acknacks_received_total",
			Help: "Total number of ACKNACK submessages received.",
		}),
		AckNacksDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "hdds_reliability_acknacks_dropped_total",
			Help: "ACKNACK submessages dropped as stale duplicates.",
		}, []string{"reader"}),
		Retransmits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "hdds_reliability_retransmits_total",
			Help: "Samples retransmitted in response to ACKNACK.",
		}, []string{"reader"}),
		NackFragsHandled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hdds_reliability_nack_frags_handled_total",
			Help: "Total number of NACK_FRAG submessages handled.",
		}),
		ReplayedSamples: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hdds_reliability_replayed_samples_total",
			Help: "Transient-local samples replayed to newly matched readers.",
		}),
	}
}
