package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LBWMetrics counts low-bandwidth-wrapper handshake/retry activity
// (§4.11, §6.4). It satisfies the lbw package's sessionRecorder
// interface so lbw.Session need not import this package directly.
type LBWMetrics struct {
	HelloRetries  prometheus.Counter
	HandshakeFail prometheus.Counter
}

// IncHelloRetries records one HELLO retransmission.
func (l *LBWMetrics) IncHelloRetries() { l.HelloRetries.Inc() }

// IncHandshakeFail records one session that exhausted HelloMaxRetries.
func (l *LBWMetrics) IncHandshakeFail() { l.HandshakeFail.Inc() }

// NewLBWMetrics constructs LBW session metrics against reg. A nil reg
// builds working but unregistered instruments.
func NewLBWMetrics(reg prometheus.Registerer) *LBWMetrics {
	f := promauto.With(reg)
	return &LBWMetrics{
		HelloRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "hdds_lbw_hello_retries_total",
			Help: "HELLO retransmissions sent while a session was Connecting.",
		}),
		HandshakeFail: f.NewCounter(prometheus.CounterOpts{
			Name: "hdds_lbw_handshake_failures_total",
			Help: "Sessions that exhausted HelloMaxRetries without reaching Established.",
		}),
	}
}
