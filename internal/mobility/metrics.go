package mobility

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the mobility manager as
// plain Counter and Gauge fields on a struct, the shape used throughout
// the ambient metrics stack.
type Metrics struct {
	PollsTotal            prometheus.Counter
	AddressesAddedTotal   prometheus.Counter
	AddressesRemovedTotal prometheus.Counter
	LocatorsExpiredTotal  prometheus.Counter
	ReannounceBurstsTotal prometheus.Counter
	ActiveLocators        prometheus.Gauge
	HoldDownLocators      prometheus.Gauge
}

// NewMetrics builds and registers mobility metrics against reg. Passing a
// nil Registerer builds working, unregistered metrics — useful in tests
// that construct more than one Manager in the same process.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PollsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "mobility_polls_total",
			Help: "Total number of mobility detector polls performed.",
		}),
		AddressesAddedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "mobility_addresses_added_total",
			Help: "Total number of locators that transitioned to active.",
		}),
		AddressesRemovedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "mobility_addresses_removed_total",
			Help: "Total number of locators that entered hold-down.",
		}),
		LocatorsExpiredTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "mobility_locators_expired_total",
			Help: "Total number of hold-down locators dropped after expiry.",
		}),
		ReannounceBurstsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "mobility_reannounce_bursts_total",
			Help: "Total number of completed reannounce bursts.",
		}),
		ActiveLocators: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mobility_active_locators",
			Help: "Number of currently active locators.",
		}),
		HoldDownLocators: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mobility_hold_down_locators",
			Help: "Number of locators currently in hold-down.",
		}),
	}
}
