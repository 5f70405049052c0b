// Package metrics wires the runtime's subsystem counters into
// Prometheus, the same struct-of-instruments-per-subsystem pattern the
// reference codebase's escrow/metrics.go uses. It also bridges the
// lock-free hot-path counters that SHM ring readers keep as plain
// atomics into a Collector (ShmCollector) whose counters are only read
// on scrape, so exposition never adds contention to that data path.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry owns the Prometheus registry the diagnostics HTTP server
// exposes at /metrics. A dedicated registry (rather than the global
// default) keeps a participant process free to run more than one domain
// instance in-process without double-registration panics.
type Registry struct {
	reg *prometheus.Registry
}

// NewRegistry builds an empty registry pre-populated with the standard
// process and Go runtime collectors.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	reg.MustRegister(prometheus.NewGoCollector())
	return &Registry{reg: reg}
}

// Registerer returns the prometheus.Registerer subsystem constructors
// should pass to promauto.With.
func (r *Registry) Registerer() prometheus.Registerer { return r.reg }

// MustRegister registers additional collectors, such as the bridge
// collectors in this package.
func (r *Registry) MustRegister(cs ...prometheus.Collector) { r.reg.MustRegister(cs...) }

// Handler returns the http.Handler to mount at /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
