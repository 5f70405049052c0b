package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hdds-go/hdds/internal/transport/shm"
)

// ShmCollector exposes a set of shm.Reader ReaderMetrics as Prometheus
// counters. It implements prometheus.Collector directly, rather than
// Inc()-ing a promauto counter on every ring read, so publishing
// metrics never adds a write to the ring consumer's hot path — the
// atomics are only summed when Prometheus scrapes.
type ShmCollector struct {
	mu      sync.Mutex
	readers map[string]*shm.Reader

	messagesRead *prometheus.Desc
	overruns     *prometheus.Desc
	corrupted    *prometheus.Desc
	emptyPolls   *prometheus.Desc
}

// NewShmCollector builds an empty collector. Register it with a
// Registry, then call Track for each shm.Reader to include in scrapes.
func NewShmCollector() *ShmCollector {
	return &ShmCollector{
		readers: make(map[string]*shm.Reader),
		messagesRead: prometheus.NewDesc("hdds_shm_messages_read_total",
			"Messages successfully popped from an SHM ring.", []string{"bucket"}, nil),
		overruns: prometheus.NewDesc("hdds_shm_overruns_total",
			"Reader cursor jumps caused by falling behind the writer.", []string{"bucket"}, nil),
		corrupted: prometheus.NewDesc("hdds_shm_corrupted_total",
			"Torn slot reads detected by the sequence-number guard.", []string{"bucket"}, nil),
		emptyPolls: prometheus.NewDesc("hdds_shm_empty_polls_total",
			"TryPop calls that found no new data.", []string{"bucket"}, nil),
	}
}

// Track registers an shm.Reader to be scraped under the given bucket
// label. Re-Track with the same label replaces the previous reader.
func (c *ShmCollector) Track(bucket string, r *shm.Reader) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readers[bucket] = r
}

// Untrack removes a reader, e.g. once its ring segment is unlinked.
func (c *ShmCollector) Untrack(bucket string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.readers, bucket)
}

func (c *ShmCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.messagesRead
	ch <- c.overruns
	ch <- c.corrupted
	ch <- c.emptyPolls
}

func (c *ShmCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	snapshot := make(map[string]*shm.Reader, len(c.readers))
	for k, v := range c.readers {
		snapshot[k] = v
	}
	c.mu.Unlock()

	for bucket, r := range snapshot {
		m := &r.Metrics
		ch <- prometheus.MustNewConstMetric(c.messagesRead, prometheus.CounterValue, float64(m.MessagesRead.Load()), bucket)
		ch <- prometheus.MustNewConstMetric(c.overruns, prometheus.CounterValue, float64(m.Overruns.Load()), bucket)
		ch <- prometheus.MustNewConstMetric(c.corrupted, prometheus.CounterValue, float64(m.Corrupted.Load()), bucket)
		ch <- prometheus.MustNewConstMetric(c.emptyPolls, prometheus.CounterValue, float64(m.EmptyPolls.Load()), bucket)
	}
}
