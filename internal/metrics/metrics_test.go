package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hdds-go/hdds/internal/transport/shm"
)

func TestFragmentMetricsRecordsCompletedAndEvicted(t *testing.T) {
	m := NewFragmentMetrics(nil)
	m.IncCompleted()
	m.AddEvicted(3)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.Completed))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.Evicted))
}

func TestSlabMetricsRecordsExhausted(t *testing.T) {
	m := NewSlabMetrics(nil)
	m.IncExhausted()
	m.IncExhausted()

	assert.Equal(t, float64(2), testutil.ToFloat64(m.Exhausted))
}

func TestLBWMetricsRecordsRetriesAndFailures(t *testing.T) {
	m := NewLBWMetrics(nil)
	m.IncHelloRetries()
	m.IncHandshakeFail()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.HelloRetries))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.HandshakeFail))
}

func TestRegistryHandlerServesShmBridgeCollector(t *testing.T) {
	reg := NewRegistry()
	collector := NewShmCollector()
	reg.MustRegister(collector)

	r := &shm.Reader{}
	r.Metrics.MessagesRead.Store(5)
	r.Metrics.Overruns.Store(1)
	collector.Track("test-bucket", r)

	require.NotNil(t, reg.Handler())
	count := testutil.CollectAndCount(collector)
	assert.Equal(t, 4, count)
}

func TestShmCollectorUntrackStopsReporting(t *testing.T) {
	collector := NewShmCollector()
	r := &shm.Reader{}
	collector.Track("b", r)
	collector.Untrack("b")

	assert.Equal(t, 0, testutil.CollectAndCount(collector))
}
