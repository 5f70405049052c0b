package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hdds-go/hdds/internal/ddsid"
)

func TestPushDedupsBySequenceNumber(t *testing.T) {
	c := New[string](10)
	c.Push(1, ddsid.InstanceHandle{}, 0, "a")
	c.Push(1, ddsid.InstanceHandle{}, 0, "a-retransmit")

	assert.Equal(t, 1, c.Len())
	assert.Equal(t, uint64(1), c.TotalReceived())
}

func TestPushEvictsOldestAtCapacityAndShiftsReadCursor(t *testing.T) {
	c := New[int](2)
	c.Push(1, ddsid.InstanceHandle{}, 0, 1)
	c.Push(2, ddsid.InstanceHandle{}, 0, 2)

	got, ok := c.Read()
	require.True(t, ok)
	assert.Equal(t, 1, got)

	// Cache is full (2/2); pushing a third evicts seq 1, which the read
	// cursor had already passed, so the cursor must shift back to keep
	// pointing at seq 2.
	c.Push(3, ddsid.InstanceHandle{}, 0, 3)
	assert.Equal(t, 2, c.Len())

	got, ok = c.Read()
	require.True(t, ok)
	assert.Equal(t, 2, got, "read cursor should not skip seq 2 after the eviction")
}

func TestTakeRemovesFromFrontRegardlessOfReadState(t *testing.T) {
	c := New[int](10)
	c.Push(1, ddsid.InstanceHandle{}, 0, 1)
	c.Push(2, ddsid.InstanceHandle{}, 0, 2)

	got, ok := c.Take()
	require.True(t, ok)
	assert.Equal(t, 1, got)
	assert.Equal(t, 1, c.Len())

	got, ok = c.Take()
	require.True(t, ok)
	assert.Equal(t, 2, got)

	_, ok = c.Take()
	assert.False(t, ok)
}

func TestTakeBatchRespectsMax(t *testing.T) {
	c := New[int](10)
	for i := 1; i <= 5; i++ {
		c.Push(ddsid.SequenceNumber(i), ddsid.InstanceHandle{}, 0, i)
	}

	got := c.TakeBatch(3)
	assert.Equal(t, []int{1, 2, 3}, got)
	assert.Equal(t, 2, c.Len())
}

func TestTakeInstanceFindsFirstMatchRegardlessOfPosition(t *testing.T) {
	c := New[string](10)
	a := ddsid.InstanceHandle{1}
	b := ddsid.InstanceHandle{2}

	c.Push(1, a, 0, "a1")
	c.Push(2, b, 0, "b1")
	c.Push(3, a, 0, "a2")

	got, ok := c.TakeInstance(b)
	require.True(t, ok)
	assert.Equal(t, "b1", got)
	assert.Equal(t, 2, c.Len())

	got, ok = c.TakeInstance(a)
	require.True(t, ok)
	assert.Equal(t, "a1", got, "should take the oldest matching instance sample")
}

func TestTakeInstanceBatchPreservesArrivalOrder(t *testing.T) {
	c := New[string](10)
	a := ddsid.InstanceHandle{1}
	b := ddsid.InstanceHandle{2}

	c.Push(1, a, 0, "a1")
	c.Push(2, b, 0, "b1")
	c.Push(3, a, 0, "a2")
	c.Push(4, a, 0, "a3")

	got := c.TakeInstanceBatch(a, 2)
	assert.Equal(t, []string{"a1", "a2"}, got)

	remaining := c.TakeBatch(10)
	assert.Equal(t, []string{"b1", "a3"}, remaining)
}

func TestReadAdvancesCursorWithoutRemoving(t *testing.T) {
	c := New[int](10)
	c.Push(1, ddsid.InstanceHandle{}, 0, 1)
	c.Push(2, ddsid.InstanceHandle{}, 0, 2)

	first, ok := c.Read()
	require.True(t, ok)
	assert.Equal(t, 1, first)
	assert.Equal(t, 2, c.Len(), "Read must not remove the sample")

	second, ok := c.Read()
	require.True(t, ok)
	assert.Equal(t, 2, second)

	_, ok = c.Read()
	assert.False(t, ok, "cursor reached the end of the cache")
}

func TestReadBatchAndResetReadCursor(t *testing.T) {
	c := New[int](10)
	for i := 1; i <= 4; i++ {
		c.Push(ddsid.SequenceNumber(i), ddsid.InstanceHandle{}, 0, i)
	}

	got := c.ReadBatch(2)
	assert.Equal(t, []int{1, 2}, got)

	c.ResetReadCursor()
	got = c.ReadBatch(10)
	assert.Equal(t, []int{1, 2, 3, 4}, got, "reset cursor should replay from the front")
	assert.Equal(t, 4, c.Len(), "ReadBatch never removes samples")
}

func TestClearEmptiesCacheButKeepsTotalReceived(t *testing.T) {
	c := New[int](10)
	c.Push(1, ddsid.InstanceHandle{}, 0, 1)
	c.Push(2, ddsid.InstanceHandle{}, 0, 2)

	c.Clear()
	assert.True(t, c.IsEmpty())
	assert.Equal(t, uint64(2), c.TotalReceived())
}

func TestUnboundedCacheNeverEvicts(t *testing.T) {
	c := New[int](0)
	for i := 1; i <= 50; i++ {
		c.Push(ddsid.SequenceNumber(i), ddsid.InstanceHandle{}, 0, i)
	}
	assert.Equal(t, 50, c.Len())
}
