package slab

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReserveCommitGetRelease(t *testing.T) {
	p := NewPool(4, 64)

	h, buf, ok := p.Reserve(5)
	require.True(t, ok)
	copy(buf, []byte("hello"))
	p.Commit(h, 5)

	got := p.GetBuffer(h)
	assert.Equal(t, []byte("hello"), got)

	p.Release(h)
	assert.Nil(t, p.GetBuffer(h), "generation should have advanced past a released handle")
}

func TestReserveExhaustion(t *testing.T) {
	p := NewPool(2, 16)

	h1, _, ok1 := p.Reserve(4)
	require.True(t, ok1)
	_, _, ok2 := p.Reserve(4)
	require.True(t, ok2)

	_, _, ok3 := p.Reserve(4)
	assert.False(t, ok3, "pool should report backpressure, not panic or block")

	p.Release(h1)
	_, _, ok4 := p.Reserve(4)
	assert.True(t, ok4, "slot should be reusable after release")
}

func TestCapacityInvariant(t *testing.T) {
	p := NewPool(8, 16)
	var handles []Handle
	for i := 0; i < 5; i++ {
		h, _, ok := p.Reserve(4)
		require.True(t, ok)
		handles = append(handles, h)
	}

	stats := p.Stats()
	assert.Equal(t, stats.Capacity, stats.Free+stats.InUse)
	assert.Equal(t, 5, stats.InUse)

	for _, h := range handles {
		p.Release(h)
	}
	stats = p.Stats()
	assert.Equal(t, 0, stats.InUse)
	assert.Equal(t, 8, stats.Free)
}

func TestConcurrentReserveRelease(t *testing.T) {
	p := NewPool(16, 32)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				h, _, ok := p.Reserve(8)
				if !ok {
					continue
				}
				p.Commit(h, 8)
				p.Release(h)
			}
		}()
	}
	wg.Wait()

	stats := p.Stats()
	assert.Equal(t, stats.Capacity, stats.Free+stats.InUse)
}

func TestStaleHandleAfterRelease(t *testing.T) {
	p := NewPool(1, 16)
	h, buf, ok := p.Reserve(4)
	require.True(t, ok)
	copy(buf, []byte("abcd"))
	p.Commit(h, 4)
	p.Release(h)

	h2, buf2, ok := p.Reserve(4)
	require.True(t, ok)
	copy(buf2, []byte("wxyz"))
	p.Commit(h2, 4)

	assert.Nil(t, p.GetBuffer(h), "stale handle must not see the new occupant's data")
	assert.Equal(t, []byte("wxyz"), p.GetBuffer(h2))
}
