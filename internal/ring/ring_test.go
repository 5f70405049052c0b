package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hdds-go/hdds/internal/ddsid"
)

func TestPushPopOrder(t *testing.T) {
	r := New(4)
	c := NewCursor(r)

	for i := 0; i < 3; i++ {
		ok := r.Push(Entry{Seq: ddsid.SequenceNumber(i + 1)})
		require.True(t, ok)
	}

	count := 0
	for {
		e, ok := r.Pop(c)
		if !ok {
			break
		}
		count++
		assert.Equal(t, ddsid.SequenceNumber(count), e.Seq)
	}
	assert.Equal(t, 3, count)
}

func TestPushFailsWhenFullAgainstSlowConsumer(t *testing.T) {
	r := New(2)
	c := NewCursor(r)

	assert.True(t, r.Push(Entry{}))
	assert.True(t, r.Push(Entry{}))
	assert.False(t, r.Push(Entry{}), "ring should report full rather than overwrite unread entries")

	_, ok := r.Pop(c)
	require.True(t, ok)
	assert.True(t, r.Push(Entry{}), "freeing a slot via Pop should allow another Push")
}

func TestIndependentCursors(t *testing.T) {
	r := New(8)
	c1 := NewCursor(r)

	for i := 0; i < 3; i++ {
		require.True(t, r.Push(Entry{Seq: 1}))
	}

	c2 := NewCursor(r) // registers after the first 3 pushes

	_, ok := r.Pop(c1)
	require.True(t, ok)

	_, ok = r.Pop(c2)
	assert.False(t, ok, "c2 should only see entries pushed after it registered")
}

func TestUnregisterRemovesBackpressure(t *testing.T) {
	r := New(2)
	c := NewCursor(r)
	require.True(t, r.Push(Entry{}))
	require.True(t, r.Push(Entry{}))
	require.False(t, r.Push(Entry{}))

	r.Unregister(c)
	assert.True(t, r.Push(Entry{}), "an unregistered cursor must not continue to block the producer")
}

func TestNewPanicsOnNonPowerOfTwo(t *testing.T) {
	assert.Panics(t, func() { New(3) })
}
