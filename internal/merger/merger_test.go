package merger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hdds-go/hdds/internal/ddsid"
	"github.com/hdds-go/hdds/internal/history"
	"github.com/hdds-go/hdds/internal/ring"
	"github.com/hdds-go/hdds/internal/slab"
)

func TestPushFansOutToAllReaders(t *testing.T) {
	pool := slab.NewPool(16, 64)
	m := New(pool)

	r1, r2 := ring.New(4), ring.New(4)
	c1, c2 := ring.NewCursor(r1), ring.NewCursor(r2)
	m.RegisterReader(r1, nil)
	m.RegisterReader(r2, nil)

	m.Push(ring.Entry{Seq: 1})

	_, ok1 := r1.Pop(c1)
	_, ok2 := r2.Pop(c2)
	assert.True(t, ok1)
	assert.True(t, ok2)
}

func TestUnregisterStopsFanout(t *testing.T) {
	pool := slab.NewPool(16, 64)
	m := New(pool)

	r1 := ring.New(4)
	c1 := ring.NewCursor(r1)
	tok := m.RegisterReader(r1, nil)
	tok.Unregister()

	m.Push(ring.Entry{Seq: 1})
	_, ok := r1.Pop(c1)
	assert.False(t, ok)
	assert.Equal(t, 0, m.ReaderCount())
}

func TestTransientLocalReplayOnLateJoin(t *testing.T) {
	pool := slab.NewPool(16, 64)
	m := New(pool)

	h := history.New(history.Policy{KeepLastN: 10})
	m.EnableHistory(h)

	for i := 1; i <= 25; i++ {
		require.NoError(t, h.Insert(history.Entry{Seq: ddsid.SequenceNumber(i), Payload: []byte{byte(i)}}))
	}

	r := ring.New(64)
	c := ring.NewCursor(r)
	m.RegisterReader(r, nil)

	var got []int
	for {
		e, ok := r.Pop(c)
		if !ok {
			break
		}
		buf := pool.GetBuffer(e.Handle)
		got = append(got, int(buf[0]))
	}

	require.Len(t, got, 10, "late joiner should receive exactly the last 10 samples (S6)")
	assert.Equal(t, 16, got[0])
	assert.Equal(t, 25, got[9])
}
