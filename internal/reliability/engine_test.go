package reliability

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hdds-go/hdds/internal/ddsid"
	"github.com/hdds-go/hdds/internal/history"
	"github.com/hdds-go/hdds/internal/rtps"
)

type fakeSender struct {
	mu   sync.Mutex
	sent [][]byte
}

func (f *fakeSender) SendTo(loc ddsid.Locator, msg []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte(nil), msg...)
	f.sent = append(f.sent, cp)
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func testReaderGUID(seed byte) ddsid.GUID {
	var g ddsid.GUID
	for i := range g.Prefix {
		g.Prefix[i] = seed
	}
	g.Entity = ddsid.EntityID{0x00, 0x00, 0x01, 0x04}
	return g
}

func TestAddRemoteReaderReplaysHistory(t *testing.T) {
	h := history.New(history.Policy{KeepLastN: 10})
	require.NoError(t, h.Insert(history.Entry{Seq: 1, Payload: []byte("a")}))
	require.NoError(t, h.Insert(history.Entry{Seq: 2, Payload: []byte("b")}))

	sender := &fakeSender{}
	e := New(ddsid.GUID{}, h, sender, nil, time.Hour, 1024)

	e.AddRemoteReader(testReaderGUID(1), ddsid.NewUDPv4Locator(127, 0, 0, 1, 7000))
	assert.Equal(t, 2, sender.count(), "both cached samples should replay to the new reader")
}

func TestHandleAckNackRetransmitsMissingAndIgnoresStaleDuplicates(t *testing.T) {
	h := history.New(history.Policy{KeepLastN: 10})
	require.NoError(t, h.Insert(history.Entry{Seq: 1, Payload: []byte("a")}))
	require.NoError(t, h.Insert(history.Entry{Seq: 2, Payload: []byte("b")}))

	sender := &fakeSender{}
	metrics := NewMetrics()
	e := New(ddsid.GUID{}, h, sender, metrics, time.Hour, 1024)

	reader := testReaderGUID(2)
	e.AddRemoteReader(reader, ddsid.NewUDPv4Locator(127, 0, 0, 1, 7001))
	baseline := sender.count() // replay already sent 2

	var set rtps.SequenceNumberSet
	set.Base = 1
	set.Set(0) // seq 1 missing
	e.HandleAckNack(reader, rtps.AckNack{ReaderSNState: set, Count: 1})
	assert.Equal(t, baseline+1, sender.count(), "exactly one missing sequence should be retransmitted")

	// Duplicate (non-increasing) count must be ignored.
	e.HandleAckNack(reader, rtps.AckNack{ReaderSNState: set, Count: 1})
	assert.Equal(t, baseline+1, sender.count(), "stale ACKNACK count must not trigger another retransmit")

	// A fresh, strictly increasing count is honored again.
	e.HandleAckNack(reader, rtps.AckNack{ReaderSNState: set, Count: 2})
	assert.Equal(t, baseline+2, sender.count())
}

func TestHandleNackFragRebuildsOnlyMissingFragments(t *testing.T) {
	payload := make([]byte, 30) // 3 fragments of size 10
	for i := range payload {
		payload[i] = byte(i)
	}
	h := history.New(history.Policy{KeepLastN: 10})
	require.NoError(t, h.Insert(history.Entry{Seq: 5, Payload: payload}))

	sender := &fakeSender{}
	e := New(ddsid.GUID{}, h, sender, nil, time.Hour, 10)
	reader := testReaderGUID(3)
	e.AddRemoteReader(reader, ddsid.NewUDPv4Locator(127, 0, 0, 1, 7002))
	baseline := sender.count()

	nf := rtps.NackFrag{
		WriterSN:            5,
		FragmentNumberState: rtps.FragmentNumberSet{Base: 2, NumBits: 1, Bitmap: []uint32{1 << 31}},
		Count:               1,
	}
	e.HandleNackFrag(reader, nf)
	assert.Equal(t, baseline+1, sender.count(), "only fragment 2 should be rebuilt")

	sub := sender.sent[len(sender.sent)-1]
	subs := rtps.WalkSubmessages(sub)
	require.Len(t, subs, 1)
	df, err := rtps.ParseDataFrag(subs[0].Body, subs[0].Header.Flags)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), df.FragmentStartNum)
	assert.Equal(t, payload[10:20], df.FragmentData)
}

func TestHeartbeatSchedulerEmitsPeriodically(t *testing.T) {
	h := history.New(history.Policy{KeepLastN: 10})
	require.NoError(t, h.Insert(history.Entry{Seq: 1, Payload: []byte("x")}))

	sender := &fakeSender{}
	metrics := NewMetrics()
	e := New(ddsid.GUID{}, h, sender, metrics, 20*time.Millisecond, 1024)
	e.AddRemoteReader(testReaderGUID(4), ddsid.NewUDPv4Locator(127, 0, 0, 1, 7003))
	baseline := sender.count()

	e.Start(context.Background())
	defer e.Stop()

	require.Eventually(t, func() bool {
		return sender.count() > baseline
	}, time.Second, 5*time.Millisecond)

	sub := sender.sent[len(sender.sent)-1]
	subs := rtps.WalkSubmessages(sub)
	require.Len(t, subs, 1)
	assert.Equal(t, rtps.SubmsgHeartbeat, subs[0].Header.ID)
}
