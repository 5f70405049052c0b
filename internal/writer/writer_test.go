package writer

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hdds-go/hdds/internal/ddsid"
	"github.com/hdds-go/hdds/internal/merger"
	"github.com/hdds-go/hdds/internal/qos"
	"github.com/hdds-go/hdds/internal/registry"
	"github.com/hdds-go/hdds/internal/ring"
	"github.com/hdds-go/hdds/internal/rtps"
	"github.com/hdds-go/hdds/internal/slab"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []struct {
		loc     ddsid.Locator
		payload []byte
	}
}

func (f *fakeSender) SendUserData(loc ddsid.Locator, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte(nil), payload...)
	f.sent = append(f.sent, struct {
		loc     ddsid.Locator
		payload []byte
	}{loc, cp})
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func testWriterGUID(seed byte) ddsid.GUID {
	var g ddsid.GUID
	for i := range g.Prefix {
		g.Prefix[i] = seed
	}
	g.Entity = ddsid.EntityID{0x00, 0x00, 0x02, 0x02}
	return g
}

func testReaderGUID(seed byte) ddsid.GUID {
	var g ddsid.GUID
	for i := range g.Prefix {
		g.Prefix[i] = seed
	}
	g.Entity = ddsid.EntityID{0x00, 0x00, 0x02, 0x04}
	return g
}

func TestBuildRejectsInvalidPolicy(t *testing.T) {
	cfg := Config{
		WriterGUID: testWriterGUID(1),
		TopicName:  "temp",
		TypeName:   "sensors.Temp",
		Policy:     qos.Policy{History: qos.History{KeepAll: true}}, // KeepAll needs MaxSamples > 0
		Registry:   registry.NewRegistry(),
	}
	_, err := Build(context.Background(), cfg)
	assert.Error(t, err)
}

func TestWriteDeliversIntraProcessViaMerger(t *testing.T) {
	pool := slab.NewPool(16, 64)
	reg := registry.NewRegistry()
	cfg := Config{
		WriterGUID: testWriterGUID(1),
		TopicName:  "temp",
		TypeName:   "sensors.Temp",
		Policy:     qos.Default(),
		Pool:       pool,
		Registry:   reg,
	}
	w, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer w.Close()

	readerRing := ring.New(4)
	cursor := ring.NewCursor(readerRing)
	tok := reg.RegisterReader(0, w.TopicKey(), &registry.Endpoint{
		GUID:   testReaderGUID(3),
		Policy: qos.Default(),
		BindCallback: func(m *merger.Merger) {
			m.RegisterReader(readerRing, nil)
		},
	})
	defer tok.Unregister()

	seq, err := w.Write([]byte("payload"), ddsid.InstanceHandle{})
	require.NoError(t, err)
	assert.Equal(t, ddsid.SequenceNumber(1), seq)

	entry, ok := readerRing.Pop(cursor)
	require.True(t, ok, "writer's merger push should have reached the reader's ring")
	got := pool.GetBuffer(entry.Handle)
	assert.Equal(t, []byte("payload"), got[:entry.Len])
}

func TestWriteBestEffortSendsDataToMatchedRemoteReader(t *testing.T) {
	sender := &fakeSender{}
	cfg := Config{
		WriterGUID: testWriterGUID(1),
		TopicName:  "temp",
		TypeName:   "sensors.Temp",
		Policy:     qos.Default(), // BestEffort, Volatile
		Transport:  sender,
		Registry:   registry.NewRegistry(),
	}
	w, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer w.Close()

	reader := testReaderGUID(2)
	loc := ddsid.NewUDPv4Locator(127, 0, 0, 1, 7412)
	w.AddRemoteReader(reader, loc)

	seq, err := w.Write([]byte("hello"), ddsid.InstanceHandle{})
	require.NoError(t, err)
	assert.Equal(t, ddsid.SequenceNumber(1), seq)

	require.Equal(t, 1, sender.count())
	got := sender.sent[0]
	assert.Equal(t, loc, got.loc)

	subs := rtps.WalkSubmessages(got.payload)
	require.Len(t, subs, 1)
	assert.Equal(t, rtps.SubmsgData, subs[0].Header.ID)
	d, err := rtps.ParseData(subs[0].Body, subs[0].Header.Flags)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), d.SerializedPayload)
	assert.Equal(t, ddsid.SequenceNumber(1), d.WriterSN)
}

func TestWriteFragmentsOversizedPayload(t *testing.T) {
	sender := &fakeSender{}
	cfg := Config{
		WriterGUID:   testWriterGUID(1),
		TopicName:    "blob",
		TypeName:     "sensors.Blob",
		Policy:       qos.Default(),
		Transport:    sender,
		Registry:     registry.NewRegistry(),
		FragmentSize: 1024,
	}
	w, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer w.Close()

	reader := testReaderGUID(2)
	w.AddRemoteReader(reader, ddsid.NewUDPv4Locator(127, 0, 0, 1, 7413))

	payload := make([]byte, FragmentThreshold+1)
	_, err = w.Write(payload, ddsid.InstanceHandle{})
	require.NoError(t, err)

	wantFrags := (len(payload) + cfg.FragmentSize - 1) / cfg.FragmentSize
	require.Equal(t, wantFrags, sender.count())

	subs := rtps.WalkSubmessages(sender.sent[0].payload)
	require.Len(t, subs, 1)
	assert.Equal(t, rtps.SubmsgDataFrag, subs[0].Header.ID)
}

func TestReliableWriterReplaysHistoryToNewReader(t *testing.T) {
	sender := &fakeSender{}
	cfg := Config{
		WriterGUID: testWriterGUID(1),
		TopicName:  "temp",
		TypeName:   "sensors.Temp",
		Policy: qos.Policy{
			Reliability: qos.Reliable,
			Durability:  qos.TransientLocal,
			History:     qos.History{Depth: 10},
		},
		Transport: sender,
		Registry:  registry.NewRegistry(),
	}
	w, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Write([]byte("first"), ddsid.InstanceHandle{})
	require.NoError(t, err)
	_, err = w.Write([]byte("second"), ddsid.InstanceHandle{})
	require.NoError(t, err)

	// Writing with no matched reader yet sends nothing over the wire.
	assert.Equal(t, 0, sender.count())

	reader := testReaderGUID(2)
	w.AddRemoteReader(reader, ddsid.NewUDPv4Locator(127, 0, 0, 1, 7414))

	// The reliability engine's AddRemoteReader replays both cached samples.
	assert.Equal(t, 2, sender.count(), "late-joining reader should receive full transient-local replay")
}

func TestRegisterWriterMatchesCompatibleLocalReader(t *testing.T) {
	reg := registry.NewRegistry()
	pool := slab.NewPool(16, 64)
	cfg := Config{
		WriterGUID: testWriterGUID(1),
		TopicName:  "temp",
		TypeName:   "sensors.Temp",
		Policy:     qos.Default(),
		Pool:       pool,
		Registry:   reg,
	}
	w, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer w.Close()

	var bound bool
	readerEP := &registry.Endpoint{
		GUID:   testReaderGUID(2),
		Policy: qos.Default(),
		BindCallback: func(m *merger.Merger) {
			bound = m != nil
		},
	}
	tok := reg.RegisterReader(0, w.TopicKey(), readerEP)
	defer tok.Unregister()

	assert.True(t, bound, "compatible local reader should bind to the writer's merger immediately")
}
