package discovery

import (
	"sync"
	"testing"
	"time"

	"github.com/hdds-go/hdds/internal/ddsid"
	"github.com/hdds-go/hdds/internal/discovery/sedp"
	"github.com/hdds-go/hdds/internal/discovery/spdp"
	"github.com/hdds-go/hdds/internal/qos"
	"github.com/hdds-go/hdds/internal/rtps/dialect"
)

type recordingSender struct {
	mu        sync.Mutex
	multicast [][]byte
	unicast   []struct {
		loc     ddsid.Locator
		payload []byte
	}
}

func (s *recordingSender) SendMetatrafficMulticast(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.multicast = append(s.multicast, payload)
	return nil
}

func (s *recordingSender) SendMetatrafficUnicast(loc ddsid.Locator, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unicast = append(s.unicast, struct {
		loc     ddsid.Locator
		payload []byte
	}{loc, payload})
	return nil
}

func newTestEngine(t *testing.T, guid ddsid.GUID, sender Sender) *Engine {
	t.Helper()
	d, err := dialect.New(dialect.Hybrid)
	if err != nil {
		t.Fatalf("dialect.New: %v", err)
	}
	return NewEngine(Config{
		ParticipantGUID:            guid,
		DomainID:                   0,
		Dialect:                    d,
		Transport:                  sender,
		MetatrafficUnicastLocators: []ddsid.Locator{ddsid.NewUDPv4Locator(127, 0, 0, 1, 7410)},
	})
}

func testGUID(b byte) ddsid.GUID {
	return ddsid.GUID{
		Prefix: ddsid.GUIDPrefix{b, b, b, b, b, b, b, b, b, b, b, b},
		Entity: ddsid.EntityIDParticipant,
	}
}

func TestAnnounceNowSendsMulticastSPDP(t *testing.T) {
	sender := &recordingSender{}
	e := newTestEngine(t, testGUID(1), sender)
	e.AnnounceNow()

	if len(sender.multicast) != 1 {
		t.Fatalf("got %d multicast sends, want 1", len(sender.multicast))
	}
	data, err := spdp.Parse(sender.multicast[0])
	if err != nil {
		t.Fatalf("spdp.Parse: %v", err)
	}
	if data.ParticipantGUID != testGUID(1) {
		t.Fatalf("got GUID %v, want %v", data.ParticipantGUID, testGUID(1))
	}
}

func TestOnSPDPReceivedInsertsParticipantAndPushesLocalEndpointsUnicast(t *testing.T) {
	sender := &recordingSender{}
	e := newTestEngine(t, testGUID(1), sender)

	writer := LocalEndpoint{
		GUID:      ddsid.GUID{Prefix: testGUID(1).Prefix, Entity: ddsid.EntityIDSEDPPubWriter},
		Kind:      ddsid.KindWriter,
		TopicName: "temp",
		TypeName:  "sensors.Temp",
		Policy:    qos.Default(),
	}
	e.RegisterLocalEndpoint(writer)

	peerData := spdp.ParticipantData{
		ParticipantGUID:            testGUID(2),
		LeaseDuration:              100 * time.Second,
		MetatrafficUnicastLocators: []ddsid.Locator{ddsid.NewUDPv4Locator(127, 0, 0, 1, 7420)},
	}
	d, _ := dialect.New(dialect.Hybrid)
	wire := spdp.Build(d, peerData)

	e.OnSPDPReceived(wire)

	participants := e.Participants()
	if len(participants) != 1 || participants[0].GUID != testGUID(2) {
		t.Fatalf("got participants %+v", participants)
	}

	if len(sender.unicast) != 1 {
		t.Fatalf("got %d unicast sends, want 1 (SEDP push to new peer)", len(sender.unicast))
	}
	ep, err := sedp.Parse(sender.unicast[0].payload)
	if err != nil {
		t.Fatalf("sedp.Parse: %v", err)
	}
	if ep.TopicName != "temp" {
		t.Fatalf("got topic %q, want temp", ep.TopicName)
	}
}

func TestOnSPDPReceivedIgnoresOwnAnnouncement(t *testing.T) {
	sender := &recordingSender{}
	e := newTestEngine(t, testGUID(1), sender)
	e.AnnounceNow()

	e.OnSPDPReceived(sender.multicast[0])
	if len(e.Participants()) != 0 {
		t.Fatal("expected own announcement to be ignored, not inserted as a participant")
	}
}

func TestOnSEDPReceivedMatchesOppositeKindSameTopic(t *testing.T) {
	sender := &recordingSender{}
	e := newTestEngine(t, testGUID(1), sender)

	var matches []Match
	e.cfg.OnMatch = func(m Match) { matches = append(matches, m) }

	reader := LocalEndpoint{
		GUID:      ddsid.GUID{Prefix: testGUID(1).Prefix, Entity: ddsid.EntityIDSEDPSubReader},
		Kind:      ddsid.KindReader,
		TopicName: "temp",
		TypeName:  "sensors.Temp",
		Policy:    qos.Default(),
	}
	e.RegisterLocalEndpoint(reader)

	remoteWriter := sedp.EndpointData{
		EndpointGUID: ddsid.GUID{Prefix: testGUID(2).Prefix, Entity: ddsid.EntityIDSEDPPubWriter},
		Kind:         ddsid.KindWriter,
		TopicName:    "temp",
		TypeName:     "sensors.Temp",
	}
	d, _ := dialect.New(dialect.Hybrid)
	wire := sedp.Build(d, remoteWriter)

	e.OnSEDPReceived(wire)

	if len(matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(matches))
	}
	if matches[0].Local.GUID != reader.GUID || matches[0].Remote.EndpointGUID != remoteWriter.EndpointGUID {
		t.Fatalf("got match %+v", matches[0])
	}

	// Re-delivering the same SEDP sample should not produce a duplicate match.
	e.OnSEDPReceived(wire)
	if len(matches) != 1 {
		t.Fatalf("got %d matches after duplicate SEDP, want 1 (deduped)", len(matches))
	}
}

func TestOnSEDPReceivedSkipsSameKind(t *testing.T) {
	sender := &recordingSender{}
	e := newTestEngine(t, testGUID(1), sender)

	var matches []Match
	e.cfg.OnMatch = func(m Match) { matches = append(matches, m) }

	writer := LocalEndpoint{
		GUID:      ddsid.GUID{Prefix: testGUID(1).Prefix, Entity: ddsid.EntityIDSEDPPubWriter},
		Kind:      ddsid.KindWriter,
		TopicName: "temp",
		TypeName:  "sensors.Temp",
	}
	e.RegisterLocalEndpoint(writer)

	remoteWriter := sedp.EndpointData{
		EndpointGUID: ddsid.GUID{Prefix: testGUID(2).Prefix, Entity: ddsid.EntityIDSEDPPubWriter},
		Kind:         ddsid.KindWriter,
		TopicName:    "temp",
		TypeName:     "sensors.Temp",
	}
	d, _ := dialect.New(dialect.Hybrid)
	e.OnSEDPReceived(sedp.Build(d, remoteWriter))

	if len(matches) != 0 {
		t.Fatalf("expected no match between two writers, got %+v", matches)
	}
}

func TestSweepExpiredRemovesStaleParticipant(t *testing.T) {
	sender := &recordingSender{}
	e := newTestEngine(t, testGUID(1), sender)

	peerData := spdp.ParticipantData{
		ParticipantGUID: testGUID(2),
		LeaseDuration:   time.Millisecond,
	}
	d, _ := dialect.New(dialect.Hybrid)
	e.OnSPDPReceived(spdp.Build(d, peerData))

	if len(e.Participants()) != 1 {
		t.Fatal("expected participant to be inserted")
	}

	e.sweepExpired(time.Now().Add(time.Second))
	if len(e.Participants()) != 0 {
		t.Fatal("expected expired participant to be swept")
	}
}
