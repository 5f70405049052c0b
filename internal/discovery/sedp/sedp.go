// Package sedp implements Simple Endpoint Discovery Protocol encode/decode
// (C12, §4.12): the per-endpoint announcements participants exchange once
// SPDP has introduced them, advertising topic, type, QoS, and locators.
package sedp

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"strconv"

	"github.com/hdds-go/hdds/internal/ddsid"
	"github.com/hdds-go/hdds/internal/qos"
	"github.com/hdds-go/hdds/internal/rtps"
	"github.com/hdds-go/hdds/internal/rtps/dialect"
)

// EndpointData is the metadata carried by a SEDP sample for one reader or
// writer (§3 EndpointRecord).
type EndpointData struct {
	EndpointGUID    ddsid.GUID
	Kind            ddsid.Kind
	TopicName       string
	TypeName        string
	QosHash         uint64
	UnicastLocators []ddsid.Locator
}

var wireOrder = binary.LittleEndian

// QosHash folds a QoS policy down to an 8-byte value carried on the wire
// so a receiving participant can detect when a peer's QoS has changed
// without decoding the full policy. It is not a cryptographic digest —
// collisions only cost a spurious re-match, never a correctness issue.
func QosHash(p qos.Policy) uint64 {
	h := fnv.New64a()
	field := func(v int64) {
		h.Write(strconv.AppendInt(nil, v, 10))
		h.Write([]byte{0})
	}
	field(int64(p.Reliability))
	field(int64(p.Durability))
	field(int64(p.History.Depth))
	if p.History.KeepAll {
		field(1)
	}
	field(int64(p.Deadline))
	field(int64(p.LatencyBudget))
	field(int64(p.Lifespan))
	field(int64(p.TransportPriority))
	field(int64(p.TimeBasedFilter))
	field(int64(p.Ownership))
	field(int64(p.DestinationOrder))
	field(int64(p.ResourceLimits.MaxSamples))
	field(int64(p.ResourceLimits.MaxSamplesPerInstance))
	field(int64(p.ResourceLimits.MaxInstances))
	for _, part := range p.Partition {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return h.Sum64()
}

// Build serializes one endpoint's SEDP announcement as a parameter list
// preceded by a CDR_LE encapsulation header.
func Build(d dialect.Dialect, data EndpointData) []byte {
	pl := rtps.ParameterList{}

	guidBuf := data.EndpointGUID.Bytes()
	pl.Add(rtps.PIDEndpointGUID, guidBuf[:])

	topic := append([]byte(data.TopicName), 0)
	var topicLen [4]byte
	putLE32(topicLen[:], uint32(len(topic)))
	pl.Add(rtps.PIDTopicName, append(topicLen[:], topic...))

	typ := append([]byte(data.TypeName), 0)
	var typeLen [4]byte
	putLE32(typeLen[:], uint32(len(typ)))
	pl.Add(rtps.PIDTypeName, append(typeLen[:], typ...))

	var hashBuf [8]byte
	binary.LittleEndian.PutUint64(hashBuf[:], data.QosHash)
	pl.Add(rtps.PIDQosHash, hashBuf[:])

	for _, loc := range data.UnicastLocators {
		pl.Add(rtps.PIDDefaultUnicastLocator, loc.MarshalBinary())
	}

	enc := rtps.EncapsulationHeader{Kind: rtps.EncapsulationCDR_LE}
	return append(enc.Marshal(), pl.Marshal(wireOrder, d.PadParameters())...)
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func getLE32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// Parse decodes a SEDP parameter list. Endpoint GUID, topic name, and
// type name are required; everything else defaults to its zero value
// when absent.
func Parse(buf []byte) (EndpointData, error) {
	enc, err := rtps.ParseEncapsulationHeader(buf)
	if err != nil {
		return EndpointData{}, fmt.Errorf("sedp: encapsulation: %w", err)
	}

	pl, _, err := rtps.ParseParameterList(buf[rtps.EncapsulationHeaderLen:], enc.ByteOrder(), nil)
	if err != nil {
		return EndpointData{}, fmt.Errorf("sedp: parameter list: %w", err)
	}

	var data EndpointData

	guidParam, ok := pl.Get(rtps.PIDEndpointGUID)
	if !ok || len(guidParam) < 16 {
		return EndpointData{}, fmt.Errorf("sedp: %w: missing PID_ENDPOINT_GUID", rtps.ErrInvalidFormat)
	}
	var guidArr [16]byte
	copy(guidArr[:], guidParam[:16])
	data.EndpointGUID = ddsid.GUIDFromBytes(guidArr)
	data.Kind = kindFromEntity(data.EndpointGUID.Entity)

	topicParam, ok := pl.Get(rtps.PIDTopicName)
	if !ok || len(topicParam) < 4 {
		return EndpointData{}, fmt.Errorf("sedp: %w: missing PID_TOPIC_NAME", rtps.ErrInvalidFormat)
	}
	data.TopicName = decodeString(topicParam)

	typeParam, ok := pl.Get(rtps.PIDTypeName)
	if !ok || len(typeParam) < 4 {
		return EndpointData{}, fmt.Errorf("sedp: %w: missing PID_TYPE_NAME", rtps.ErrInvalidFormat)
	}
	data.TypeName = decodeString(typeParam)

	if hashParam, ok := pl.Get(rtps.PIDQosHash); ok && len(hashParam) >= 8 {
		data.QosHash = binary.LittleEndian.Uint64(hashParam[:8])
	}

	for _, p := range pl.Params {
		if p.PID != rtps.PIDDefaultUnicastLocator {
			continue
		}
		loc, err := ddsid.UnmarshalLocator(p.Value)
		if err != nil {
			continue
		}
		data.UnicastLocators = append(data.UnicastLocators, loc)
	}

	return data, nil
}

func decodeString(lengthPrefixed []byte) string {
	n := getLE32(lengthPrefixed[:4])
	body := lengthPrefixed[4:]
	if int(n) > len(body) {
		n = uint32(len(body))
	}
	s := body[:n]
	if len(s) > 0 && s[len(s)-1] == 0 {
		s = s[:len(s)-1]
	}
	return string(s)
}

// kindFromEntity reports whether an entity id belongs to a writer or
// reader, mirroring the low-byte classification of §3.
func kindFromEntity(e ddsid.EntityID) ddsid.Kind {
	switch e.Kind() {
	case ddsid.EntityKindWriterWithKey, ddsid.EntityKindWriterNoKey, ddsid.EntityKindWriterBuiltin:
		return ddsid.KindWriter
	default:
		return ddsid.KindReader
	}
}

// TopicKey derives the registry matching key for this endpoint (§3).
func (d EndpointData) TopicKey() ddsid.TopicKey {
	return ddsid.NewTopicKey(d.TopicName, d.TypeName)
}
