package rtps

import (
	"encoding/binary"
	"fmt"

	"github.com/hdds-go/hdds/internal/ddsid"
)

// Timestamp is an RTPS INFO_TS timestamp: seconds since epoch and a
// fractional part expressed in 2^-32 second units.
type Timestamp struct {
	Seconds  int32
	Fraction uint32
}

// DataFlags are the submessage-specific flag bits of a DATA submessage
// (flag byte bit 0 is always endianness, handled by SubmessageHeader).
type DataFlags byte

const (
	DataFlagInlineQoS DataFlags = 1 << 1
	DataFlagData      DataFlags = 1 << 2
	DataFlagKey       DataFlags = 1 << 3
)

// Data is a parsed/built DATA submessage body (§6.1).
type Data struct {
	InlineQoS        ParameterList
	HasInlineQoS     bool
	ReaderEntityID   ddsid.EntityID
	WriterEntityID   ddsid.EntityID
	WriterSN         ddsid.SequenceNumber
	Encapsulation    EncapsulationHeader
	SerializedPayload []byte
	HasPayload       bool
}

// MarshalSubmessage encodes a DATA submessage, returning the full
// submessage including its 4-byte header. octetsToNext is computed from
// the encoded body length.
func (d Data) MarshalSubmessage(order binary.ByteOrder) []byte {
	var flags DataFlags
	if d.HasInlineQoS {
		flags |= DataFlagInlineQoS
	}
	if d.HasPayload {
		flags |= DataFlagData
	}

	body := make([]byte, 0, 20+len(d.SerializedPayload))
	extraFlags := make([]byte, 2)
	body = append(body, extraFlags...)

	octetsToInlineQoSPos := len(body)
	body = append(body, 0, 0) // placeholder, patched below

	body = append(body, d.ReaderEntityID[:]...)
	body = append(body, d.WriterEntityID[:]...)
	body = append(body, d.WriterSN.MarshalBinary(order)...)

	inlineQoSStart := len(body)
	if d.HasInlineQoS {
		body = append(body, d.InlineQoS.Marshal(order, false)...)
	}
	octetsToInlineQoS := inlineQoSStart - (octetsToInlineQoSPos + 2)
	order.PutUint16(body[octetsToInlineQoSPos:octetsToInlineQoSPos+2], uint16(octetsToInlineQoS))

	if d.HasPayload {
		body = append(body, d.Encapsulation.Marshal()...)
		body = append(body, d.SerializedPayload...)
	}

	hdrFlags := SubmessageFlags(flags)
	if order == binary.LittleEndian {
		hdrFlags |= FlagEndianness
	}
	hdr := SubmessageHeader{ID: SubmsgData, Flags: hdrFlags, OctetsToNext: uint16(len(body))}
	return append(hdr.Marshal(), body...)
}

// ParseData decodes a DATA submessage body (header already stripped).
func ParseData(body []byte, flags SubmessageFlags) (Data, error) {
	order := flags.byteOrder()
	if len(body) < 20 {
		return Data{}, fmt.Errorf("%w: DATA body", ErrTruncatedData)
	}
	var d Data
	octetsToInlineQoS := int(order.Uint16(body[2:4]))
	copy(d.ReaderEntityID[:], body[4:8])
	copy(d.WriterEntityID[:], body[8:12])
	sn, err := ddsid.UnmarshalSequenceNumber(body[12:20], order)
	if err != nil {
		return Data{}, err
	}
	d.WriterSN = sn

	payloadOffset := 20
	if DataFlags(flags)&DataFlagInlineQoS != 0 {
		if 20+octetsToInlineQoS > len(body) {
			return Data{}, fmt.Errorf("%w: inline QoS offset", ErrTruncatedData)
		}
		pl, n, err := ParseParameterList(body[20:], order, nil)
		if err != nil {
			return Data{}, err
		}
		d.InlineQoS = pl
		d.HasInlineQoS = true
		payloadOffset = 20 + n
	}

	if DataFlags(flags)&DataFlagData != 0 {
		if payloadOffset >= len(body) {
			return Data{}, fmt.Errorf("%w: DATA payload", ErrTruncatedData)
		}
		enc, err := ParseEncapsulationHeader(body[payloadOffset:])
		if err != nil {
			return Data{}, err
		}
		d.Encapsulation = enc
		d.SerializedPayload = body[payloadOffset+EncapsulationHeaderLen:]
		d.HasPayload = true
	}
	return d, nil
}

// DataFrag is a parsed/built DATA_FRAG submessage body (§6.1, §4.6).
type DataFrag struct {
	ReaderEntityID  ddsid.EntityID
	WriterEntityID  ddsid.EntityID
	WriterSN        ddsid.SequenceNumber
	FragmentStartNum uint32 // 1-indexed, first fragment carried
	FragmentsInSubmsg uint16
	FragmentSize    uint16
	SampleSize      uint32
	Encapsulation   EncapsulationHeader
	FragmentData    []byte
}

// MarshalSubmessage encodes a DATA_FRAG submessage.
func (d DataFrag) MarshalSubmessage(order binary.ByteOrder) []byte {
	body := make([]byte, 0, 28+len(d.FragmentData))
	body = append(body, 0, 0) // extraFlags
	body = append(body, 0, 0) // octetsToInlineQoS (no inline QoS support for frags)
	body = append(body, d.ReaderEntityID[:]...)
	body = append(body, d.WriterEntityID[:]...)
	body = append(body, d.WriterSN.MarshalBinary(order)...)

	fragNum := make([]byte, 4)
	order.PutUint32(fragNum, d.FragmentStartNum)
	body = append(body, fragNum...)

	fragInSubmsg := make([]byte, 2)
	order.PutUint16(fragInSubmsg, d.FragmentsInSubmsg)
	body = append(body, fragInSubmsg...)

	fragSize := make([]byte, 2)
	order.PutUint16(fragSize, d.FragmentSize)
	body = append(body, fragSize...)

	sampleSize := make([]byte, 4)
	order.PutUint32(sampleSize, d.SampleSize)
	body = append(body, sampleSize...)

	body = append(body, d.Encapsulation.Marshal()...)
	body = append(body, d.FragmentData...)

	var hdrFlags SubmessageFlags
	if order == binary.LittleEndian {
		hdrFlags |= FlagEndianness
	}
	hdr := SubmessageHeader{ID: SubmsgDataFrag, Flags: hdrFlags, OctetsToNext: uint16(len(body))}
	return append(hdr.Marshal(), body...)
}

// ParseDataFrag decodes a DATA_FRAG submessage body.
func ParseDataFrag(body []byte, flags SubmessageFlags) (DataFrag, error) {
	order := flags.byteOrder()
	if len(body) < 24 {
		return DataFrag{}, fmt.Errorf("%w: DATA_FRAG body", ErrTruncatedData)
	}
	var d DataFrag
	copy(d.ReaderEntityID[:], body[4:8])
	copy(d.WriterEntityID[:], body[8:12])
	sn, err := ddsid.UnmarshalSequenceNumber(body[12:20], order)
	if err != nil {
		return DataFrag{}, err
	}
	d.WriterSN = sn
	d.FragmentStartNum = order.Uint32(body[20:24])
	if len(body) < 32 {
		return DataFrag{}, fmt.Errorf("%w: DATA_FRAG fragment header", ErrTruncatedData)
	}
	d.FragmentsInSubmsg = order.Uint16(body[24:26])
	d.FragmentSize = order.Uint16(body[26:28])
	d.SampleSize = order.Uint32(body[28:32])
	if len(body) < 36 {
		return DataFrag{}, fmt.Errorf("%w: DATA_FRAG encapsulation", ErrTruncatedData)
	}
	enc, err := ParseEncapsulationHeader(body[32:36])
	if err != nil {
		return DataFrag{}, err
	}
	d.Encapsulation = enc
	d.FragmentData = body[36:]
	return d, nil
}

// Heartbeat is a parsed/built HEARTBEAT submessage body (§4.8, §6.1).
type Heartbeat struct {
	ReaderEntityID ddsid.EntityID
	WriterEntityID ddsid.EntityID
	FirstSN        ddsid.SequenceNumber
	LastSN         ddsid.SequenceNumber
	Count          int32
	Final          bool
	Liveliness     bool
}

const (
	heartbeatFlagFinal      SubmessageFlags = 1 << 1
	heartbeatFlagLiveliness SubmessageFlags = 1 << 2
)

func (h Heartbeat) MarshalSubmessage(order binary.ByteOrder) []byte {
	body := make([]byte, 28)
	copy(body[0:4], h.ReaderEntityID[:])
	copy(body[4:8], h.WriterEntityID[:])
	copy(body[8:16], h.FirstSN.MarshalBinary(order))
	copy(body[16:24], h.LastSN.MarshalBinary(order))
	order.PutUint32(body[24:28], uint32(h.Count))

	flags := SubmessageFlags(0)
	if order == binary.LittleEndian {
		flags |= FlagEndianness
	}
	if h.Final {
		flags |= heartbeatFlagFinal
	}
	if h.Liveliness {
		flags |= heartbeatFlagLiveliness
	}
	hdr := SubmessageHeader{ID: SubmsgHeartbeat, Flags: flags, OctetsToNext: uint16(len(body))}
	return append(hdr.Marshal(), body...)
}

func ParseHeartbeat(body []byte, flags SubmessageFlags) (Heartbeat, error) {
	order := flags.byteOrder()
	if len(body) < 28 {
		return Heartbeat{}, fmt.Errorf("%w: HEARTBEAT body", ErrTruncatedData)
	}
	var h Heartbeat
	copy(h.ReaderEntityID[:], body[0:4])
	copy(h.WriterEntityID[:], body[4:8])
	firstSN, err := ddsid.UnmarshalSequenceNumber(body[8:16], order)
	if err != nil {
		return Heartbeat{}, err
	}
	lastSN, err := ddsid.UnmarshalSequenceNumber(body[16:24], order)
	if err != nil {
		return Heartbeat{}, err
	}
	h.FirstSN = firstSN
	h.LastSN = lastSN
	h.Count = int32(order.Uint32(body[24:28]))
	h.Final = flags&heartbeatFlagFinal != 0
	h.Liveliness = flags&heartbeatFlagLiveliness != 0
	return h, nil
}

// AckNack is a parsed/built ACKNACK submessage body (§4.8, §6.1).
type AckNack struct {
	ReaderEntityID ddsid.EntityID
	WriterEntityID ddsid.EntityID
	ReaderSNState  SequenceNumberSet
	Count          int32
	Final          bool
}

const ackNackFlagFinal SubmessageFlags = 1 << 1

func (a AckNack) MarshalSubmessage(order binary.ByteOrder) []byte {
	body := make([]byte, 0, 8+32)
	body = append(body, a.ReaderEntityID[:]...)
	body = append(body, a.WriterEntityID[:]...)
	body = append(body, a.ReaderSNState.Marshal(order)...)
	count := make([]byte, 4)
	order.PutUint32(count, uint32(a.Count))
	body = append(body, count...)

	flags := SubmessageFlags(0)
	if order == binary.LittleEndian {
		flags |= FlagEndianness
	}
	if a.Final {
		flags |= ackNackFlagFinal
	}
	hdr := SubmessageHeader{ID: SubmsgACKNACK, Flags: flags, OctetsToNext: uint16(len(body))}
	return append(hdr.Marshal(), body...)
}

func ParseAckNack(body []byte, flags SubmessageFlags) (AckNack, error) {
	order := flags.byteOrder()
	if len(body) < 8 {
		return AckNack{}, fmt.Errorf("%w: ACKNACK body", ErrTruncatedData)
	}
	var a AckNack
	copy(a.ReaderEntityID[:], body[0:4])
	copy(a.WriterEntityID[:], body[4:8])
	set, n, err := ParseSequenceNumberSet(body[8:], order)
	if err != nil {
		return AckNack{}, err
	}
	a.ReaderSNState = set
	rest := body[8+n:]
	if len(rest) < 4 {
		return AckNack{}, fmt.Errorf("%w: ACKNACK count", ErrTruncatedData)
	}
	a.Count = int32(order.Uint32(rest[0:4]))
	a.Final = flags&ackNackFlagFinal != 0
	return a, nil
}

// NackFrag is a parsed/built NACK_FRAG submessage body (§4.8, §4.6,
// §6.1).
type NackFrag struct {
	ReaderEntityID ddsid.EntityID
	WriterEntityID ddsid.EntityID
	WriterSN       ddsid.SequenceNumber
	FragmentNumberState FragmentNumberSet
	Count          int32
}

func (n NackFrag) MarshalSubmessage(order binary.ByteOrder) []byte {
	body := make([]byte, 0, 8+8+32)
	body = append(body, n.ReaderEntityID[:]...)
	body = append(body, n.WriterEntityID[:]...)
	body = append(body, n.WriterSN.MarshalBinary(order)...)
	body = append(body, n.FragmentNumberState.Marshal(order)...)
	count := make([]byte, 4)
	order.PutUint32(count, uint32(n.Count))
	body = append(body, count...)

	flags := SubmessageFlags(0)
	if order == binary.LittleEndian {
		flags |= FlagEndianness
	}
	hdr := SubmessageHeader{ID: SubmsgNackFrag, Flags: flags, OctetsToNext: uint16(len(body))}
	return append(hdr.Marshal(), body...)
}

func ParseNackFrag(body []byte, flags SubmessageFlags) (NackFrag, error) {
	order := flags.byteOrder()
	if len(body) < 16 {
		return NackFrag{}, fmt.Errorf("%w: NACK_FRAG body", ErrTruncatedData)
	}
	var n NackFrag
	copy(n.ReaderEntityID[:], body[0:4])
	copy(n.WriterEntityID[:], body[4:8])
	sn, err := ddsid.UnmarshalSequenceNumber(body[8:16], order)
	if err != nil {
		return NackFrag{}, err
	}
	n.WriterSN = sn
	set, consumed, err := ParseFragmentNumberSet(body[16:], order)
	if err != nil {
		return NackFrag{}, err
	}
	n.FragmentNumberState = set
	rest := body[16+consumed:]
	if len(rest) < 4 {
		return NackFrag{}, fmt.Errorf("%w: NACK_FRAG count", ErrTruncatedData)
	}
	n.Count = int32(order.Uint32(rest[0:4]))
	return n, nil
}

// InfoTS is a parsed/built INFO_TS submessage body (§6.1). Invalid flag
// (bit 1) means "no timestamp present" and the body is empty.
type InfoTS struct {
	Invalid   bool
	Timestamp Timestamp
}

const infoTSFlagInvalid SubmessageFlags = 1 << 1

func (t InfoTS) MarshalSubmessage(order binary.ByteOrder) []byte {
	flags := SubmessageFlags(0)
	if order == binary.LittleEndian {
		flags |= FlagEndianness
	}
	if t.Invalid {
		flags |= infoTSFlagInvalid
		hdr := SubmessageHeader{ID: SubmsgInfoTS, Flags: flags, OctetsToNext: 0}
		return hdr.Marshal()
	}
	body := make([]byte, 8)
	order.PutUint32(body[0:4], uint32(t.Timestamp.Seconds))
	order.PutUint32(body[4:8], t.Timestamp.Fraction)
	hdr := SubmessageHeader{ID: SubmsgInfoTS, Flags: flags, OctetsToNext: uint16(len(body))}
	return append(hdr.Marshal(), body...)
}

func ParseInfoTS(body []byte, flags SubmessageFlags) (InfoTS, error) {
	if flags&infoTSFlagInvalid != 0 {
		return InfoTS{Invalid: true}, nil
	}
	order := flags.byteOrder()
	if len(body) < 8 {
		return InfoTS{}, fmt.Errorf("%w: INFO_TS body", ErrTruncatedData)
	}
	return InfoTS{Timestamp: Timestamp{
		Seconds:  int32(order.Uint32(body[0:4])),
		Fraction: order.Uint32(body[4:8]),
	}}, nil
}

// InfoDST is a parsed/built INFO_DST submessage body (§4.15, §6.1): the
// destination participant's GUID prefix, or all-zero to mean "any
// participant" (unicast vs. wildcard delivery hint).
type InfoDST struct {
	GUIDPrefix ddsid.GUIDPrefix
}

func (d InfoDST) MarshalSubmessage(order binary.ByteOrder) []byte {
	body := make([]byte, ddsid.GUIDPrefixLen)
	copy(body, d.GUIDPrefix[:])
	flags := SubmessageFlags(0)
	if order == binary.LittleEndian {
		flags |= FlagEndianness
	}
	hdr := SubmessageHeader{ID: SubmsgInfoDST, Flags: flags, OctetsToNext: uint16(len(body))}
	return append(hdr.Marshal(), body...)
}

func ParseInfoDST(body []byte) (InfoDST, error) {
	if len(body) < ddsid.GUIDPrefixLen {
		return InfoDST{}, fmt.Errorf("%w: INFO_DST body", ErrTruncatedData)
	}
	var d InfoDST
	copy(d.GUIDPrefix[:], body[:ddsid.GUIDPrefixLen])
	return d, nil
}

// IsZero reports whether the destination prefix is the wildcard "any
// participant" value.
func (d InfoDST) IsZero() bool {
	return d.GUIDPrefix == ddsid.GUIDPrefix{}
}
