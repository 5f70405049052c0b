// Package spdp implements Simple Participant Discovery Protocol
// encode/decode (C12, §4.12, §6.1's SPDP PID set).
package spdp

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"

	"github.com/hdds-go/hdds/internal/ddsid"
	"github.com/hdds-go/hdds/internal/rtps"
	"github.com/hdds-go/hdds/internal/rtps/dialect"
)

// ParticipantData is the metadata carried by an SPDP sample, gathered
// from the parameter list on parse and serialized into one on build.
type ParticipantData struct {
	ParticipantGUID              ddsid.GUID
	LeaseDuration                time.Duration
	DomainID                     uint32
	MetatrafficUnicastLocators   []ddsid.Locator
	MetatrafficMulticastLocators []ddsid.Locator
	DefaultUnicastLocators       []ddsid.Locator
	DefaultMulticastLocators     []ddsid.Locator
	EntityName                   string

	// SecurityIdentityToken is the optional serialized security identity
	// token (§3) this participant announces. Empty when absent.
	SecurityIdentityToken string
}

const defaultLeaseDuration = 100 * time.Second

// wireOrder is the byte order SPDP parameter lists use on the wire in
// this implementation (encapsulation kind CDR_LE).
var wireOrder = binary.LittleEndian

// Build serializes participant data as an SPDP parameter list, preceded
// by a CDR_LE encapsulation header, using d's parameter-padding rule.
func Build(d dialect.Dialect, data ParticipantData) []byte {
	pl := rtps.ParameterList{}

	var guidBuf [16]byte
	copy(guidBuf[:12], data.ParticipantGUID.Prefix[:])
	copy(guidBuf[12:], data.ParticipantGUID.Entity[:])
	pl.Add(rtps.PIDParticipantGUID, guidBuf[:])

	var leaseBuf [8]byte
	secs := uint32(data.LeaseDuration / time.Second)
	putLE32(leaseBuf[0:4], secs)
	putLE32(leaseBuf[4:8], 0)
	pl.Add(rtps.PIDParticipantLeaseDuration, leaseBuf[:])

	var domainBuf [4]byte
	putLE32(domainBuf[:], data.DomainID)
	pl.Add(rtps.PIDDomainID, domainBuf[:])

	for _, loc := range data.MetatrafficUnicastLocators {
		pl.Add(rtps.PIDMetatrafficUnicastLocator, loc.MarshalBinary())
	}
	for _, loc := range data.MetatrafficMulticastLocators {
		pl.Add(rtps.PIDMetatrafficMulticastLocator, loc.MarshalBinary())
	}
	for _, loc := range data.DefaultUnicastLocators {
		pl.Add(rtps.PIDDefaultUnicastLocator, loc.MarshalBinary())
	}
	for _, loc := range data.DefaultMulticastLocators {
		pl.Add(rtps.PIDDefaultMulticastLocator, loc.MarshalBinary())
	}

	if data.EntityName != "" {
		name := append([]byte(data.EntityName), 0)
		var nameLen [4]byte
		putLE32(nameLen[:], uint32(len(name)))
		pl.Add(rtps.PIDEntityName, append(nameLen[:], name...))
	}

	if data.SecurityIdentityToken != "" {
		tok := append([]byte(data.SecurityIdentityToken), 0)
		var tokLen [4]byte
		putLE32(tokLen[:], uint32(len(tok)))
		pl.Add(rtps.PIDIdentityToken, append(tokLen[:], tok...))
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

// Parse decodes a complete SPDP parameter list (§4.12: "parse SPDP").
// It requires a PID_PARTICIPANT_GUID; every other field is optional and
// defaults sanely when absent.
func Parse(buf []byte) (ParticipantData, error) {
	enc, err := rtps.ParseEncapsulationHeader(buf)
	if err != nil {
		return ParticipantData{}, fmt.Errorf("spdp: encapsulation: %w", err)
	}

	pl, _, err := rtps.ParseParameterList(buf[rtps.EncapsulationHeaderLen:], enc.ByteOrder(), nil)
	if err != nil {
		return ParticipantData{}, fmt.Errorf("spdp: parameter list: %w", err)
	}

	data := ParticipantData{LeaseDuration: defaultLeaseDuration}
	guidParam, ok := pl.Get(rtps.PIDParticipantGUID)
	if !ok || len(guidParam) < 16 {
		return ParticipantData{}, fmt.Errorf("spdp: %w: missing PID_PARTICIPANT_GUID", rtps.ErrInvalidFormat)
	}
	var prefix ddsid.GUIDPrefix
	var entity ddsid.EntityID
	copy(prefix[:], guidParam[:12])
	copy(entity[:], guidParam[12:16])
	data.ParticipantGUID = ddsid.GUID{Prefix: prefix, Entity: entity}

	if lease, ok := pl.Get(rtps.PIDParticipantLeaseDuration); ok && len(lease) >= 4 {
		data.LeaseDuration = time.Duration(getLE32(lease[:4])) * time.Second
	}
	if dom, ok := pl.Get(rtps.PIDDomainID); ok && len(dom) >= 4 {
		data.DomainID = getLE32(dom[:4])
	}

	data.MetatrafficUnicastLocators = parseLocators(pl, rtps.PIDMetatrafficUnicastLocator)
	data.MetatrafficMulticastLocators = parseLocators(pl, rtps.PIDMetatrafficMulticastLocator)
	data.DefaultUnicastLocators = parseLocators(pl, rtps.PIDDefaultUnicastLocator)
	data.DefaultMulticastLocators = parseLocators(pl, rtps.PIDDefaultMulticastLocator)

	if name, ok := pl.Get(rtps.PIDEntityName); ok {
		data.EntityName = parseCDRString(name)
	}
	if tok, ok := pl.Get(rtps.PIDIdentityToken); ok {
		data.SecurityIdentityToken = parseCDRString(tok)
	}

	return data, nil
}

// parseCDRString decodes the length-prefixed, null-terminated string
// encoding Build uses for PIDEntityName/PIDIdentityToken values.
func parseCDRString(b []byte) string {
	if len(b) < 4 {
		return ""
	}
	n := int(getLE32(b[:4]))
	if n <= 0 || 4+n > len(b) {
		return ""
	}
	str := b[4 : 4+n]
	if len(str) > 0 && str[len(str)-1] == 0 {
		str = str[:len(str)-1]
	}
	return string(str)
}

func parseLocators(pl rtps.ParameterList, pid rtps.ParameterID) []ddsid.Locator {
	var out []ddsid.Locator
	for _, p := range pl.Params {
		if p.PID != pid {
			continue
		}
		loc, err := ddsid.UnmarshalLocator(p.Value)
		if err != nil {
			continue
		}
		out = append(out, loc)
	}
	return out
}

// ParsePartial implements the fragment-tolerant fallback path: when the
// full parameter list can't be walked to its sentinel because the buffer
// was truncated (e.g. delivered as an incomplete DATA_FRAG run), it scans
// forward for PID_PARTICIPANT_GUID alone and returns a ParticipantData
// with only the GUID populated and a default lease duration. This trades
// completeness for discovery latency: the peer becomes visible before
// full reassembly finishes (§9 open question — the default-lease
// behavior on the partial path is preserved, not re-derived, per vendor
// uncertainty noted there).
func ParsePartial(buf []byte, log *slog.Logger) (ParticipantData, error) {
	data, err := Parse(buf)
	if err == nil {
		return data, nil
	}
	if log != nil {
		log.Debug("spdp: full parse failed, attempting partial extraction", "error", err)
	}

	enc, encErr := rtps.ParseEncapsulationHeader(buf)
	if encErr != nil {
		return ParticipantData{}, fmt.Errorf("spdp: partial: %w", encErr)
	}
	order := enc.ByteOrder()
	if len(buf) < rtps.EncapsulationHeaderLen {
		return ParticipantData{}, fmt.Errorf("spdp: partial: %w", rtps.ErrTruncatedData)
	}
	body := buf[rtps.EncapsulationHeaderLen:]

	offset := 0
	for offset+4 <= len(body) {
		pid := rtps.ParameterID(order.Uint16(body[offset : offset+2]))
		length := int(order.Uint16(body[offset+2 : offset+4]))
		offset += 4

		if pid == rtps.PIDSentinel {
			break
		}
		if offset+length > len(body) {
			break
		}

		if pid == rtps.PIDParticipantGUID && length >= 16 {
			var prefix ddsid.GUIDPrefix
			var entity ddsid.EntityID
			copy(prefix[:], body[offset:offset+12])
			copy(entity[:], body[offset+12:offset+16])
			return ParticipantData{
				ParticipantGUID: ddsid.GUID{Prefix: prefix, Entity: entity},
				LeaseDuration:   defaultLeaseDuration,
			}, nil
		}
		offset += length
	}

	return ParticipantData{}, fmt.Errorf("spdp: partial: %w: GUID not found while scanning truncated buffer", rtps.ErrInvalidFormat)
}
