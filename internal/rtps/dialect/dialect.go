// Package dialect selects the wire conventions a participant uses when
// building RTPS messages: minor version, submessage ordering, and
// vendor-specific padding (§4.5). Parsing never needs a dialect — it
// reads whatever ordering a peer actually sent — but building does, since
// different stacks expect INFO_TS and INFO_DST in different relative
// order.
package dialect

import "fmt"

// Name identifies a dialect, analogous to a tenant's chosen signing
// algorithm in the federation layer: a tag selecting one of a small,
// closed set of wire-building strategies.
type Name string

const (
	// Hybrid is the conservative default, interoperable with RTI Connext
	// and FastDDS: INFO_TS precedes INFO_DST, RTPS minor version 2.4.
	Hybrid Name = "hybrid"

	// OpenDDS swaps the INFO_TS/INFO_DST order relative to Hybrid.
	OpenDDS Name = "opendds"
)

// InfoOrder enumerates the two submessage orderings a Dialect may pick.
type InfoOrder int

const (
	// InfoTSFirst emits INFO_TS before INFO_DST in a built message.
	InfoTSFirst InfoOrder = iota
	// InfoDSTFirst emits INFO_DST before INFO_TS.
	InfoDSTFirst
)

// Dialect abstracts the encoder-level choices that vary between RTPS
// implementations so the codec and writer/reader runtimes can build
// messages without knowing which peer stack they're talking to.
type Dialect interface {
	// Name returns the dialect's identifying tag.
	Name() Name

	// MinorVersion returns the RTPS minor version this dialect targets
	// (2.3 or 2.4).
	MinorVersion() uint8

	// InfoOrder returns the relative ordering of INFO_TS and INFO_DST
	// this dialect expects when building a message.
	InfoOrder() InfoOrder

	// PadParameters reports whether built parameter lists should use the
	// CDR2 4-byte parameter padding rule.
	PadParameters() bool
}

type hybridDialect struct{}

func (hybridDialect) Name() Name             { return Hybrid }
func (hybridDialect) MinorVersion() uint8    { return 4 }
func (hybridDialect) InfoOrder() InfoOrder   { return InfoTSFirst }
func (hybridDialect) PadParameters() bool    { return false }

type openDDSDialect struct{}

func (openDDSDialect) Name() Name           { return OpenDDS }
func (openDDSDialect) MinorVersion() uint8  { return 3 }
func (openDDSDialect) InfoOrder() InfoOrder { return InfoDSTFirst }
func (openDDSDialect) PadParameters() bool  { return false }

// New constructs the Dialect for a given name. Unknown names are
// rejected rather than silently falling back, matching the federation
// layer's NewCryptoProvider error-on-unknown-algorithm convention.
func New(name Name) (Dialect, error) {
	switch name {
	case Hybrid:
		return hybridDialect{}, nil
	case OpenDDS:
		return openDDSDialect{}, nil
	default:
		return nil, fmt.Errorf("rtps/dialect: unsupported dialect %q (supported: %s, %s)", name, Hybrid, OpenDDS)
	}
}

// Default returns the package-wide default dialect (Hybrid).
func Default() Dialect {
	d, _ := New(Hybrid)
	return d
}
