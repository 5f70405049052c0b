// Package collab pins the interaction surfaces of this runtime's
// explicit external collaborators (spec.md §1): the public DDS API
// surface, IDL code generation, dynamic-type reflection, security/TLS
// plugins beyond the identity token wired in internal/security,
// cloud-registry discovery adapters, the TSN socket-option backend, and
// the recording file's lifecycle (open/rotate/close). None of these
// carry novel engineering for this runtime — only their interaction
// surface is pinned, so the rest of the tree can depend on a stable type
// without implementing what's excluded.
package collab

import (
	"context"
	"io"
)

// TypeDescriptor is the minimal shape a dynamic-type reflection system
// needs to hand this runtime: enough to compute a QoS/type hash and
// build a CDR encapsulation header, without this runtime owning IDL
// parsing or a type registry.
type TypeDescriptor struct {
	Name       string
	Signature  string
	Extensible bool
}

// DynamicTypeReflector resolves a type name to its wire descriptor,
// standing in for a full dynamic-type / TypeObject subsystem.
type DynamicTypeReflector interface {
	Resolve(ctx context.Context, typeName string) (TypeDescriptor, error)
}

// IDLCodeGenerator turns an IDL source into generated language bindings.
// This runtime never calls it at run time; it is pinned only so build
// tooling can depend on one stable interface across vendors.
type IDLCodeGenerator interface {
	Generate(ctx context.Context, idlSource io.Reader, outDir string) error
}

// PublicAPISurface is the pinned shape of the (unimplemented) end-user
// DomainParticipant/Publisher/Subscriber API a binding layer would sit
// in front of this runtime's internal writer/reader/discovery engines.
type PublicAPISurface interface {
	CreateParticipant(ctx context.Context, domainID uint32) (ParticipantHandle, error)
	DeleteParticipant(ctx context.Context, p ParticipantHandle) error
}

// ParticipantHandle is an opaque reference a PublicAPISurface
// implementation hands back to its caller.
type ParticipantHandle interface {
	ID() string
}

// SecurityTLSPlugin is the pinned shape of a DDS-Security plugin
// (authentication, access control, cryptographic transform) beyond the
// identity-token field this runtime wires in internal/security.
// Full DDS-Security feature parity is an explicit non-goal (spec.md §1).
type SecurityTLSPlugin interface {
	Name() string
	Handshake(ctx context.Context, peerIdentity string) error
}

// CloudRegistryAdapter is the pinned shape of a discovery-service
// adapter (e.g. a cloud-hosted participant registry) that would sit
// beside this runtime's SPDP/SEDP discovery engine rather than replace
// it.
type CloudRegistryAdapter interface {
	Advertise(ctx context.Context, domainID uint32, participantGUID string, endpoint string) error
	Lookup(ctx context.Context, domainID uint32) ([]string, error)
}

// TSNBackend is the pinned shape of a Time-Sensitive Networking
// socket-option backend (e.g. SO_TXTIME / traffic-class tagging). This
// runtime's UDP transport never calls it; it exists so a deployment that
// needs TSN guarantees has one stable interface to implement against.
type TSNBackend interface {
	ApplyTrafficClass(fd int, trafficClass uint8) error
}

// RecordingLifecycle is the pinned shape of the recording file's
// lifecycle management — opening, naming, and rotating the underlying
// .hdds files across a capture session. internal/recording implements
// only the wire codec (encode/decode over io.Writer/io.Reader); a
// caller wires a RecordingLifecycle implementation to decide when a new
// file starts and where it lives.
type RecordingLifecycle interface {
	OpenNext(ctx context.Context) (io.WriteSeeker, string, error)
	Close(ctx context.Context, path string) error
}
