package ddsid

import "crypto/md5" //nolint:gosec // required by the wire format: type_id is defined as MD5-14 of the type name (§3), not used for security.

// TypeIDLen is the length in bytes of a TopicKey's type identifier:
// MD5-14, i.e. the first 14 bytes of the MD5 digest of the fully-qualified
// type name (§3). MD5 is mandated here purely as a fixed-length name
// hash for wire compatibility, not for any security property, so the
// standard library's crypto/md5 is the correct tool — no third-party
// hash library in the reference pack changes that.
const TypeIDLen = 14

// TypeID is the MD5-14 hash of a fully-qualified type name.
type TypeID [TypeIDLen]byte

// NewTypeID computes the MD5-14 type id for a fully-qualified type name.
func NewTypeID(fqTypeName string) TypeID {
	sum := md5.Sum([]byte(fqTypeName)) //nolint:gosec
	var id TypeID
	copy(id[:], sum[:TypeIDLen])
	return id
}

// TopicKey is the matching key for writer/reader endpoints (§3):
// (topic_name, type_id). Two endpoints can only match if their keys are
// equal and their QoS is compatible.
type TopicKey struct {
	Topic string
	Type  TypeID
}

// NewTopicKey builds a TopicKey from a topic name and fully-qualified type
// name, hashing the type name per NewTypeID.
func NewTopicKey(topic, fqTypeName string) TopicKey {
	return TopicKey{Topic: topic, Type: NewTypeID(fqTypeName)}
}
