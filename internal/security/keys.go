package security

import (
	"encoding/binary"
	"fmt"
	"hash"
	"io"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/hkdf"
)

func newBlake2b() hash.Hash {
	h, _ := blake2b.New256(nil)
	return h
}

// DeriveSessionKey expands secret into a keyLen-byte key via
// HKDF-BLAKE2b, with info as the HKDF info input and no salt. Used both for the HMAC key backing
// identity tokens (derived from the broker's configured secret, rather
// than using that secret directly) and for LBW map_epoch handshake
// session keys (internal/transport/lbw), where info encodes the peer
// node IDs and the current epoch so a re-keying rolls the epoch.
func DeriveSessionKey(secret []byte, info string, keyLen int) ([]byte, error) {
	if keyLen <= 0 {
		return nil, fmt.Errorf("security: invalid key length %d", keyLen)
	}

	reader := hkdf.New(newBlake2b, secret, nil, []byte(info))
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("security: derive session key: %w", err)
	}
	return key, nil
}

// MapEpochInfo builds the HKDF info string for an LBW session's
// map_epoch handshake key, binding it to both peer node IDs and the
// negotiated epoch so a map_epoch rollover yields an unrelated key.
func MapEpochInfo(localNodeID, remoteNodeID uint8, mapEpoch uint16) string {
	var buf [4]byte
	buf[0] = localNodeID
	buf[1] = remoteNodeID
	binary.LittleEndian.PutUint16(buf[2:4], mapEpoch)
	return "hdds-lbw-map-epoch:" + string(buf[:])
}
