// Package identity verifies participant SPIFFE SVIDs against a local
// SPIRE agent, providing the cryptographic material the optional
// security identity token (§3) is built from.
package identity

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"github.com/spiffe/go-spiffe/v2/spiffeid"
	"github.com/spiffe/go-spiffe/v2/spiffetls/tlsconfig"
	"github.com/spiffe/go-spiffe/v2/workloadapi"
)

// SPIFFEVerifier verifies participant SVIDs fetched from a SPIRE
// Workload API socket.
type SPIFFEVerifier struct {
	source *workloadapi.X509Source
}

// NewSPIFFEVerifier connects to the SPIRE agent at socketPath. A short
// timeout avoids blocking participant startup when no agent is present.
func NewSPIFFEVerifier(socketPath string) (*SPIFFEVerifier, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	source, err := workloadapi.NewX509Source(
		ctx,
		workloadapi.WithClientOptions(workloadapi.WithAddr(socketPath)),
	)
	if err != nil {
		return nil, fmt.Errorf("identity: connect to SPIRE agent: %w", err)
	}

	slog.Info("connected to SPIRE agent", "socket_path", socketPath)
	return &SPIFFEVerifier{source: source}, nil
}

// VerifySVID checks that the workload's current SVID matches
// spiffeID and returns a 64-bit digest of its leaf certificate,
// suitable as input to session-key derivation.
func (sv *SPIFFEVerifier) VerifySVID(spiffeID string) (uint64, error) {
	id, err := spiffeid.FromString(spiffeID)
	if err != nil {
		return 0, fmt.Errorf("identity: invalid SPIFFE ID: %w", err)
	}

	svid, err := sv.source.GetX509SVID()
	if err != nil {
		return 0, fmt.Errorf("identity: fetch SVID: %w", err)
	}

	if svid.ID.String() != id.String() {
		return 0, fmt.Errorf("identity: SPIFFE ID mismatch: expected %s, got %s", id, svid.ID)
	}

	return svidHash(svid.Certificates[0].Raw), nil
}

// RawCertificate returns the DER-encoded leaf certificate of the
// workload's current SVID, for callers deriving key material directly.
func (sv *SPIFFEVerifier) RawCertificate() ([]byte, error) {
	svid, err := sv.source.GetX509SVID()
	if err != nil {
		return nil, fmt.Errorf("identity: fetch SVID: %w", err)
	}
	return svid.Certificates[0].Raw, nil
}

func svidHash(certDER []byte) uint64 {
	hash := sha256.Sum256(certDER)
	var result uint64
	for i := 0; i < 8; i++ {
		result = (result << 8) | uint64(hash[i])
	}
	return result
}

// TLSConfig returns an mTLS config authenticated against this
// workload's SVID, accepting any peer identity (authorization is the
// caller's responsibility).
func (sv *SPIFFEVerifier) TLSConfig() (*tls.Config, error) {
	return tlsconfig.MTLSClientConfig(sv.source, sv.source, tlsconfig.AuthorizeAny()), nil
}

// Close releases the underlying Workload API connection.
func (sv *SPIFFEVerifier) Close() error {
	return sv.source.Close()
}

// ParticipantSPIFFEID builds the conventional SPIFFE ID for a
// participant GUID under trustDomain.
func ParticipantSPIFFEID(trustDomain, participantGUID string) string {
	return fmt.Sprintf("spiffe://%s/participant/%s", trustDomain, participantGUID)
}
