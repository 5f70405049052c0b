package security

import (
	"github.com/hdds-go/hdds/internal/identity"
)

// SPIFFESource optionally backs TokenBroker.IssueBoundToken with a
// SPIFFE SVID, binding a minted identity token to the caller's
// workload identity rather than to the broker's shared secret alone.
type SPIFFESource struct {
	verifier    *identity.SPIFFEVerifier
	trustDomain string
}

// NewSPIFFESource connects to the SPIRE agent at socketPath. Returns an
// error if the Workload API is unreachable; callers without a SPIRE
// deployment should skip constructing a source and issue tokens with
// TokenBroker.IssueToken directly.
func NewSPIFFESource(socketPath, trustDomain string) (*SPIFFESource, error) {
	verifier, err := identity.NewSPIFFEVerifier(socketPath)
	if err != nil {
		return nil, err
	}
	return &SPIFFESource{verifier: verifier, trustDomain: trustDomain}, nil
}

// Close releases the underlying Workload API connection.
func (s *SPIFFESource) Close() error { return s.verifier.Close() }
