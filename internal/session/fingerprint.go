package session

import (
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"fmt"

	"github.com/CarryPigeon/CarryPigeon-Desktop/internal/apierr"
	"github.com/CarryPigeon/CarryPigeon-Desktop/internal/tlspolicy"
)

// verifyPeerFingerprint checks the already-completed handshake's leaf
// certificate against expected (a 64-char hex sha256 digest). The
// handshake itself must have been performed with InsecureSkipVerify,
// since the fingerprint — not the certificate chain — is the trust
// root for tls-fp:// sessions.
func verifyPeerFingerprint(conn *tls.Conn, expected string) error {
	normalized := tlspolicy.NormalizeFingerprint(expected)
	if len(normalized) != 64 {
		return fmt.Errorf("%w: got len=%d", apierr.ErrFingerprintLength, len(normalized))
	}
	certs := conn.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return apierr.ErrMissingPeerCert
	}
	sum := sha256.Sum256(certs[0].Raw)
	actual := hex.EncodeToString(sum[:])
	if actual != normalized {
		return fmt.Errorf("%w: expected=%s actual=%s", apierr.ErrFingerprintMismatch, normalized, actual)
	}
	return nil
}
