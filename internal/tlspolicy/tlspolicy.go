// Package tlspolicy builds HTTP clients for the three trust policies a
// server socket may declare: the OS trust store, blind acceptance, or
// pinning to a specific leaf certificate fingerprint.
package tlspolicy

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/CarryPigeon/CarryPigeon-Desktop/internal/apierr"
)

// Policy selects how a client verifies the server's certificate.
type Policy int

const (
	Strict Policy = iota
	Insecure
	TrustFingerprint
)

// Parse maps a raw policy token ("strict", "insecure",
// "trust_fingerprint") to a Policy, defaulting to Strict.
func Parse(raw string) Policy {
	switch strings.TrimSpace(raw) {
	case "insecure":
		return Insecure
	case "trust_fingerprint":
		return TrustFingerprint
	default:
		return Strict
	}
}

// NormalizeFingerprint lowercases raw and strips every non-hex-digit
// character, matching the teacher's tls-fp:// URI convention of allowing
// colons/spaces as separators.
func NormalizeFingerprint(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(raw)) {
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// BuildClient returns an *http.Client for origin honoring policy. Only
// https:// origins receive special treatment; http:// always gets a
// plain client since there is no TLS handshake to police.
//
// When policy is TrustFingerprint, the peer's leaf certificate is
// verified against fingerprint (a 64-character hex sha256 digest)
// before BuildClient returns a client at all — the fingerprint is the
// trust root, so the handshake itself must accept any certificate and
// verification happens out-of-band.
func BuildClient(ctx context.Context, origin string, policy Policy, fingerprint string) (*http.Client, error) {
	if !strings.HasPrefix(strings.TrimSpace(origin), "https://") {
		return &http.Client{Timeout: 30 * time.Second}, nil
	}

	if policy == TrustFingerprint {
		if err := verifyFingerprint(ctx, origin, fingerprint); err != nil {
			return nil, err
		}
	}

	transport := &http.Transport{}
	if policy != Strict {
		transport.TLSClientConfig = &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: true,
		}
	} else {
		transport.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return &http.Client{Transport: transport, Timeout: 30 * time.Second}, nil
}

func verifyFingerprint(ctx context.Context, origin, fingerprint string) error {
	expected := NormalizeFingerprint(fingerprint)
	if len(expected) != 64 {
		return fmt.Errorf("%w: got len=%d", apierr.ErrFingerprintLength, len(expected))
	}

	u, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("invalid origin URL: %w", err)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("invalid origin host")
	}
	port := u.Port()
	if port == "" {
		port = "443"
	}
	addr := net.JoinHostPort(host, port)

	dialer := &net.Dialer{Timeout: 10 * time.Second}
	rawConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect for TLS fingerprint check (%s): %w", addr, err)
	}
	defer rawConn.Close()

	conn := tls.Client(rawConn, &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: true,
	})
	defer conn.Close()
	if err := conn.HandshakeContext(ctx); err != nil {
		return fmt.Errorf("TLS handshake failed (fingerprint check): %w", err)
	}

	certs := conn.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return apierr.ErrMissingPeerCert
	}
	sum := sha256.Sum256(certs[0].Raw)
	actual := hex.EncodeToString(sum[:])
	if actual != expected {
		return fmt.Errorf("%w: expected=%s actual=%s", apierr.ErrFingerprintMismatch, expected, actual)
	}
	return nil
}
