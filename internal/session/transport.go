// Package session manages named framed TCP/TLS connections to servers:
// dialing, a 2-byte length-prefixed reader loop, and a send API.
package session

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/CarryPigeon/CarryPigeon-Desktop/internal/apierr"
	"github.com/CarryPigeon/CarryPigeon-Desktop/internal/tlspolicy"
)

// TransportKind identifies how a session's bytes travel.
type TransportKind int

const (
	TransportPlain TransportKind = iota
	TransportTLS
	TransportMock
)

type transportSpec struct {
	kind        TransportKind
	addr        string
	policy      tlspolicy.Policy
	fingerprint string
	mockMode    string
}

// parseTransport maps a server socket string to the transport it
// describes, per the tcp://, tls://, tls-insecure://, tls-fp://, and
// (debug builds only) mock:// prefixes.
func parseTransport(raw string) (transportSpec, error) {
	trimmed := strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(trimmed, "tls-insecure://"):
		return transportSpec{kind: TransportTLS, addr: strings.TrimPrefix(trimmed, "tls-insecure://"), policy: tlspolicy.Insecure}, nil
	case strings.HasPrefix(trimmed, "tls-fp://"):
		rest := strings.TrimPrefix(trimmed, "tls-fp://")
		fp, addr, ok := strings.Cut(rest, "@")
		if !ok {
			return transportSpec{}, fmt.Errorf("invalid tls-fp:// socket, missing fingerprint@host:port: %s", raw)
		}
		normalized := tlspolicy.NormalizeFingerprint(fp)
		if len(normalized) != 64 {
			return transportSpec{}, fmt.Errorf("invalid tls-fp:// socket, fingerprint must be 64 hex chars: %s", raw)
		}
		return transportSpec{kind: TransportTLS, addr: addr, policy: tlspolicy.Insecure, fingerprint: normalized}, nil
	case strings.HasPrefix(trimmed, "tls://"):
		return transportSpec{kind: TransportTLS, addr: strings.TrimPrefix(trimmed, "tls://"), policy: tlspolicy.Strict}, nil
	case strings.HasPrefix(trimmed, "tcp://"):
		return transportSpec{kind: TransportPlain, addr: strings.TrimPrefix(trimmed, "tcp://")}, nil
	case strings.HasPrefix(trimmed, "mock://"):
		return parseMockTransport(trimmed)
	default:
		return transportSpec{kind: TransportPlain, addr: trimmed}, nil
	}
}

func extractHost(addr string) (string, error) {
	trimmed := strings.TrimSpace(addr)
	if trimmed == "" {
		return "", fmt.Errorf("missing address")
	}
	if strings.HasPrefix(trimmed, "[") {
		end := strings.Index(trimmed, "]")
		if end < 0 {
			return "", fmt.Errorf("invalid IPv6 address format")
		}
		return trimmed[1:end], nil
	}
	if idx := strings.LastIndex(trimmed, ":"); idx >= 0 {
		return trimmed[:idx], nil
	}
	return trimmed, nil
}

type rawConn interface {
	Read(b []byte) (int, error)
	Write(b []byte) (int, error)
	Close() error
}

func dial(ctx context.Context, spec transportSpec) (rawConn, error) {
	switch spec.kind {
	case TransportMock:
		return newMockConn(spec.mockMode), nil
	case TransportPlain:
		dialer := &net.Dialer{Timeout: 15 * time.Second}
		return dialer.DialContext(ctx, "tcp", spec.addr)
	case TransportTLS:
		dialer := &net.Dialer{Timeout: 15 * time.Second}
		rawTCP, err := dialer.DialContext(ctx, "tcp", spec.addr)
		if err != nil {
			return nil, fmt.Errorf("failed to connect TCP stream: %w", err)
		}
		host, err := extractHost(spec.addr)
		if err != nil {
			rawTCP.Close()
			return nil, err
		}
		cfg := &tls.Config{ServerName: host}
		if spec.policy != tlspolicy.Strict {
			cfg.InsecureSkipVerify = true
		}
		if spec.policy == tlspolicy.TrustFingerprint && len(tlspolicy.NormalizeFingerprint(spec.fingerprint)) != 64 {
			rawTCP.Close()
			return nil, fmt.Errorf("%w: got len=%d", apierr.ErrFingerprintLength, len(tlspolicy.NormalizeFingerprint(spec.fingerprint)))
		}
		conn := tls.Client(rawTCP, cfg)
		if err := conn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("TLS handshake failed: %w", err)
		}
		if spec.fingerprint != "" {
			if err := verifyPeerFingerprint(conn, spec.fingerprint); err != nil {
				conn.Close()
				return nil, err
			}
		}
		return conn, nil
	default:
		return nil, fmt.Errorf("unsupported transport")
	}
}
