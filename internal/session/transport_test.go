package session

import "testing"

func TestParseTransport(t *testing.T) {
	cases := []struct {
		raw      string
		wantKind TransportKind
		wantAddr string
	}{
		{"tcp://host:1234", TransportPlain, "host:1234"},
		{"host:1234", TransportPlain, "host:1234"},
		{"tls://host:1234", TransportTLS, "host:1234"},
		{"tls-insecure://host:1234", TransportTLS, "host:1234"},
	}
	for _, c := range cases {
		spec, err := parseTransport(c.raw)
		if err != nil {
			t.Fatalf("parseTransport(%q) error: %v", c.raw, err)
		}
		if spec.kind != c.wantKind {
			t.Fatalf("parseTransport(%q).kind = %v, want %v", c.raw, spec.kind, c.wantKind)
		}
		if spec.addr != c.wantAddr {
			t.Fatalf("parseTransport(%q).addr = %q, want %q", c.raw, spec.addr, c.wantAddr)
		}
	}
}

func TestParseTransportFingerprint(t *testing.T) {
	fp := "ABCDEF0123456789ABCDEF0123456789ABCDEF0123456789ABCDEF0123456789"
	spec, err := parseTransport("tls-fp://" + fp + "@host:443")
	if err != nil {
		t.Fatalf("parseTransport error: %v", err)
	}
	if spec.kind != TransportTLS {
		t.Fatalf("kind = %v, want TransportTLS", spec.kind)
	}
	if spec.addr != "host:443" {
		t.Fatalf("addr = %q, want host:443", spec.addr)
	}
	want := "abcdef0123456789abcdef0123456789abcdef0123456789abcdef0123456789"
	if spec.fingerprint != want {
		t.Fatalf("fingerprint = %q, want normalized %q", spec.fingerprint, want)
	}
}

func TestParseTransportFingerprintMissingAtSign(t *testing.T) {
	if _, err := parseTransport("tls-fp://nohostpart"); err == nil {
		t.Fatal("expected error for missing @host:port")
	}
}

func TestParseTransportRejectsEmptyFingerprint(t *testing.T) {
	if _, err := parseTransport("tls-fp://@host:443"); err == nil {
		t.Fatal("expected error for empty fingerprint")
	}
}

func TestParseTransportRejectsShortFingerprint(t *testing.T) {
	if _, err := parseTransport("tls-fp://deadbeef@host:443"); err == nil {
		t.Fatal("expected error for a fingerprint shorter than 64 hex chars")
	}
}

func TestParseTransportMockOutsideDebugBuild(t *testing.T) {
	if _, err := parseTransport("mock://echo"); err == nil {
		t.Fatal("expected mock:// to fail to parse outside a debug build")
	}
}

func TestExtractHost(t *testing.T) {
	cases := map[string]string{
		"host:1234":    "host",
		"[::1]:1234":   "::1",
		"host-no-port": "host-no-port",
	}
	for addr, want := range cases {
		got, err := extractHost(addr)
		if err != nil {
			t.Fatalf("extractHost(%q) error: %v", addr, err)
		}
		if got != want {
			t.Fatalf("extractHost(%q) = %q, want %q", addr, got, want)
		}
	}
}

func TestExtractHostRejectsEmpty(t *testing.T) {
	if _, err := extractHost("  "); err == nil {
		t.Fatal("expected error for empty address")
	}
}
