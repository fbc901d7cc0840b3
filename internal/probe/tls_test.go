package probe

import (
	"context"
	"crypto/x509"
	"crypto/x509/pkix"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func tlsItem(t *testing.T, rawURL string) Item {
	t.Helper()
	host, portStr, err := net.SplitHostPort(rawURL[len("https://"):])
	if err != nil {
		t.Fatalf("split %q: %v", rawURL, err)
	}
	port, _ := strconv.Atoi(portStr)
	return Item{Domain: host, Port: uint16(port)}
}

func TestTLSChecker_ValidCertificate(t *testing.T) {
	s := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	}))
	defer s.Close()

	pool := x509.NewCertPool()
	pool.AddCert(s.Certificate())

	chk := NewTLSChecker(2 * time.Second)
	chk.RootCAs = pool

	out := chk.Probe(context.Background(), tlsItem(t, s.URL))
	if !out.OK() {
		t.Fatalf("want success, got %+v", out.Err)
	}
	if !out.Valid {
		t.Fatalf("httptest certificate should be within its validity window")
	}
	if out.DaysUntilExpiry < 0 {
		t.Fatalf("days until expiry must never be negative, got %d", out.DaysUntilExpiry)
	}
	if out.Issuer == "" {
		t.Fatalf("issuer must be set (falls back to %q)", "Unknown")
	}
}

func TestTLSChecker_UntrustedCertIsHandshakeError(t *testing.T) {
	s := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer s.Close()

	// No RootCAs override: the self-signed test cert fails chain verification.
	chk := NewTLSChecker(2 * time.Second)
	out := chk.Probe(context.Background(), tlsItem(t, s.URL))
	if out.OK() || out.Err.Kind != ErrHandshake {
		t.Fatalf("want %s, got %+v", ErrHandshake, out)
	}
	if out.Err.Kind.Transient() {
		t.Fatalf("handshake failures are definitive, must not be retryable")
	}
}

func TestTLSChecker_PlainHTTPIsHandshakeError(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer s.Close()

	host, portStr, _ := net.SplitHostPort(s.URL[len("http://"):])
	port, _ := strconv.Atoi(portStr)

	chk := NewTLSChecker(2 * time.Second)
	out := chk.Probe(context.Background(), Item{Domain: host, Port: uint16(port)})
	if out.OK() || out.Err.Kind != ErrHandshake {
		t.Fatalf("want %s against a non-TLS server, got %+v", ErrHandshake, out)
	}
}

func TestTLSChecker_ConnectionRefused(t *testing.T) {
	// Grab a free port and close it again so nothing is listening.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	chk := NewTLSChecker(2 * time.Second)
	out := chk.Probe(context.Background(), Item{Domain: "127.0.0.1", Port: uint16(port)})
	if out.OK() || out.Err.Kind != ErrConnRefused {
		t.Fatalf("want %s, got %+v", ErrConnRefused, out)
	}
	if !out.Err.Kind.Transient() {
		t.Fatalf("connection refused should be retryable")
	}
}

func testCert(notBefore, notAfter time.Time, issuer pkix.Name) *x509.Certificate {
	return &x509.Certificate{
		NotBefore: notBefore,
		NotAfter:  notAfter,
		Issuer:    issuer,
	}
}

func TestSummarizeCert_ValidWindow(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	cert := testCert(now.AddDate(0, 0, -1), now.AddDate(0, 0, 30), pkix.Name{Organization: []string{"Example CA"}})

	out := summarizeCert(cert, now)
	if !out.Valid {
		t.Fatalf("cert issued yesterday, expiring in 30 days, must be valid")
	}
	// 30 days minus nothing: NotAfter is exactly now+30d, so truncation gives 30.
	if out.DaysUntilExpiry != 30 {
		t.Fatalf("want 30 days until expiry, got %d", out.DaysUntilExpiry)
	}
	if out.Issuer != "Example CA" {
		t.Fatalf("want organization name, got %q", out.Issuer)
	}
}

func TestSummarizeCert_TimeOfDayTruncation(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	// Expires in 29 days and 20 hours: truncates to 29.
	cert := testCert(now.AddDate(0, 0, -1), now.AddDate(0, 0, 30).Add(-4*time.Hour), pkix.Name{})

	out := summarizeCert(cert, now)
	if out.DaysUntilExpiry != 29 {
		t.Fatalf("want 29, got %d", out.DaysUntilExpiry)
	}
}

func TestSummarizeCert_ExpiredClampsToZero(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	cert := testCert(now.AddDate(-1, 0, 0), now.AddDate(0, 0, -40), pkix.Name{CommonName: "Old CA"})

	out := summarizeCert(cert, now)
	if out.Valid {
		t.Fatalf("expired cert must not be valid")
	}
	if out.DaysUntilExpiry != 0 {
		t.Fatalf("days until expiry must clamp to 0, got %d", out.DaysUntilExpiry)
	}
}

func TestSummarizeCert_NotYetValid(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	cert := testCert(now.AddDate(0, 0, 5), now.AddDate(1, 0, 0), pkix.Name{})

	if out := summarizeCert(cert, now); out.Valid {
		t.Fatalf("cert with not_before in the future must not be valid")
	}
}

func TestIssuerName_Fallbacks(t *testing.T) {
	cases := []struct {
		name   pkix.Name
		want   string
	}{
		{pkix.Name{Organization: []string{"Org Inc"}, CommonName: "cn"}, "Org Inc"},
		{pkix.Name{CommonName: "Some CN"}, "Some CN"},
		{pkix.Name{}, "Unknown"},
	}
	for _, c := range cases {
		if got := issuerName(&x509.Certificate{Issuer: c.name}); got != c.want {
			t.Fatalf("issuerName(%+v) = %q, want %q", c.name, got, c.want)
		}
	}
}
