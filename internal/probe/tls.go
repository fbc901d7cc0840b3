package probe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"strconv"
	"syscall"
	"time"
)

// TLSChecker opens one TCP connection to (domain, port), performs a TLS
// handshake against the platform trust store, and summarizes the leaf
// certificate. Retries are the caller's responsibility.
type TLSChecker struct {
	Timeout time.Duration
	// RootCAs overrides the platform trust store. Tests use it to accept
	// locally generated certificates; production leaves it nil.
	RootCAs *x509.CertPool
}

func NewTLSChecker(timeout time.Duration) *TLSChecker {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TLSChecker{Timeout: timeout}
}

func (c *TLSChecker) Probe(ctx context.Context, it Item) Result {
	port := it.Port
	if port == 0 {
		port = 443
	}
	addr := net.JoinHostPort(it.Domain, strconv.Itoa(int(port)))

	d := &net.Dialer{Timeout: c.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fail(classifyDialError(err, c.Timeout))
	}
	defer conn.Close()

	tconn := tls.Client(conn, &tls.Config{
		ServerName: it.Domain,
		RootCAs:    c.RootCAs,
	})
	hctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()
	if err := tconn.HandshakeContext(hctx); err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return fail(ErrConnectTimeout, fmt.Sprintf("connection timeout after %s", c.Timeout))
		}
		return fail(ErrHandshake, fmt.Sprintf("TLS error: %v", err))
	}

	certs := tconn.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return fail(ErrHandshake, "no certificates returned by server")
	}
	// Index 0 is always the leaf certificate.
	return summarizeCert(certs[0], time.Now().UTC())
}

// summarizeCert derives the certificate health fields from the leaf.
// Validity is a pure function of (cert, now); days until expiry is
// truncated to whole days and clamped at 0 once expired.
func summarizeCert(cert *x509.Certificate, now time.Time) Result {
	days := int(cert.NotAfter.Sub(now).Hours() / 24)
	if days < 0 {
		days = 0
	}
	return Result{
		Valid:           !now.Before(cert.NotBefore) && !now.After(cert.NotAfter),
		ValidFrom:       cert.NotBefore.UTC(),
		ValidTo:         cert.NotAfter.UTC(),
		DaysUntilExpiry: days,
		Issuer:          issuerName(cert),
		Timestamp:       now,
	}
}

// issuerName is the issuer's organization, falling back to the common
// name and then the literal "Unknown".
func issuerName(cert *x509.Certificate) string {
	if len(cert.Issuer.Organization) > 0 && cert.Issuer.Organization[0] != "" {
		return cert.Issuer.Organization[0]
	}
	if cert.Issuer.CommonName != "" {
		return cert.Issuer.CommonName
	}
	return "Unknown"
}

func classifyDialError(err error, timeout time.Duration) (ErrorKind, string) {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ErrDNSResolution, fmt.Sprintf("DNS resolution failed: %v", err)
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return ErrConnectTimeout, fmt.Sprintf("connection timeout after %s", timeout)
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return ErrConnRefused, "connection refused"
	}
	return ErrUnknown, fmt.Sprintf("unexpected error: %v", err)
}
