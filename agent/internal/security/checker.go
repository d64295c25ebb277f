package security

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"math"
	"net"
	"os"
	"time"
)

// expiringWithin is how close to NotAfter a certificate is reported as
// "expiring".
const expiringWithin = 30 * 24 * time.Hour

// CertStatus describes one leaf certificate.
type CertStatus struct {
	Source   string // file path or host:port
	Subject  string
	Issuer   string
	NotAfter time.Time
	DaysLeft int
	Status   string // valid | expiring | expired | unreachable
}

// CheckFile reads the first certificate in the PEM file at path.
func CheckFile(path string, now time.Time) (CertStatus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return CertStatus{}, fmt.Errorf("security: read %s: %w", path, err)
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return CertStatus{}, fmt.Errorf("security: %s: no PEM certificate", path)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return CertStatus{}, fmt.Errorf("security: parse %s: %w", path, err)
	}
	return describe(path, cert, now), nil
}

// Check dials endpoint (host:port) with cfg and describes the certificate the
// server presents. Dial failures yield Status "unreachable". A nil cfg
// verifies against the system roots.
func Check(ctx context.Context, endpoint string, cfg *tls.Config, now time.Time) CertStatus {
	cs := CertStatus{Source: endpoint, Status: "unreachable"}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if cfg == nil {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	dialer := &tls.Dialer{NetDialer: &net.Dialer{}, Config: cfg}
	netConn, err := dialer.DialContext(dialCtx, "tcp", endpoint)
	if err != nil {
		return cs
	}
	conn := netConn.(*tls.Conn)
	defer conn.Close()

	peers := conn.ConnectionState().PeerCertificates
	if len(peers) == 0 {
		return cs
	}
	return describe(endpoint, peers[0], now)
}

func describe(source string, leaf *x509.Certificate, now time.Time) CertStatus {
	daysLeft := leaf.NotAfter.Sub(now).Hours() / 24
	cs := CertStatus{
		Source:   source,
		Subject:  leaf.Subject.CommonName,
		Issuer:   leaf.Issuer.CommonName,
		NotAfter: leaf.NotAfter.UTC(),
		DaysLeft: int(math.Floor(daysLeft)),
	}
	switch left := leaf.NotAfter.Sub(now); {
	case left <= 0:
		cs.Status = "expired"
	case left <= expiringWithin:
		cs.Status = "expiring"
	default:
		cs.Status = "valid"
	}
	return cs
}
