// Package certs provides the gateway's TLS identity: self-signed ECDSA P-256
// certificates suitable for WebTransport certificate pinning (at most 14-day
// validity), PEM identities loaded from disk, and the SHA-256 digest browsers
// pass as serverCertificateHashes.
package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"net"
	"time"
)

const (
	// maxValidity is the longest lifetime browsers accept for a certificate
	// pinned through serverCertificateHashes.
	maxValidity = 14 * 24 * time.Hour
	clockSkew   = time.Minute
)

var serialLimit = new(big.Int).Lsh(big.NewInt(1), 128)

// CertInfo holds a TLS certificate and the SHA-256 digest of its DER leaf.
type CertInfo struct {
	TLSCert     tls.Certificate
	Fingerprint [32]byte
	NotAfter    time.Time
}

// FingerprintBase64 returns the SHA-256 fingerprint as base64.
func (c *CertInfo) FingerprintBase64() string {
	return base64.StdEncoding.EncodeToString(c.Fingerprint[:])
}

// FingerprintHex returns the SHA-256 fingerprint as lowercase hex.
func (c *CertInfo) FingerprintHex() string {
	return hex.EncodeToString(c.Fingerprint[:])
}

// FingerprintBytes returns the fingerprint as a list of integers in 0..255,
// the shape a browser client feeds into new Uint8Array(...).
func (c *CertInfo) FingerprintBytes() []int {
	out := make([]int, len(c.Fingerprint))
	for i, b := range c.Fingerprint {
		out[i] = int(b)
	}
	return out
}

// Generate creates a self-signed ECDSA P-256 identity for localhost and the
// loopback addresses. A validity outside (0, 14 days] is clamped to 14 days.
func Generate(validity time.Duration) (*CertInfo, error) {
	if validity <= 0 || validity > maxValidity {
		validity = maxValidity
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	tmpl, err := leafTemplate(time.Now(), validity)
	if err != nil {
		return nil, err
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, key.Public(), key)
	if err != nil {
		return nil, fmt.Errorf("sign certificate: %w", err)
	}

	info := &CertInfo{
		Fingerprint: sha256.Sum256(der),
		NotAfter:    tmpl.NotAfter,
	}
	info.TLSCert.Certificate = [][]byte{der}
	info.TLSCert.PrivateKey = key
	return info, nil
}

// leafTemplate describes a server leaf whose total lifetime, skew margin
// included, is exactly validity.
func leafTemplate(now time.Time, validity time.Duration) (*x509.Certificate, error) {
	serial, err := rand.Int(rand.Reader, serialLimit)
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}
	start := now.Add(-clockSkew)
	return &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "wtgate", Organization: []string{"wtgate dev"}},
		NotBefore:             start,
		NotAfter:              start.Add(validity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}, nil
}
