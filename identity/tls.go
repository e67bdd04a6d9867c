package identity

import (
	"crypto/sha256"
	"crypto/subtle"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"strings"
)

// ServerTLSConfig returns the TLS configuration for the transfer server,
// presenting the identity's self-signed certificate.
func (id *Identity) ServerTLSConfig() *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{id.cert},
		MinVersion:   tls.VersionTLS12,
	}
}

// ClientTLSConfig returns a TLS configuration that accepts exactly one
// server certificate: a single self-signed certificate whose SHA-256
// DER fingerprint equals expectedFingerprint. Chain verification is
// disabled; the pin is the whole trust decision, and the comparison is
// constant time.
func ClientTLSConfig(expectedFingerprint string) *tls.Config {
	expected := []byte(strings.ToLower(expectedFingerprint))
	return &tls.Config{
		InsecureSkipVerify: true, // replaced by the fingerprint pin below
		MinVersion:         tls.VersionTLS12,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return ErrNoPeerCertificate
			}
			if len(rawCerts) > 1 {
				return ErrPeerChainPresented
			}
			sum := sha256.Sum256(rawCerts[0])
			got := []byte(hex.EncodeToString(sum[:]))
			if subtle.ConstantTimeCompare(got, expected) != 1 {
				return ErrFingerprintMismatch
			}
			return nil
		},
	}
}
