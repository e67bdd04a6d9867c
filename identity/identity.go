// Package identity manages the ephemeral TLS identity of a transfer
// session: an RSA key pair and a self-signed certificate generated when
// the sender starts and discarded when it exits. Peers authenticate the
// certificate by pinning its SHA-256 fingerprint, which travels inside
// the authenticated discovery beacon; nothing is ever persisted.
package identity

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"time"
)

const (
	// commonName is the certificate subject CN.
	commonName = "LocalSend CLI"

	// keyBits is the RSA modulus size.
	keyBits = 2048

	// certValidity is the certificate lifetime. Sessions are expected to
	// last minutes; one day bounds clock skew between peers.
	certValidity = 24 * time.Hour
)

var (
	ErrNoPeerCertificate   = errors.New("identity: peer presented no certificate")
	ErrPeerChainPresented  = errors.New("identity: peer presented a certificate chain, want a single self-signed certificate")
	ErrFingerprintMismatch = errors.New("identity: peer certificate fingerprint mismatch")
)

// Identity is an ephemeral per-session TLS identity.
type Identity struct {
	cert        tls.Certificate
	certDER     []byte
	certPEM     []byte
	keyPEM      []byte
	fingerprint string
}

// New generates a fresh identity: RSA-2048 key, self-signed X.509
// certificate with CN "LocalSend CLI", and the SHA-256 fingerprint of
// the certificate's DER encoding as lowercase hex.
func New() (*Identity, error) {
	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, fmt.Errorf("identity: generate key: %w", err)
	}

	serialLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serial, err := rand.Int(rand.Reader, serialLimit)
	if err != nil {
		return nil, fmt.Errorf("identity: generate serial: %w", err)
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             now,
		NotAfter:              now.Add(certValidity),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("identity: create certificate: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	pair, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("identity: assemble key pair: %w", err)
	}

	return &Identity{
		cert:        pair,
		certDER:     der,
		certPEM:     certPEM,
		keyPEM:      keyPEM,
		fingerprint: Fingerprint(der),
	}, nil
}

// Fingerprint computes the lowercase hex SHA-256 of a certificate's DER
// encoding. This is the value announced in beacons and pinned by clients.
func Fingerprint(der []byte) string {
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:])
}

// Fingerprint returns the identity's own certificate fingerprint.
func (id *Identity) Fingerprint() string { return id.fingerprint }

// CertificatePEM returns the PEM-encoded certificate.
func (id *Identity) CertificatePEM() []byte { return append([]byte(nil), id.certPEM...) }

// PrivateKeyPEM returns the PEM-encoded private key.
func (id *Identity) PrivateKeyPEM() []byte { return append([]byte(nil), id.keyPEM...) }

// CertificateDER returns the raw DER certificate bytes.
func (id *Identity) CertificateDER() []byte { return append([]byte(nil), id.certDER...) }
