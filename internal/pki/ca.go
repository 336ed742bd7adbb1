package pki

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// CertificateAuthority holds the trusted certificate and key used to
// sign issued certificates.
type CertificateAuthority struct {
	cert   *x509.Certificate
	key    *rsa.PrivateKey
	sigAlg x509.SignatureAlgorithm
}

// signatureAlgorithm maps a configured digest name to the matching RSA
// signature algorithm.
func signatureAlgorithm(digest string) (x509.SignatureAlgorithm, error) {
	switch digest {
	case "sha256":
		return x509.SHA256WithRSA, nil
	case "sha384":
		return x509.SHA384WithRSA, nil
	case "sha512":
		return x509.SHA512WithRSA, nil
	default:
		return x509.UnknownSignatureAlgorithm, fmt.Errorf("pki: no such digest method %q", digest)
	}
}

// LoadCA loads the CA certificate and private key from the given paths
// and verifies they are usable: the certificate must not be expired, the
// key must pass its sanity check and both must belong together. Any
// failure here is fatal to startup.
func LoadCA(certPath, keyPath, digest string, logger *slog.Logger) (*CertificateAuthority, error) {
	sigAlg, err := signatureAlgorithm(digest)
	if err != nil {
		return nil, err
	}

	cert, err := loadCertificate(certPath, logger)
	if err != nil {
		return nil, fmt.Errorf("pki: unable to load CA certificate: %w", err)
	}
	key, err := loadPrivateKey(keyPath, logger)
	if err != nil {
		return nil, fmt.Errorf("pki: unable to load CA private key: %w", err)
	}

	if time.Now().After(cert.NotAfter) {
		return nil, fmt.Errorf("pki: CA certificate has expired (not after %s)", cert.NotAfter)
	}
	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("pki: CA private key is invalid: %w", err)
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("pki: CA certificate does not carry an RSA public key")
	}
	if !pub.Equal(&key.PublicKey) {
		return nil, fmt.Errorf("pki: CA certificate and private key do not match")
	}

	logger.Info("CA loaded",
		slog.String("subject", cert.Subject.CommonName),
		slog.Int("key_bits", key.N.BitLen()),
		slog.String("digest", digest),
	)

	return &CertificateAuthority{
		cert:   cert,
		key:    key,
		sigAlg: sigAlg,
	}, nil
}

// loadCertificate reads an X.509 certificate, preferring PEM and falling
// back to raw DER with a warning.
func loadCertificate(path string, logger *slog.Logger) (*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open certificate file: %w", err)
	}

	if block, _ := pem.Decode(data); block != nil {
		return x509.ParseCertificate(block.Bytes)
	}

	cert, err := x509.ParseCertificate(data)
	if err != nil {
		return nil, fmt.Errorf("unable to import certificate: %w", err)
	}
	logger.Warn("certificate is not in the recommended PEM format", slog.String("path", path))
	return cert, nil
}

// loadPrivateKey reads an RSA private key in PKCS#1 or PKCS#8 form,
// preferring PEM and falling back to raw DER with a warning.
func loadPrivateKey(path string, logger *slog.Logger) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open private key file: %w", err)
	}

	der := data
	if block, _ := pem.Decode(data); block != nil {
		der = block.Bytes
	} else {
		logger.Warn("private key is not in the recommended PEM format", slog.String("path", path))
	}

	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("unable to import private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not an RSA key")
	}
	return key, nil
}

// Subject returns the subject of the CA certificate. Issued certificates
// inherit its country/state/locality/organization fields.
func (ca *CertificateAuthority) Subject() pkix.Name {
	return ca.cert.Subject
}

// KeyBits returns the modulus size of the CA key.
func (ca *CertificateAuthority) KeyBits() int {
	return ca.key.N.BitLen()
}

// HasExpired reports whether the CA certificate is past its validity at
// the given instant.
func (ca *CertificateAuthority) HasExpired(now time.Time) bool {
	return now.After(ca.cert.NotAfter)
}

// Sign signs the certificate template with the CA key and configured
// digest and returns the DER-encoded certificate.
func (ca *CertificateAuthority) Sign(template *x509.Certificate, pub crypto.PublicKey) ([]byte, error) {
	template.SignatureAlgorithm = ca.sigAlg
	der, err := x509.CreateCertificate(rand.Reader, template, ca.cert, pub, ca.key)
	if err != nil {
		return nil, fmt.Errorf("pki: failed to sign certificate: %w", err)
	}
	return der, nil
}
