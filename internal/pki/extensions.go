package pki

import (
	"crypto"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"strings"
)

// Extension sections use OpenSSL-style names and values, e.g.
//
//	basicConstraints: "CA:FALSE"
//	keyUsage: "digitalSignature, keyEncipherment"
//	extendedKeyUsage: "clientAuth"
//	subjectKeyIdentifier: "hash"
//	authorityKeyIdentifier: "keyid,issuer"
//
// Unknown names or values are configuration errors and fail at startup.

var keyUsageNames = map[string]x509.KeyUsage{
	"digitalSignature": x509.KeyUsageDigitalSignature,
	"nonRepudiation":   x509.KeyUsageContentCommitment,
	"keyEncipherment":  x509.KeyUsageKeyEncipherment,
	"dataEncipherment": x509.KeyUsageDataEncipherment,
	"keyAgreement":     x509.KeyUsageKeyAgreement,
	"keyCertSign":      x509.KeyUsageCertSign,
	"cRLSign":          x509.KeyUsageCRLSign,
}

var extKeyUsageNames = map[string]x509.ExtKeyUsage{
	"clientAuth":      x509.ExtKeyUsageClientAuth,
	"serverAuth":      x509.ExtKeyUsageServerAuth,
	"codeSigning":     x509.ExtKeyUsageCodeSigning,
	"emailProtection": x509.ExtKeyUsageEmailProtection,
}

func parseBasicConstraints(value string) (bool, error) {
	switch strings.TrimSpace(value) {
	case "CA:FALSE":
		return false, nil
	case "CA:TRUE":
		return true, nil
	default:
		return false, fmt.Errorf("pki: invalid basicConstraints value %q", value)
	}
}

func parseKeyUsage(value string) (x509.KeyUsage, error) {
	var usage x509.KeyUsage
	for _, tok := range strings.Split(value, ",") {
		name := strings.TrimSpace(tok)
		bit, ok := keyUsageNames[name]
		if !ok {
			return 0, fmt.Errorf("pki: unknown keyUsage %q", name)
		}
		usage |= bit
	}
	return usage, nil
}

func parseExtKeyUsage(value string) ([]x509.ExtKeyUsage, error) {
	var usages []x509.ExtKeyUsage
	for _, tok := range strings.Split(value, ",") {
		name := strings.TrimSpace(tok)
		usage, ok := extKeyUsageNames[name]
		if !ok {
			return nil, fmt.Errorf("pki: unknown extendedKeyUsage %q", name)
		}
		usages = append(usages, usage)
	}
	return usages, nil
}

// validateExtensionSection checks every extension declaration of a
// section without a certificate at hand. Called at issuer construction
// so a malformed section fails startup, not issuance.
func validateExtensionSection(section map[string]string) error {
	for name, value := range section {
		switch name {
		case "basicConstraints":
			if _, err := parseBasicConstraints(value); err != nil {
				return err
			}
		case "keyUsage":
			if _, err := parseKeyUsage(value); err != nil {
				return err
			}
		case "extendedKeyUsage":
			if _, err := parseExtKeyUsage(value); err != nil {
				return err
			}
		case "subjectKeyIdentifier", "authorityKeyIdentifier":
			// identifier substitution happens at signing time
		default:
			return fmt.Errorf("pki: unsupported extension %q", name)
		}
	}
	return nil
}

// applyExtensionSection fills the certificate template from an extension
// section. The subject key identifier is computed from the leaf public
// key; the authority key identifier is substituted from the CA
// certificate by the signing routine.
func applyExtensionSection(template *x509.Certificate, section map[string]string, pub crypto.PublicKey) error {
	for name, value := range section {
		switch name {
		case "basicConstraints":
			isCA, err := parseBasicConstraints(value)
			if err != nil {
				return err
			}
			template.BasicConstraintsValid = true
			template.IsCA = isCA
		case "keyUsage":
			usage, err := parseKeyUsage(value)
			if err != nil {
				return err
			}
			template.KeyUsage = usage
		case "extendedKeyUsage":
			usages, err := parseExtKeyUsage(value)
			if err != nil {
				return err
			}
			template.ExtKeyUsage = usages
		case "subjectKeyIdentifier":
			ski, err := subjectKeyID(pub)
			if err != nil {
				return err
			}
			template.SubjectKeyId = ski
		case "authorityKeyIdentifier":
			// filled from the issuing certificate by x509.CreateCertificate
		default:
			return fmt.Errorf("pki: unsupported extension %q", name)
		}
	}
	return nil
}

// subjectKeyID derives the RFC 5280 key identifier: the SHA-1 hash of
// the subjectPublicKey bit string.
func subjectKeyID(pub crypto.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("pki: failed to marshal public key: %w", err)
	}
	var spki struct {
		Algorithm        pkix.AlgorithmIdentifier
		SubjectPublicKey asn1.BitString
	}
	if _, err := asn1.Unmarshal(der, &spki); err != nil {
		return nil, fmt.Errorf("pki: failed to parse public key info: %w", err)
	}
	sum := sha1.Sum(spki.SubjectPublicKey.Bytes)
	return sum[:], nil
}
