package pki

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/youmark/pkcs8"

	"github.com/Turgon37/OpenVPN-UAM/internal/config"
	"github.com/Turgon37/OpenVPN-UAM/internal/metrics"
	"github.com/Turgon37/OpenVPN-UAM/internal/models"
)

// CertificateStore persists issued certificates and applies entity
// updates. Implemented by the datastore.
type CertificateStore interface {
	models.Store
	AddCertificate(host *models.Hostname, cert *models.Certificate) error
}

// Issuer drives the issuance pipeline: key generation, signing by the
// certificate authority and storage of the produced artifacts.
type Issuer struct {
	logger *slog.Logger
	ca     *CertificateAuthority
	tree   *FileTree

	keySize     int
	keepRequest bool

	clientExtensions map[string]string
	serverExtensions map[string]string

	// now is replaceable in tests
	now func() time.Time
}

// NewIssuer builds the issuer from the PKI configuration. Malformed
// extension sections and an expired CA fail here, at startup, never at
// issuance time.
func NewIssuer(ca *CertificateAuthority, tree *FileTree, cfg *config.Config, logger *slog.Logger) (*Issuer, error) {
	if ca.HasExpired(time.Now()) {
		return nil, fmt.Errorf("pki: CA certificate has expired")
	}

	clientExt := cfg.ExtensionSection(cfg.PKI.ClientExtensions)
	serverExt := cfg.ExtensionSection(cfg.PKI.ServerExtensions)
	if clientExt == nil {
		logger.Warn("no extensions configured for client certificates")
	}
	if serverExt == nil {
		logger.Warn("no extensions configured for server certificates")
	}
	for _, section := range []map[string]string{clientExt, serverExt} {
		if section == nil {
			continue
		}
		if err := validateExtensionSection(section); err != nil {
			return nil, err
		}
	}

	return &Issuer{
		logger:           logger.With(slog.String("component", "pki")),
		ca:               ca,
		tree:             tree,
		keySize:          cfg.PKI.NewCertKeySize,
		keepRequest:      cfg.PKI.KeepCertificateRequest,
		clientExtensions: clientExt,
		serverExtensions: serverExt,
		now:              time.Now,
	}, nil
}

// Issue builds a new client certificate for the hostname. The
// certificate entity is persisted before signing because its assigned
// identity becomes the X.509 serial number; if a later step fails, the
// provisional row is revoked through the store so it never surfaces as
// a live certificate.
func (i *Issuer) Issue(st CertificateStore, user *models.User, host *models.Hostname) (*models.Certificate, error) {
	if host.PeriodDays <= 0 {
		return nil, fmt.Errorf("pki: hostname %q has no renewal period", host.Name)
	}

	i.logger.Debug("building a new certificate",
		slog.Int64("hostname_id", host.ID),
		slog.String("hostname", host.Name),
	)

	key, err := rsa.GenerateKey(rand.Reader, i.keySize)
	if err != nil {
		metrics.ObserveIssuance("failure")
		return nil, fmt.Errorf("pki: failed to generate %d bits RSA key: %w", i.keySize, err)
	}

	// subject fields are inherited from the CA, the common name ties the
	// certificate to its user and hostname
	caSubject := i.ca.Subject()
	subject := pkix.Name{
		Country:            caSubject.Country,
		Province:           caSubject.Province,
		Locality:           caSubject.Locality,
		Organization:       caSubject.Organization,
		OrganizationalUnit: caSubject.OrganizationalUnit,
		CommonName:         user.CUID + "_" + host.Name,
	}

	csrDER, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		Subject:        subject,
		EmailAddresses: []string{user.Mail},
	}, key)
	if err != nil {
		metrics.ObserveIssuance("failure")
		return nil, fmt.Errorf("pki: failed to build signing request: %w", err)
	}

	password, err := i.keyPassword(user)
	if err != nil {
		metrics.ObserveIssuance("failure")
		return nil, err
	}

	now := i.now()
	cert := models.NewCertificate(now, now.AddDate(0, 0, host.PeriodDays))
	cert.IsPassword = password != ""

	// persistence assigns the identity used as serial number below
	if err := st.AddCertificate(host, cert); err != nil {
		metrics.ObserveIssuance("failure")
		return nil, fmt.Errorf("pki: unable to insert new certificate with the configured adapter: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber:   big.NewInt(cert.ID),
		Subject:        subject,
		NotBefore:      cert.NotBefore,
		NotAfter:       cert.NotAfter,
		EmailAddresses: []string{user.Mail},
	}
	if i.clientExtensions != nil {
		if err := applyExtensionSection(template, i.clientExtensions, key.Public()); err != nil {
			return nil, i.abort(st, cert, err)
		}
	}

	certDER, err := i.ca.Sign(template, key.Public())
	if err != nil {
		return nil, i.abort(st, cert, err)
	}

	keyPEM, err := encodePrivateKey(key, password)
	if err != nil {
		return nil, i.abort(st, cert, err)
	}
	if err := i.tree.StorePrivateKey(user, host, cert, keyPEM); err != nil {
		return nil, i.abort(st, cert, err)
	}
	if i.keepRequest {
		csrPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: csrDER})
		if err := i.tree.StoreRequest(user, host, cert, csrPEM); err != nil {
			return nil, i.abort(st, cert, err)
		}
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	if err := i.tree.StoreCertificate(user, host, cert, certPEM); err != nil {
		return nil, i.abort(st, cert, err)
	}

	metrics.ObserveIssuance("success")
	i.logger.Info("certificate issued",
		slog.Int64("serial", cert.ID),
		slog.String("hostname", host.Name),
		slog.Time("not_after", cert.NotAfter),
	)
	return cert, nil
}

// abort compensates a failure that happened after the provisional row
// was persisted: the row is revoked so it is never classified as live.
func (i *Issuer) abort(st CertificateStore, cert *models.Certificate, cause error) error {
	metrics.ObserveIssuance("failure")
	cert.Revoke(st, "issuance aborted", i.now())
	i.logger.Error("issuance aborted, provisional certificate revoked",
		slog.Int64("serial", cert.ID),
		slog.String("error", cause.Error()),
	)
	return fmt.Errorf("pki: issuance aborted: %w", cause)
}

// keyPassword decides the private-key protection for a user: a freshly
// generated password when a certificate mail is configured, the
// configured password otherwise, none when neither is set.
func (i *Issuer) keyPassword(user *models.User) (string, error) {
	switch {
	case user.CertificateMail != "":
		password, err := randomPassword(defaultPasswordSize)
		if err != nil {
			return "", fmt.Errorf("pki: failed to generate key password: %w", err)
		}
		return password, nil
	case user.CertificatePassword != "":
		return user.CertificatePassword, nil
	default:
		return "", nil
	}
}

// encodePrivateKey serializes the key as PEM PKCS#8, encrypted when a
// password is given.
func encodePrivateKey(key *rsa.PrivateKey, password string) ([]byte, error) {
	if password == "" {
		der, err := x509.MarshalPKCS8PrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("pki: failed to marshal private key: %w", err)
		}
		return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
	}

	der, err := pkcs8.MarshalPrivateKey(key, []byte(password), nil)
	if err != nil {
		return nil, fmt.Errorf("pki: failed to encrypt private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "ENCRYPTED PRIVATE KEY", Bytes: der}), nil
}
