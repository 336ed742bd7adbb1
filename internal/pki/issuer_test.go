package pki

import (
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/youmark/pkcs8"

	"github.com/Turgon37/OpenVPN-UAM/internal/config"
	"github.com/Turgon37/OpenVPN-UAM/internal/models"
)

// fakeCertStore assigns identities to inserted certificates and records
// the updates compensation enqueues.
type fakeCertStore struct {
	nextID    int64
	inserted  []*models.Certificate
	updates   []*models.PendingUpdate
	insertErr error
}

func (f *fakeCertStore) Update(kind models.EntityKind, targetID int64, field string, value any, expected int64) {
	f.updates = append(f.updates, models.NewPendingUpdate(kind, targetID, field, value, expected))
}

func (f *fakeCertStore) AddCertificate(host *models.Hostname, cert *models.Certificate) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.nextID++
	cert.SetID(f.nextID)
	cert.HostnameID = host.ID
	f.inserted = append(f.inserted, cert)
	host.Certificates = append(host.Certificates, cert)
	return nil
}

func testIssuerConfig(dir string) *config.Config {
	return &config.Config{
		PKI: config.PKIConfig{
			CertDirectory:    filepath.Join(dir, "certificates"),
			NewCertKeySize:   2048,
			Digest:           "sha256",
			ClientExtensions: "client",
		},
		Extensions: map[string]map[string]string{
			"client": {
				"basicConstraints":     "CA:FALSE",
				"keyUsage":             "digitalSignature, keyEncipherment",
				"extendedKeyUsage":     "clientAuth",
				"subjectKeyIdentifier": "hash",
			},
		},
	}
}

func newTestIssuer(t *testing.T, cfg *config.Config) (*Issuer, *CertificateAuthority) {
	t.Helper()

	dir := t.TempDir()
	certPath, keyPath, _, _ := writeTestCA(t, dir, time.Now().Add(365*24*time.Hour))
	ca, err := LoadCA(certPath, keyPath, cfg.PKI.Digest, testLogger())
	require.NoError(t, err)

	tree, err := NewFileTree(cfg.PKI.CertDirectory, testLogger())
	require.NoError(t, err)

	issuer, err := NewIssuer(ca, tree, cfg, testLogger())
	require.NoError(t, err)
	return issuer, ca
}

func TestIssue(t *testing.T) {
	cfg := testIssuerConfig(t.TempDir())
	issuer, ca := newTestIssuer(t, cfg)

	st := &fakeCertStore{}
	user := &models.User{ID: 1, CUID: "c4f2", Mail: "alice@example.org", Enabled: true}
	host := &models.Hostname{ID: 2, Name: "laptop", Enabled: true, PeriodDays: 30}

	cert, err := issuer.Issue(st, user, host)
	require.NoError(t, err)
	require.NotNil(t, cert)

	assert.Equal(t, int64(1), cert.ID, "identity assigned by the store")
	assert.Equal(t, cert.NotBefore.AddDate(0, 0, 30), cert.NotAfter)
	assert.False(t, cert.IsPassword)
	assert.Empty(t, st.updates, "no compensation on success")
	require.Len(t, host.Certificates, 1)

	// the signed certificate carries the row identity as serial number
	certDir := filepath.Join(cfg.PKI.CertDirectory, "1", "2")
	certPEM, err := os.ReadFile(filepath.Join(certDir, "1.crt"))
	require.NoError(t, err)
	block, _ := pem.Decode(certPEM)
	require.NotNil(t, block)
	parsed, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)

	assert.Equal(t, int64(1), parsed.SerialNumber.Int64())
	assert.Equal(t, "c4f2_laptop", parsed.Subject.CommonName)
	assert.Equal(t, ca.Subject().Organization, parsed.Subject.Organization)
	assert.Equal(t, []string{"alice@example.org"}, parsed.EmailAddresses)
	assert.False(t, parsed.IsCA)
	assert.Equal(t, x509.KeyUsageDigitalSignature|x509.KeyUsageKeyEncipherment, parsed.KeyUsage)
	assert.Equal(t, []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}, parsed.ExtKeyUsage)
	assert.NotEmpty(t, parsed.SubjectKeyId)

	// no request file unless configured
	_, err = os.Stat(filepath.Join(certDir, "1.csr"))
	assert.True(t, os.IsNotExist(err))
}

func TestIssueUnprotectedKey(t *testing.T) {
	cfg := testIssuerConfig(t.TempDir())
	issuer, _ := newTestIssuer(t, cfg)

	st := &fakeCertStore{}
	user := &models.User{ID: 1, CUID: "c4f2", Mail: "alice@example.org"}
	host := &models.Hostname{ID: 2, Name: "laptop", PeriodDays: 30}

	cert, err := issuer.Issue(st, user, host)
	require.NoError(t, err)
	assert.False(t, cert.IsPassword)

	keyPEM, err := os.ReadFile(filepath.Join(cfg.PKI.CertDirectory, "1", "2", "1.key"))
	require.NoError(t, err)
	block, _ := pem.Decode(keyPEM)
	require.NotNil(t, block)
	assert.Equal(t, "PRIVATE KEY", block.Type)

	_, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	assert.NoError(t, err)
}

func TestIssueWithConfiguredPassword(t *testing.T) {
	cfg := testIssuerConfig(t.TempDir())
	issuer, _ := newTestIssuer(t, cfg)

	st := &fakeCertStore{}
	user := &models.User{ID: 1, CUID: "c4f2", Mail: "alice@example.org", CertificatePassword: "hunter2"}
	host := &models.Hostname{ID: 2, Name: "laptop", PeriodDays: 30}

	cert, err := issuer.Issue(st, user, host)
	require.NoError(t, err)
	assert.True(t, cert.IsPassword)

	keyPEM, err := os.ReadFile(filepath.Join(cfg.PKI.CertDirectory, "1", "2", "1.key"))
	require.NoError(t, err)
	block, _ := pem.Decode(keyPEM)
	require.NotNil(t, block)
	assert.Equal(t, "ENCRYPTED PRIVATE KEY", block.Type)

	_, err = pkcs8.ParsePKCS8PrivateKeyRSA(block.Bytes, []byte("hunter2"))
	assert.NoError(t, err, "key must decrypt with the configured password")

	_, err = pkcs8.ParsePKCS8PrivateKeyRSA(block.Bytes, []byte("wrong"))
	assert.Error(t, err)
}

func TestIssueWithCertificateMailGeneratesPassword(t *testing.T) {
	cfg := testIssuerConfig(t.TempDir())
	issuer, _ := newTestIssuer(t, cfg)

	st := &fakeCertStore{}
	// certificate mail takes precedence over the configured password
	user := &models.User{ID: 1, CUID: "c4f2", Mail: "alice@example.org",
		CertificateMail: "certs@example.org", CertificatePassword: "hunter2"}
	host := &models.Hostname{ID: 2, Name: "laptop", PeriodDays: 30}

	cert, err := issuer.Issue(st, user, host)
	require.NoError(t, err)
	assert.True(t, cert.IsPassword)

	keyPEM, err := os.ReadFile(filepath.Join(cfg.PKI.CertDirectory, "1", "2", "1.key"))
	require.NoError(t, err)
	block, _ := pem.Decode(keyPEM)
	require.NotNil(t, block)
	assert.Equal(t, "ENCRYPTED PRIVATE KEY", block.Type)

	// a random password was generated, so the configured one does not open it
	_, err = pkcs8.ParsePKCS8PrivateKeyRSA(block.Bytes, []byte("hunter2"))
	assert.Error(t, err)
}

func TestIssueKeepsRequestWhenConfigured(t *testing.T) {
	cfg := testIssuerConfig(t.TempDir())
	cfg.PKI.KeepCertificateRequest = true
	issuer, _ := newTestIssuer(t, cfg)

	st := &fakeCertStore{}
	user := &models.User{ID: 1, CUID: "c4f2", Mail: "alice@example.org"}
	host := &models.Hostname{ID: 2, Name: "laptop", PeriodDays: 30}

	_, err := issuer.Issue(st, user, host)
	require.NoError(t, err)

	csrPEM, err := os.ReadFile(filepath.Join(cfg.PKI.CertDirectory, "1", "2", "1.csr"))
	require.NoError(t, err)
	block, _ := pem.Decode(csrPEM)
	require.NotNil(t, block)
	assert.Equal(t, "CERTIFICATE REQUEST", block.Type)
	_, err = x509.ParseCertificateRequest(block.Bytes)
	assert.NoError(t, err)
}

func TestIssueRejectsMissingPeriod(t *testing.T) {
	cfg := testIssuerConfig(t.TempDir())
	issuer, _ := newTestIssuer(t, cfg)

	st := &fakeCertStore{}
	user := &models.User{ID: 1, CUID: "c4f2", Mail: "alice@example.org"}
	host := &models.Hostname{ID: 2, Name: "laptop", PeriodDays: 0}

	_, err := issuer.Issue(st, user, host)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no renewal period")
	assert.Empty(t, st.inserted)
}

func TestIssueInsertFailureLeavesNoArtifacts(t *testing.T) {
	cfg := testIssuerConfig(t.TempDir())
	issuer, _ := newTestIssuer(t, cfg)

	st := &fakeCertStore{insertErr: os.ErrClosed}
	user := &models.User{ID: 1, CUID: "c4f2", Mail: "alice@example.org"}
	host := &models.Hostname{ID: 2, Name: "laptop", PeriodDays: 30}

	_, err := issuer.Issue(st, user, host)
	require.Error(t, err)
	assert.Empty(t, st.updates, "nothing to compensate before the row exists")

	_, err = os.Stat(filepath.Join(cfg.PKI.CertDirectory, "1"))
	assert.True(t, os.IsNotExist(err))
}

func TestIssueRevokesProvisionalRowOnLateFailure(t *testing.T) {
	cfg := testIssuerConfig(t.TempDir())
	issuer, _ := newTestIssuer(t, cfg)

	st := &fakeCertStore{}
	user := &models.User{ID: 1, CUID: "c4f2", Mail: "alice@example.org"}
	host := &models.Hostname{ID: 2, Name: "laptop", PeriodDays: 30}

	// force the key store step to fail by occupying its path
	dir := filepath.Join(cfg.PKI.CertDirectory, "1", "2")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "1.key"), []byte("occupied"), 0o600))

	_, err := issuer.Issue(st, user, host)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "issuance aborted")

	// the provisional row exists and was revoked through the store
	require.Len(t, st.inserted, 1)
	assert.True(t, st.inserted[0].IsRevoked())
	require.Len(t, st.updates, 2)
	assert.Equal(t, models.EntityCertificate, st.updates[0].Kind)
	assert.Equal(t, "revoked_reason", st.updates[0].Field)
	assert.Equal(t, "revoked_time", st.updates[1].Field)
	assert.Equal(t, st.inserted[0].ID, st.updates[0].TargetID)
}

func TestNewIssuerRejectsExpiredCA(t *testing.T) {
	dir := t.TempDir()
	cfg := testIssuerConfig(dir)

	_, _, cert, key := writeTestCA(t, dir, time.Now().Add(-time.Hour))
	ca := &CertificateAuthority{cert: cert, key: key, sigAlg: x509.SHA256WithRSA}

	tree, err := NewFileTree(cfg.PKI.CertDirectory, testLogger())
	require.NoError(t, err)

	_, err = NewIssuer(ca, tree, cfg, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired")
}

func TestNewIssuerRejectsMalformedExtensions(t *testing.T) {
	dir := t.TempDir()
	cfg := testIssuerConfig(dir)
	cfg.Extensions["client"]["keyUsage"] = "flyingCircus"

	certPath, keyPath, _, _ := writeTestCA(t, dir, time.Now().Add(24*time.Hour))
	ca, err := LoadCA(certPath, keyPath, "sha256", testLogger())
	require.NoError(t, err)
	tree, err := NewFileTree(cfg.PKI.CertDirectory, testLogger())
	require.NoError(t, err)

	_, err = NewIssuer(ca, tree, cfg, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown keyUsage")
}

func TestRandomPassword(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 32; i++ {
		p, err := randomPassword(defaultPasswordSize)
		require.NoError(t, err)
		assert.Len(t, p, defaultPasswordSize)
		for _, r := range p {
			assert.Contains(t, passwordChars, string(r))
		}
		seen[p] = true
	}
	assert.Greater(t, len(seen), 1, "passwords must not repeat systematically")
}
