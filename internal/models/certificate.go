package models

import (
	"fmt"
	"time"
)

// Certificate represents an issued (or about to be issued) client
// certificate of a hostname. It is immutable after issuance except for
// the revocation fields.
type Certificate struct {
	// ID is the identity assigned by the store on first persist. It is
	// zero before, and doubles as the X.509 serial number once signed.
	ID int64

	HostnameID int64

	NotBefore time.Time
	NotAfter  time.Time

	// IsPassword reports whether the private key is passphrase
	// protected.
	IsPassword bool

	RevokedReason string
	RevokedTime   *time.Time
}

// NewCertificate builds a not-yet-persisted certificate with the given
// validity bounds.
func NewCertificate(notBefore, notAfter time.Time) *Certificate {
	return &Certificate{
		NotBefore: notBefore,
		NotAfter:  notAfter,
	}
}

// SetID assigns the store identity. Assigning twice is a programming
// error.
func (c *Certificate) SetID(id int64) {
	if c.ID != 0 {
		panic(fmt.Sprintf("certificate identity already assigned (%d)", c.ID))
	}
	c.ID = id
}

// Duration returns the validity duration of the certificate.
func (c *Certificate) Duration() time.Duration {
	return c.NotAfter.Sub(c.NotBefore)
}

// IsRevoked reports whether the certificate has been revoked.
func (c *Certificate) IsRevoked() bool {
	return c.RevokedTime != nil
}

// Revoke marks the certificate as revoked and propagates both
// revocation fields to the store.
func (c *Certificate) Revoke(st Store, reason string, now time.Time) {
	c.RevokedReason = reason
	c.RevokedTime = &now
	st.Update(EntityCertificate, c.ID, "revoked_reason", reason, 1)
	st.Update(EntityCertificate, c.ID, "revoked_time", now, 1)
}
