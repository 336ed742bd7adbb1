package models

import "time"

// User represents a VPN user account owning a set of hostnames.
type User struct {
	ID   int64
	CUID string
	Mail string

	// CertificateMail and CertificatePassword drive private-key
	// protection during issuance. Both are optional.
	CertificateMail     string
	CertificatePassword string

	Enabled bool

	// StartTime and StopTime bound the validity window of the account.
	// A nil bound is open-ended.
	StartTime *time.Time
	StopTime  *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time

	Hostnames []*Hostname
}

// IsActive reports whether the user is enabled and inside its validity
// window at the given instant.
func (u *User) IsActive(now time.Time) bool {
	if !u.Enabled {
		return false
	}
	if u.StartTime != nil && now.Before(*u.StartTime) {
		return false
	}
	if u.StopTime != nil && now.After(*u.StopTime) {
		return false
	}
	return true
}

// Enable activates the user and propagates the change to the store.
func (u *User) Enable(st Store) {
	u.Enabled = true
	u.UpdatedAt = time.Now()
	st.Update(EntityUser, u.ID, "is_enable", true, 1)
}

// Disable deactivates the user. Disablement is a state flag, the account
// is never deleted.
func (u *User) Disable(st Store) {
	u.Enabled = false
	u.UpdatedAt = time.Now()
	st.Update(EntityUser, u.ID, "is_enable", false, 1)
}

// SetMail changes the contact address of the user.
func (u *User) SetMail(st Store, mail string) {
	u.Mail = mail
	u.UpdatedAt = time.Now()
	st.Update(EntityUser, u.ID, "mail", mail, 1)
}

// SetCertificateMail changes the certificate-specific mail address.
func (u *User) SetCertificateMail(st Store, mail string) {
	u.CertificateMail = mail
	u.UpdatedAt = time.Now()
	st.Update(EntityUser, u.ID, "certificate_mail", mail, 1)
}

// SetCertificatePassword changes the configured private-key password.
func (u *User) SetCertificatePassword(st Store, password string) {
	u.CertificatePassword = password
	u.UpdatedAt = time.Now()
	st.Update(EntityUser, u.ID, "certificate_password", password, 1)
}
