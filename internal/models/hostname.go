package models

import "time"

// Hostname represents a machine of a user for which client certificates
// are issued. It belongs to exactly one user.
type Hostname struct {
	ID     int64
	UserID int64
	Name   string

	Enabled bool
	Online  bool

	// PeriodDays is the validity period in days of newly issued
	// certificates for this hostname.
	PeriodDays int

	CreatedAt time.Time
	UpdatedAt time.Time

	// Certificates is the full certificate set loaded from the store.
	Certificates []*Certificate

	// Buckets is the validity partition of Certificates computed at the
	// last classification pass. It is a view, not separate storage.
	Buckets CertificateBuckets
}

// CertificateBuckets partitions a hostname's certificates by validity
// at a given instant. The four slices are disjoint and their union is
// the classified set.
type CertificateBuckets struct {
	SoonValid    []*Certificate
	Valid        []*Certificate
	SoonExpiring []*Certificate
	Expired      []*Certificate
}

// NeedsRenewal reports whether the hostname has no current or upcoming
// certificate and therefore needs a new one issued.
func (b CertificateBuckets) NeedsRenewal() bool {
	return len(b.Valid) == 0 && len(b.SoonValid) == 0
}

// Enable activates the hostname and propagates the change to the store.
func (h *Hostname) Enable(st Store) {
	h.Enabled = true
	h.UpdatedAt = time.Now()
	st.Update(EntityHostname, h.ID, "is_enable", true, 1)
}

// Disable deactivates the hostname.
func (h *Hostname) Disable(st Store) {
	h.Enabled = false
	h.UpdatedAt = time.Now()
	st.Update(EntityHostname, h.ID, "is_enable", false, 1)
}

// SetOnline marks the hostname as currently connected.
func (h *Hostname) SetOnline(st Store) {
	h.Online = true
	h.UpdatedAt = time.Now()
	st.Update(EntityHostname, h.ID, "is_online", true, 1)
}

// SetOffline marks the hostname as disconnected.
func (h *Hostname) SetOffline(st Store) {
	h.Online = false
	h.UpdatedAt = time.Now()
	st.Update(EntityHostname, h.ID, "is_online", false, 1)
}

// SetName renames the hostname.
func (h *Hostname) SetName(st Store, name string) {
	h.Name = name
	h.UpdatedAt = time.Now()
	st.Update(EntityHostname, h.ID, "name", name, 1)
}

// SetPeriodDays changes the validity period of future certificates.
func (h *Hostname) SetPeriodDays(st Store, days int) {
	h.PeriodDays = days
	h.UpdatedAt = time.Now()
	st.Update(EntityHostname, h.ID, "period_days", days, 1)
}
