// Package pki manages the certificate lifecycle: classification of
// existing certificates by validity, issuance of new ones through the
// certificate authority, and storage of the produced artifacts.
package pki

import (
	"time"

	"github.com/Turgon37/OpenVPN-UAM/internal/models"
)

// Bucket is one of the four validity classification outcomes.
type Bucket int

const (
	// BucketSoonValid holds certificates whose validity has not started.
	BucketSoonValid Bucket = iota
	// BucketValid holds currently usable certificates not yet due for
	// renewal.
	BucketValid
	// BucketSoonExpiring holds certificates inside their renewal margin.
	BucketSoonExpiring
	// BucketExpired holds certificates past their end of validity.
	BucketExpired
)

// RenewalMargin returns the expiry-anticipation lead time for a
// certificate of the given validity duration. Short-lived certificates
// get a much tighter margin than long-lived ones; the step function
// bounds worst-case renewal latency regardless of duration.
func RenewalMargin(d time.Duration) time.Duration {
	switch {
	case d <= 6*time.Hour:
		return 20 * time.Minute
	case d <= 24*time.Hour:
		return 4 * time.Hour
	case d <= 3*24*time.Hour:
		return 24 * time.Hour
	case d <= 7*24*time.Hour:
		return 2 * 24 * time.Hour
	default:
		return 4 * 24 * time.Hour
	}
}

// Classify buckets a single certificate from its validity bounds and
// revocation state. A revoked certificate is never live regardless of
// its bounds. The renewal boundary is inclusive: a certificate is
// soon-expiring as soon as now >= notAfter - margin.
func Classify(c *models.Certificate, now time.Time) Bucket {
	if c.IsRevoked() {
		return BucketExpired
	}
	if now.Before(c.NotBefore) {
		return BucketSoonValid
	}
	if now.After(c.NotAfter) {
		return BucketExpired
	}
	margin := RenewalMargin(c.Duration())
	if !now.Before(c.NotAfter.Add(-margin)) {
		return BucketSoonExpiring
	}
	return BucketValid
}

// Partition classifies a certificate set into a disjoint four-bucket
// partition for the given instant. It is deterministic and idempotent
// and never mutates the certificates.
func Partition(certs []*models.Certificate, now time.Time) models.CertificateBuckets {
	var buckets models.CertificateBuckets
	for _, c := range certs {
		switch Classify(c, now) {
		case BucketSoonValid:
			buckets.SoonValid = append(buckets.SoonValid, c)
		case BucketValid:
			buckets.Valid = append(buckets.Valid, c)
		case BucketSoonExpiring:
			buckets.SoonExpiring = append(buckets.SoonExpiring, c)
		case BucketExpired:
			buckets.Expired = append(buckets.Expired, c)
		}
	}
	return buckets
}

// ClassifyHostname recomputes the bucket view of the hostname's full
// certificate set. Bucket membership is a view over the set, not
// separate storage.
func ClassifyHostname(h *models.Hostname, now time.Time) {
	h.Buckets = Partition(h.Certificates, now)
}
