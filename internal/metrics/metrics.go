// Package metrics exposes Prometheus instrumentation for the datastore
// and the certificate issuance pipeline. No listener is owned here; the
// default registry is left for an external scrape endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	refreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "openvpnuam_datastore_refresh_total",
		Help: "Count of cache refresh attempts against the storage adapter",
	}, []string{"result"})

	updatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "openvpnuam_updates_total",
		Help: "Count of pending update delivery outcomes",
	}, []string{"result"})

	certificatesIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "openvpnuam_certificates_issued_total",
		Help: "Count of certificate issuance attempts",
	}, []string{"result"})

	pendingUpdates = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "openvpnuam_pending_updates",
		Help: "Number of updates waiting for delivery to the storage adapter",
	})

	quarantinedUpdates = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "openvpnuam_quarantined_updates",
		Help: "Number of updates abandoned after a semantic failure",
	})

	cachedUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "openvpnuam_cached_users",
		Help: "Number of users in the cached entity graph",
	})
)

// ObserveRefresh records the outcome of a cache refresh attempt.
func ObserveRefresh(result string) {
	refreshTotal.WithLabelValues(result).Inc()
}

// ObserveUpdate records the outcome of a pending update delivery.
func ObserveUpdate(result string) {
	updatesTotal.WithLabelValues(result).Inc()
}

// ObserveIssuance records the outcome of a certificate issuance.
func ObserveIssuance(result string) {
	certificatesIssued.WithLabelValues(result).Inc()
}

// SetQueueDepth updates the pending queue depth gauge.
func SetQueueDepth(n int) {
	pendingUpdates.Set(float64(n))
}

// SetQuarantineSize updates the quarantine size gauge.
func SetQuarantineSize(n int) {
	quarantinedUpdates.Set(float64(n))
}

// SetCachedUsers updates the cached user count gauge.
func SetCachedUsers(n int) {
	cachedUsers.Set(float64(n))
}
