// Package scheduler owns the certificate lifecycle loop: it opens the
// datastore, then periodically classifies every hostname's certificates
// and triggers issuance for the ones due for renewal.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Turgon37/OpenVPN-UAM/internal/models"
	"github.com/Turgon37/OpenVPN-UAM/internal/pki"
)

// Store is the datastore surface the scheduler drives.
type Store interface {
	pki.CertificateStore
	Open() error
	Close() error
	GetEnabledUserList() []*models.User
	WaitInterval() time.Duration
}

// Issuer mints a certificate for a hostname.
type Issuer interface {
	Issue(st pki.CertificateStore, user *models.User, host *models.Hostname) (*models.Certificate, error)
}

// Scheduler runs lifecycle passes on a fixed cadence.
type Scheduler struct {
	logger   *slog.Logger
	store    Store
	issuer   Issuer
	interval time.Duration

	// now is replaceable in tests
	now func() time.Time
}

// New creates a scheduler ticking at the given interval.
func New(store Store, issuer Issuer, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		logger:   logger.With(slog.String("component", "scheduler")),
		store:    store,
		issuer:   issuer,
		interval: interval,
		now:      time.Now,
	}
}

// Start opens the datastore, retrying on a constant cadence until it
// succeeds or the context is cancelled, then runs lifecycle passes until
// cancellation. It blocks.
func (s *Scheduler) Start(ctx context.Context) error {
	open := func() error {
		if err := s.store.Open(); err != nil {
			s.logger.Error("unable to access the datastore, waiting to retry",
				slog.String("error", err.Error()),
				slog.Duration("wait", s.store.WaitInterval()),
			)
			return err
		}
		return nil
	}
	policy := backoff.WithContext(backoff.NewConstantBackOff(s.store.WaitInterval()), ctx)
	if err := backoff.Retry(open, policy); err != nil {
		return err
	}
	defer s.store.Close()

	s.logger.Info("lifecycle loop started", slog.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.pass()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("lifecycle loop stopped")
			return nil
		case <-ticker.C:
			s.pass()
		}
	}
}

// pass classifies every enabled hostname of every active user and
// issues a certificate where none is current or upcoming. An issuance
// failure is logged and the pass continues with the next hostname.
func (s *Scheduler) pass() {
	now := s.now()
	for _, user := range s.store.GetEnabledUserList() {
		if !user.IsActive(now) {
			continue
		}
		for _, host := range user.Hostnames {
			if !host.Enabled {
				continue
			}
			pki.ClassifyHostname(host, now)
			if !host.Buckets.NeedsRenewal() {
				continue
			}
			if _, err := s.issuer.Issue(s.store, user, host); err != nil {
				s.logger.Error("certificate issuance failed",
					slog.String("hostname", host.Name),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
