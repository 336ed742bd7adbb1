package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Turgon37/OpenVPN-UAM/internal/models"
	"github.com/Turgon37/OpenVPN-UAM/internal/pki"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeStore struct {
	users []*models.User

	openErrs  int
	openCalls int
	closed    bool
	wait      time.Duration
}

func (f *fakeStore) Update(kind models.EntityKind, targetID int64, field string, value any, expected int64) {
}

func (f *fakeStore) AddCertificate(host *models.Hostname, cert *models.Certificate) error {
	return nil
}

func (f *fakeStore) Open() error {
	f.openCalls++
	if f.openCalls <= f.openErrs {
		return errors.New("connection refused")
	}
	return nil
}

func (f *fakeStore) Close() error {
	f.closed = true
	return nil
}

func (f *fakeStore) GetEnabledUserList() []*models.User {
	return f.users
}

func (f *fakeStore) WaitInterval() time.Duration {
	if f.wait == 0 {
		return time.Millisecond
	}
	return f.wait
}

type issued struct {
	user *models.User
	host *models.Hostname
}

type fakeIssuer struct {
	issued  []issued
	failFor string
}

func (f *fakeIssuer) Issue(st pki.CertificateStore, user *models.User, host *models.Hostname) (*models.Certificate, error) {
	if host.Name == f.failFor {
		return nil, errors.New("signing failed")
	}
	f.issued = append(f.issued, issued{user: user, host: host})
	cert := models.NewCertificate(time.Now(), time.Now().AddDate(0, 0, host.PeriodDays))
	cert.SetID(int64(len(f.issued)))
	host.Certificates = append(host.Certificates, cert)
	return cert, nil
}

func TestPassIssuesWhereNoCurrentCertificate(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

	bare := &models.Hostname{ID: 1, Name: "bare", Enabled: true, PeriodDays: 30}
	covered := &models.Hostname{ID: 2, Name: "covered", Enabled: true, PeriodDays: 30,
		Certificates: []*models.Certificate{
			{NotBefore: now.AddDate(0, 0, -5), NotAfter: now.AddDate(0, 0, 25)},
		},
	}
	expiring := &models.Hostname{ID: 3, Name: "expiring", Enabled: true, PeriodDays: 30,
		Certificates: []*models.Certificate{
			{NotBefore: now.AddDate(0, 0, -29), NotAfter: now.AddDate(0, 0, 1)},
		},
	}
	disabled := &models.Hostname{ID: 4, Name: "disabled", Enabled: false, PeriodDays: 30}

	store := &fakeStore{users: []*models.User{
		{ID: 1, Enabled: true, Hostnames: []*models.Hostname{bare, covered, expiring, disabled}},
	}}
	iss := &fakeIssuer{}

	s := New(store, iss, time.Hour, testLogger())
	s.now = func() time.Time { return now }
	s.pass()

	require.Len(t, iss.issued, 2)
	assert.Equal(t, "bare", iss.issued[0].host.Name)
	assert.Equal(t, "expiring", iss.issued[1].host.Name)
}

func TestPassSkipsInactiveUsers(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)

	store := &fakeStore{users: []*models.User{
		{ID: 1, Enabled: true, StartTime: &future,
			Hostnames: []*models.Hostname{{ID: 1, Name: "h", Enabled: true, PeriodDays: 30}}},
	}}
	iss := &fakeIssuer{}

	s := New(store, iss, time.Hour, testLogger())
	s.now = func() time.Time { return now }
	s.pass()

	assert.Empty(t, iss.issued, "user outside its validity window")
}

func TestPassContinuesAfterIssuanceFailure(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

	store := &fakeStore{users: []*models.User{
		{ID: 1, Enabled: true, Hostnames: []*models.Hostname{
			{ID: 1, Name: "broken", Enabled: true, PeriodDays: 30},
			{ID: 2, Name: "fine", Enabled: true, PeriodDays: 30},
		}},
	}}
	iss := &fakeIssuer{failFor: "broken"}

	s := New(store, iss, time.Hour, testLogger())
	s.now = func() time.Time { return now }
	s.pass()

	require.Len(t, iss.issued, 1)
	assert.Equal(t, "fine", iss.issued[0].host.Name)
}

func TestPassDoesNotReissueWithinOnePass(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

	host := &models.Hostname{ID: 1, Name: "h", Enabled: true, PeriodDays: 30}
	store := &fakeStore{users: []*models.User{
		{ID: 1, Enabled: true, Hostnames: []*models.Hostname{host}},
	}}
	iss := &fakeIssuer{}

	s := New(store, iss, time.Hour, testLogger())
	s.now = func() time.Time { return now }

	s.pass()
	require.Len(t, iss.issued, 1)

	// the issued certificate now covers the hostname
	s.pass()
	assert.Len(t, iss.issued, 1)
}

func TestStartRetriesOpenUntilSuccess(t *testing.T) {
	store := &fakeStore{openErrs: 2, wait: time.Millisecond}
	iss := &fakeIssuer{}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	s := New(store, iss, time.Hour, testLogger())
	err := s.Start(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, store.openCalls)
	assert.True(t, store.closed, "store is closed on shutdown")
}

func TestStartReturnsWhenCancelledWhileOpening(t *testing.T) {
	store := &fakeStore{openErrs: 1 << 30, wait: time.Millisecond}
	iss := &fakeIssuer{}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	s := New(store, iss, time.Hour, testLogger())
	err := s.Start(ctx)
	require.Error(t, err)
	assert.False(t, store.closed)
	assert.Empty(t, iss.issued)
}

func TestStartRunsPeriodicPasses(t *testing.T) {
	host := &models.Hostname{ID: 1, Name: "h", Enabled: true, PeriodDays: 30}
	store := &fakeStore{users: []*models.User{
		{ID: 1, Enabled: true, Hostnames: []*models.Hostname{host}},
	}}
	iss := &fakeIssuer{}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	s := New(store, iss, 10*time.Millisecond, testLogger())
	err := s.Start(ctx)
	require.NoError(t, err)

	// the first pass issues, later passes see the fresh certificate
	require.Len(t, iss.issued, 1)
	assert.True(t, store.closed)
}
