package adapter

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Turgon37/OpenVPN-UAM/internal/models"
)

type stubAdapter struct {
	name   string
	logger *slog.Logger
}

func (s *stubAdapter) Name() string                        { return s.name }
func (s *stubAdapter) Load(config map[string]string) error { return nil }
func (s *stubAdapter) Open() error                         { return nil }
func (s *stubAdapter) Close() error                        { return nil }
func (s *stubAdapter) FetchUserList() ([]*models.User, error) {
	return nil, nil
}
func (s *stubAdapter) InsertCertificate(hostnameID int64, cert *models.Certificate) error {
	return nil
}
func (s *stubAdapter) ProcessUpdate(up *models.PendingUpdate) bool { return true }

func stubFactory(name string) Factory {
	return func(logger *slog.Logger) Adapter {
		return &stubAdapter{name: name, logger: logger}
	}
}

func TestRegisterAndNew(t *testing.T) {
	Register("stub-a", stubFactory("stub-a"))

	ad, err := New("stub-a", slog.Default())
	require.NoError(t, err)
	assert.Equal(t, "stub-a", ad.Name())
}

func TestNewUnknownAdapter(t *testing.T) {
	_, err := New("does-not-exist", slog.Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown adapter")
}

func TestRegisterDuplicatePanics(t *testing.T) {
	Register("stub-b", stubFactory("stub-b"))
	assert.Panics(t, func() {
		Register("stub-b", stubFactory("stub-b"))
	})
}

func TestRegisterNameMismatchPanics(t *testing.T) {
	assert.Panics(t, func() {
		Register("stub-c", stubFactory("not-stub-c"))
	})
}

func TestNamesAreSorted(t *testing.T) {
	Register("stub-z", stubFactory("stub-z"))
	Register("stub-d", stubFactory("stub-d"))

	names := Names()
	assert.Contains(t, names, "stub-d")
	assert.Contains(t, names, "stub-z")
	assert.IsIncreasing(t, names)
}
