// Package adapter defines the capability boundary between the datastore
// and the actual remote storage technology. Concrete adapters register
// themselves by name; the datastore instantiates the one named in the
// configuration.
package adapter

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/Turgon37/OpenVPN-UAM/internal/models"
)

// ErrThrottled is returned by Open when a connection attempt is refused
// because the previous one happened too recently.
var ErrThrottled = errors.New("adapter: connection attempt throttled")

// Adapter speaks to the remote storage holding users, hostnames and
// certificates. Implementations are not assumed safe for concurrent use;
// the datastore serializes every call.
type Adapter interface {
	// Name returns the registered name of the adapter. The configuration
	// section carrying its settings must use the same name.
	Name() string

	// Load validates and stores the adapter settings. It is called once,
	// before Open, and never retried on error.
	Load(config map[string]string) error

	// Open establishes the connection to the remote store. It is safe to
	// call repeatedly and must internally rate-limit reconnection
	// attempts, returning ErrThrottled when an attempt is refused.
	Open() error

	// Close tears down the connection.
	Close() error

	// FetchUserList retrieves the full user/hostname/certificate graph.
	// A transient I/O problem yields a non-nil error, distinguishing it
	// from an empty store.
	FetchUserList() ([]*models.User, error)

	// InsertCertificate persists a new certificate row for the hostname
	// and assigns its identity before returning.
	InsertCertificate(hostnameID int64, cert *models.Certificate) error

	// ProcessUpdate applies a single-field mutation. It returns false on
	// failure; the update's Failed flag then distinguishes a semantic
	// rejection (never retry) from a transient problem (retry later).
	ProcessUpdate(up *models.PendingUpdate) bool
}

// Factory produces a fresh, unloaded adapter instance using the given
// logger.
type Factory func(logger *slog.Logger) Adapter

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes an adapter available under the given name. The factory
// product must report the same name; a mismatch or duplicate
// registration is a programming error.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("adapter: %q registered twice", name))
	}
	if got := factory(slog.Default()).Name(); got != name {
		panic(fmt.Sprintf("adapter: factory for %q produces adapter named %q", name, got))
	}
	registry[name] = factory
}

// New instantiates the adapter registered under name.
func New(name string, logger *slog.Logger) (Adapter, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("adapter: unknown adapter %q (registered: %v)", name, Names())
	}
	return factory(logger), nil
}

// Names returns the sorted list of registered adapter names.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
