// Package datastore provides the cached facade in front of the storage
// adapter. All reads and writes of the entity graph go through it: reads
// are served from a local cache refreshed on a poll interval, writes are
// queued and delivered to the adapter with retry and quarantine
// semantics, so the rest of the program keeps working while the remote
// store is unreachable.
package datastore

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Turgon37/OpenVPN-UAM/internal/adapter"
	"github.com/Turgon37/OpenVPN-UAM/internal/config"
	"github.com/Turgon37/OpenVPN-UAM/internal/metrics"
	"github.com/Turgon37/OpenVPN-UAM/internal/models"
)

// Status is the lifecycle state of a DataStore.
type Status int

const (
	StatusUnloaded Status = iota
	StatusClosed
	StatusOpen
)

func (s Status) String() string {
	switch s {
	case StatusUnloaded:
		return "unloaded"
	case StatusClosed:
		return "closed"
	case StatusOpen:
		return "open"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// DataStore owns the cached entity graph, the storage adapter and the
// update queue. A single mutex serializes cache mutation, queue draining
// and adapter calls; entities handed out to callers are read-mostly
// views that funnel writes back through Update.
type DataStore struct {
	logger *slog.Logger

	mu      sync.Mutex
	status  Status
	adapter adapter.Adapter
	queue   *updateQueue

	users       []*models.User
	lastRefresh time.Time

	pollInterval time.Duration
	waitInterval time.Duration

	// now is replaceable in tests
	now func() time.Time
}

// New creates an unloaded datastore.
func New(logger *slog.Logger) *DataStore {
	return &DataStore{
		logger: logger.With(slog.String("component", "datastore")),
		status: StatusUnloaded,
		now:    time.Now,
	}
}

// requireStatus panics when the store is not in the expected state.
// State violations are programming errors, not recoverable failures.
func (d *DataStore) requireStatus(want Status, op string) {
	if d.status != want {
		panic(fmt.Sprintf("datastore: %s requires status %s, store is %s", op, want, d.status))
	}
}

// Load validates the datastore configuration and instantiates the
// configured adapter. It fails closed on an unknown adapter name or an
// invalid adapter section and is never retried.
func (d *DataStore) Load(cfg *config.Config) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requireStatus(StatusUnloaded, "Load")

	if cfg.PollInterval() <= 0 {
		return fmt.Errorf("datastore: invalid poll interval")
	}
	if cfg.WaitInterval() <= 0 {
		return fmt.Errorf("datastore: invalid wait interval")
	}

	ad, err := adapter.New(cfg.Database.Adapter, d.logger)
	if err != nil {
		return fmt.Errorf("datastore: %w", err)
	}
	section := cfg.AdapterSection()
	if section == nil {
		return fmt.Errorf("datastore: configuration requires a section named %q", ad.Name())
	}
	if err := ad.Load(section); err != nil {
		return fmt.Errorf("datastore: adapter %q failed to load: %w", ad.Name(), err)
	}

	d.adapter = ad
	d.pollInterval = cfg.PollInterval()
	d.waitInterval = cfg.WaitInterval()
	d.queue = newUpdateQueue(d.waitInterval)
	d.status = StatusClosed
	d.logger.Debug("datastore loaded", slog.String("adapter", ad.Name()))
	return nil
}

// Open opens the adapter connection. A failure leaves the store closed;
// the caller retries on its own cadence, reconnection attempts are
// throttled inside the adapter.
func (d *DataStore) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requireStatus(StatusClosed, "Open")

	if err := d.adapter.Open(); err != nil {
		return err
	}
	d.status = StatusOpen
	d.logger.Debug("datastore opened", slog.String("adapter", d.adapter.Name()))
	return nil
}

// Close closes the adapter connection.
func (d *DataStore) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requireStatus(StatusOpen, "Close")

	if err := d.adapter.Close(); err != nil {
		return err
	}
	d.status = StatusClosed
	return nil
}

// Status returns the current lifecycle state.
func (d *DataStore) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// WaitInterval returns the configured retry cooldown.
func (d *DataStore) WaitInterval() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.waitInterval
}

// GetUserList returns the cached user list after running background
// maintenance: the update queue is drained first, then the cache is
// refreshed from the adapter when the queue is empty and the poll
// interval has elapsed since the last successful refresh. A failed
// refresh is logged and the stale cache is served; the cache is never
// invalidated by a failure.
func (d *DataStore) GetUserList() []*models.User {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requireStatus(StatusOpen, "GetUserList")

	d.maintain()
	return d.users
}

// GetEnabledUserList returns the cached users that are enabled.
func (d *DataStore) GetEnabledUserList() []*models.User {
	return filterUsers(d.GetUserList(), true)
}

// GetDisabledUserList returns the cached users that are disabled.
func (d *DataStore) GetDisabledUserList() []*models.User {
	return filterUsers(d.GetUserList(), false)
}

func filterUsers(users []*models.User, enabled bool) []*models.User {
	filtered := []*models.User{}
	for _, u := range users {
		if u.Enabled == enabled {
			filtered = append(filtered, u)
		}
	}
	return filtered
}

// Update enqueues a single-field mutation for the target entity and
// immediately attempts one drain pass, so the caller's own write is
// visible to its next read under normal operation.
func (d *DataStore) Update(kind models.EntityKind, targetID int64, field string, value any, expected int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requireStatus(StatusOpen, "Update")

	d.queue.push(models.NewPendingUpdate(kind, targetID, field, value, expected))
	d.queue.drain(d.adapter, d.now(), d.logger)
}

// AddCertificate persists a new certificate for the hostname through the
// adapter, synchronously, so the assigned identity is available to the
// caller. On success the cached graph is extended with the new entity.
func (d *DataStore) AddCertificate(host *models.Hostname, cert *models.Certificate) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requireStatus(StatusOpen, "AddCertificate")

	if err := d.adapter.InsertCertificate(host.ID, cert); err != nil {
		return err
	}
	host.Certificates = append(host.Certificates, cert)
	return nil
}

// Quarantine returns the updates abandoned after a semantic failure.
func (d *DataStore) Quarantine() []*models.PendingUpdate {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*models.PendingUpdate{}, d.queue.quarantine...)
}

// PendingCount returns the current depth of the live queue.
func (d *DataStore) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue.pending)
}

// maintain runs the method-entry maintenance of read operations: drain
// before refresh, strictly ordered, so a refresh never overwrites state
// with updates still in flight. Callers must hold the lock.
func (d *DataStore) maintain() {
	now := d.now()
	d.queue.drain(d.adapter, now, d.logger)

	if !d.queue.empty() {
		return
	}
	if now.Sub(d.lastRefresh) < d.pollInterval {
		return
	}

	users, err := d.adapter.FetchUserList()
	if err != nil {
		// serve the stale cache, never invalidate on failure
		d.logger.Error("cache refresh failed, serving stale data",
			slog.String("error", err.Error()),
			slog.Time("last_refresh", d.lastRefresh),
		)
		metrics.ObserveRefresh("failure")
		return
	}

	d.users = users
	d.lastRefresh = now
	metrics.ObserveRefresh("success")
	metrics.SetCachedUsers(len(users))
	d.logger.Debug("cache refreshed", slog.Int("users", len(users)))
}
