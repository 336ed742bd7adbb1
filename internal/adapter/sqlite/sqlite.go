// Package sqlite provides the SQLite storage adapter. It keeps the full
// user/hostname/certificate graph in a single database file and applies
// queued single-field updates with an affected-row assertion.
package sqlite

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/time/rate"

	"github.com/Turgon37/OpenVPN-UAM/internal/adapter"
	"github.com/Turgon37/OpenVPN-UAM/internal/models"
)

// Name is the registered adapter name. The configuration section holding
// the adapter settings must use the same name.
const Name = "sqlite"

const defaultConnectionWait = 30 * time.Second

func init() {
	adapter.Register(Name, func(logger *slog.Logger) adapter.Adapter {
		return New(logger)
	})
}

// updateTarget maps an entity kind to its table and the set of columns
// an update may touch. Fields outside the whitelist are rejected as
// semantic failures.
type updateTarget struct {
	table   string
	columns map[string]bool
}

var updateTargets = map[models.EntityKind]updateTarget{
	models.EntityUser: {
		table: "users",
		columns: map[string]bool{
			"mail":                 true,
			"certificate_mail":     true,
			"certificate_password": true,
			"is_enable":            true,
			"start_time":           true,
			"stop_time":            true,
		},
	},
	models.EntityHostname: {
		table: "hostnames",
		columns: map[string]bool{
			"name":        true,
			"is_enable":   true,
			"is_online":   true,
			"period_days": true,
		},
	},
	models.EntityCertificate: {
		table: "user_certificates",
		columns: map[string]bool{
			"is_password":    true,
			"revoked_reason": true,
			"revoked_time":   true,
		},
	},
}

// Connector is the SQLite implementation of the Adapter capability.
// It is not safe for concurrent use; the datastore serializes all calls.
type Connector struct {
	logger *slog.Logger
	db     *sql.DB
	path   string

	// limiter throttles connection attempts so a broken database file or
	// an unreachable network mount is not hammered on every poll.
	limiter *rate.Limiter
}

// New creates an unloaded SQLite adapter.
func New(logger *slog.Logger) *Connector {
	return &Connector{
		logger:  logger.With(slog.String("adapter", Name)),
		limiter: rate.NewLimiter(rate.Every(defaultConnectionWait), 1),
	}
}

// Name returns the registered adapter name.
func (c *Connector) Name() string {
	return Name
}

// Load validates the adapter settings. Required: "path". Optional:
// "connection_wait_time" in seconds.
func (c *Connector) Load(config map[string]string) error {
	path, ok := config["path"]
	if !ok || path == "" {
		return fmt.Errorf("sqlite: option %q is required", "path")
	}
	c.path = path

	if raw, ok := config["connection_wait_time"]; ok {
		secs, err := strconv.ParseFloat(raw, 64)
		if err != nil || secs <= 0 {
			return fmt.Errorf("sqlite: invalid format for %q option: %q", "connection_wait_time", raw)
		}
		wait := time.Duration(secs * float64(time.Second))
		c.limiter = rate.NewLimiter(rate.Every(wait), 1)
	}
	return nil
}

// Open connects to the database file, applying the schema on first use.
// It is idempotent and throttles reconnection attempts.
func (c *Connector) Open() error {
	if c.db != nil {
		if err := c.db.Ping(); err == nil {
			return nil
		}
		// connection went bad, drop it and fall through to reconnect
		c.db.Close()
		c.db = nil
	}

	if !c.limiter.Allow() {
		return adapter.ErrThrottled
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=ON", c.path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return fmt.Errorf("sqlite: failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return fmt.Errorf("sqlite: failed to ping database: %w", err)
	}

	// SQLite works best with a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := ensureSchema(db); err != nil {
		db.Close()
		return fmt.Errorf("sqlite: %w", err)
	}

	c.db = db
	c.logger.Debug("database opened", slog.String("path", c.path))
	return nil
}

// Close closes the database connection.
func (c *Connector) Close() error {
	if c.db == nil {
		return fmt.Errorf("sqlite: database is not open")
	}
	err := c.db.Close()
	c.db = nil
	return err
}

// FetchUserList retrieves every user with its hostnames and their
// not-yet-expired certificates. Any query failure fails the whole fetch
// so the caller never observes a partial graph.
func (c *Connector) FetchUserList() ([]*models.User, error) {
	if c.db == nil {
		return nil, fmt.Errorf("sqlite: database is not open")
	}

	rows, err := c.db.Query(`
		SELECT id, cuid, mail, certificate_mail, certificate_password,
		       is_enable, start_time, stop_time, created_at, updated_at
		FROM users
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query users: %w", err)
	}
	defer rows.Close()

	users := []*models.User{}
	for rows.Next() {
		user := &models.User{}
		var certMail, certPassword sql.NullString
		var startTime, stopTime sql.NullTime

		err := rows.Scan(
			&user.ID,
			&user.CUID,
			&user.Mail,
			&certMail,
			&certPassword,
			&user.Enabled,
			&startTime,
			&stopTime,
			&user.CreatedAt,
			&user.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan user: %w", err)
		}

		user.CertificateMail = certMail.String
		user.CertificatePassword = certPassword.String
		if startTime.Valid {
			t := startTime.Time
			user.StartTime = &t
		}
		if stopTime.Valid {
			t := stopTime.Time
			user.StopTime = &t
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: failed to iterate users: %w", err)
	}

	for _, user := range users {
		hostnames, err := c.fetchHostnames(user.ID)
		if err != nil {
			return nil, err
		}
		user.Hostnames = hostnames
	}

	return users, nil
}

// fetchHostnames returns the hostnames of a user with their certificates.
func (c *Connector) fetchHostnames(userID int64) ([]*models.Hostname, error) {
	rows, err := c.db.Query(`
		SELECT id, user_id, name, is_enable, is_online, period_days,
		       created_at, updated_at
		FROM hostnames
		WHERE user_id = ?
		ORDER BY id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query hostnames: %w", err)
	}
	defer rows.Close()

	hostnames := []*models.Hostname{}
	for rows.Next() {
		host := &models.Hostname{}
		err := rows.Scan(
			&host.ID,
			&host.UserID,
			&host.Name,
			&host.Enabled,
			&host.Online,
			&host.PeriodDays,
			&host.CreatedAt,
			&host.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan hostname: %w", err)
		}
		hostnames = append(hostnames, host)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: failed to iterate hostnames: %w", err)
	}

	for _, host := range hostnames {
		certs, err := c.fetchCertificates(host.ID)
		if err != nil {
			return nil, err
		}
		host.Certificates = certs
	}

	return hostnames, nil
}

// fetchCertificates returns the not-yet-expired certificates of a
// hostname. Expired rows stay in the table for external garbage
// collection but are never loaded.
func (c *Connector) fetchCertificates(hostnameID int64) ([]*models.Certificate, error) {
	rows, err := c.db.Query(`
		SELECT id, hostname_id, certificate_begin_time, certificate_end_time,
		       is_password, revoked_reason, revoked_time
		FROM user_certificates
		WHERE hostname_id = ? AND certificate_end_time > ?
		ORDER BY id
	`, hostnameID, time.Now())
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query certificates: %w", err)
	}
	defer rows.Close()

	certs := []*models.Certificate{}
	for rows.Next() {
		cert := &models.Certificate{}
		var reason sql.NullString
		var revokedTime sql.NullTime

		err := rows.Scan(
			&cert.ID,
			&cert.HostnameID,
			&cert.NotBefore,
			&cert.NotAfter,
			&cert.IsPassword,
			&reason,
			&revokedTime,
		)
		if err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan certificate: %w", err)
		}

		cert.RevokedReason = reason.String
		if revokedTime.Valid {
			t := revokedTime.Time
			cert.RevokedTime = &t
		}
		certs = append(certs, cert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: failed to iterate certificates: %w", err)
	}

	return certs, nil
}

// InsertCertificate persists a new certificate row and assigns its
// identity. The identity becomes the serial number of the signed
// artifact, so it must exist before signing.
func (c *Connector) InsertCertificate(hostnameID int64, cert *models.Certificate) error {
	if c.db == nil {
		return fmt.Errorf("sqlite: database is not open")
	}

	result, err := c.db.Exec(`
		INSERT INTO user_certificates (
			hostname_id, certificate_begin_time, certificate_end_time, is_password
		)
		VALUES (?, ?, ?, ?)
	`, hostnameID, cert.NotBefore, cert.NotAfter, cert.IsPassword)
	if err != nil {
		return fmt.Errorf("sqlite: failed to insert certificate: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite: failed to get last insert id: %w", err)
	}

	cert.HostnameID = hostnameID
	cert.SetID(id)
	return nil
}

// ProcessUpdate applies a queued single-field mutation. A transient I/O
// problem returns false with the update untouched so it is retried
// later; an unknown target/field or an affected-row mismatch marks the
// update failed so the caller quarantines it.
func (c *Connector) ProcessUpdate(up *models.PendingUpdate) bool {
	target, ok := updateTargets[up.Kind]
	if !ok {
		up.Fail(fmt.Sprintf("not implemented update target %q", up.Kind))
		return false
	}
	if !target.columns[up.Field] {
		up.Fail(fmt.Sprintf("unknown field %q for target %q", up.Field, up.Kind))
		return false
	}

	if c.db == nil {
		if err := c.Open(); err != nil {
			c.logger.Debug("unable to open connection for update", slog.String("error", err.Error()))
			return false
		}
	}

	query := fmt.Sprintf("UPDATE %s SET %s = ? WHERE id = ?", target.table, up.Field)
	result, err := c.db.Exec(query, up.Value, up.TargetID)
	if err != nil {
		c.logger.Error("update query failed",
			slog.String("table", target.table),
			slog.String("field", up.Field),
			slog.String("error", err.Error()),
		)
		return false
	}

	affected, err := result.RowsAffected()
	if err != nil {
		c.logger.Error("failed to read affected rows", slog.String("error", err.Error()))
		return false
	}
	if up.Expected != models.NoChangeConstraint && affected != up.Expected {
		up.Fail(fmt.Sprintf("affected %d rows, expected %d", affected, up.Expected))
		return false
	}

	return true
}
