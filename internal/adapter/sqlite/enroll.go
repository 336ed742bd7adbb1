package sqlite

import (
	"fmt"

	"github.com/Turgon37/OpenVPN-UAM/internal/models"
)

// Enrollment operations used by the administration tool. They are
// specific to the SQLite adapter and not part of the Adapter capability;
// the daemon itself only ever reads the graph and applies field updates.

// InsertUser persists a new user row and assigns its identity.
func (c *Connector) InsertUser(user *models.User) error {
	if c.db == nil {
		return fmt.Errorf("sqlite: database is not open")
	}

	result, err := c.db.Exec(`
		INSERT INTO users (cuid, mail, certificate_mail, certificate_password, is_enable)
		VALUES (?, ?, NULLIF(?, ''), NULLIF(?, ''), ?)
	`, user.CUID, user.Mail, user.CertificateMail, user.CertificatePassword, user.Enabled)
	if err != nil {
		return fmt.Errorf("sqlite: failed to insert user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite: failed to get last insert id: %w", err)
	}
	user.ID = id
	return nil
}

// InsertHostname persists a new hostname row for a user and assigns its
// identity.
func (c *Connector) InsertHostname(userID int64, host *models.Hostname) error {
	if c.db == nil {
		return fmt.Errorf("sqlite: database is not open")
	}

	result, err := c.db.Exec(`
		INSERT INTO hostnames (user_id, name, is_enable, period_days)
		VALUES (?, ?, ?, ?)
	`, userID, host.Name, host.Enabled, host.PeriodDays)
	if err != nil {
		return fmt.Errorf("sqlite: failed to insert hostname: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite: failed to get last insert id: %w", err)
	}
	host.ID = id
	host.UserID = userID
	return nil
}
