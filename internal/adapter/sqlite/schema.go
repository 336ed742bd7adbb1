package sqlite

import (
	"database/sql"
	"fmt"
)

const schemaVersionTable = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL,
	applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

const usersTable = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	cuid TEXT NOT NULL UNIQUE,
	mail TEXT NOT NULL,
	certificate_mail TEXT,
	certificate_password TEXT,
	is_enable BOOLEAN NOT NULL DEFAULT 1,
	start_time TIMESTAMP,
	stop_time TIMESTAMP,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

const hostnamesTable = `
CREATE TABLE IF NOT EXISTS hostnames (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL REFERENCES users(id),
	name TEXT NOT NULL,
	is_enable BOOLEAN NOT NULL DEFAULT 1,
	is_online BOOLEAN NOT NULL DEFAULT 0,
	period_days INTEGER NOT NULL DEFAULT 365,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

const hostnamesIndexes = `
CREATE INDEX IF NOT EXISTS idx_hostnames_user_id ON hostnames(user_id)`

const certificatesTable = `
CREATE TABLE IF NOT EXISTS user_certificates (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	hostname_id INTEGER NOT NULL REFERENCES hostnames(id),
	certificate_begin_time TIMESTAMP NOT NULL,
	certificate_end_time TIMESTAMP NOT NULL,
	is_password BOOLEAN NOT NULL DEFAULT 0,
	revoked_reason TEXT,
	revoked_time TIMESTAMP
)`

const certificatesIndexes = `
CREATE INDEX IF NOT EXISTS idx_user_certificates_hostname_id
	ON user_certificates(hostname_id)`

// ensureSchema creates all tables of a new database and records the
// schema version. Every statement is idempotent so re-opening an
// existing database is a no-op.
func ensureSchema(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	statements := []string{
		schemaVersionTable,
		usersTable,
		hostnamesTable,
		hostnamesIndexes,
		certificatesTable,
		certificatesIndexes,
	}
	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	var count int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM schema_version`).Scan(&count); err != nil {
		return fmt.Errorf("failed to check schema version: %w", err)
	}
	if count == 0 {
		if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (1)`); err != nil {
			return fmt.Errorf("failed to record schema version: %w", err)
		}
	}

	return tx.Commit()
}
