// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// modernc.org/sqlite is a pure Go translation of SQLite, so no C compiler is
// needed. Use ":memory:" for throwaway databases in tests.
//
// CONCURRENCY:
// The pool is capped at one connection. SQLite allows a single writer anyway,
// and with one connection every statement and transaction runs serialized,
// which is what makes the code-store compare-and-set operations atomic. It
// also keeps ":memory:" databases alive across calls (each new connection to
// ":memory:" would otherwise see an empty database).
//
// TIMESTAMPS:
// Times are stored as INTEGER Unix milliseconds and read back in UTC.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// DB wraps a sql.DB connection pool and provides repository methods.
type DB struct {
	conn *sql.DB
}

// New creates a new SQLite database connection and runs migrations.
//
// dbPath examples:
//   - "data/chat.db" → file-based database (persistent)
//   - ":memory:"     → in-memory database (tests)
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets readers proceed while a write is in progress.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	// SQLite ships with foreign keys off; ON DELETE CASCADE needs them.
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}

	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting busy timeout: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates all tables and indexes. Every statement is idempotent
// (IF NOT EXISTS), so it runs on every start.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			username      TEXT    NOT NULL UNIQUE,
			email         TEXT    NOT NULL UNIQUE COLLATE NOCASE,
			password_hash TEXT    NOT NULL,
			flags         INTEGER NOT NULL DEFAULT 0,
			created_at    INTEGER NOT NULL,
			deletion_at   INTEGER
		);
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	// display_name was added after the first schema shipped.
	if err := db.addColumnIfNotExists("users", "display_name",
		"TEXT NOT NULL DEFAULT ''"); err != nil {
		return fmt.Errorf("adding display_name to users: %w", err)
	}

	// One slot per (user, purpose): the UNIQUE constraint is what lets
	// ReplaceCode supersede and RestoreCode refuse.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS verification_codes (
			id         TEXT    PRIMARY KEY,
			user_id    INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			purpose    TEXT    NOT NULL,
			value      TEXT    NOT NULL,
			issued_at  INTEGER NOT NULL,
			expires_at INTEGER NOT NULL,
			sent_at    INTEGER NOT NULL,
			attempts   INTEGER NOT NULL DEFAULT 0,
			UNIQUE (user_id, purpose)
		);
		CREATE INDEX IF NOT EXISTS idx_verification_codes_expires_at ON verification_codes(expires_at);
	`)
	if err != nil {
		return fmt.Errorf("creating verification_codes table: %w", err)
	}

	// attempts was added after the first schema shipped.
	if err := db.addColumnIfNotExists("verification_codes", "attempts",
		"INTEGER NOT NULL DEFAULT 0"); err != nil {
		return fmt.Errorf("adding attempts to verification_codes: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS channels (
			id           TEXT    PRIMARY KEY,
			name         TEXT    NOT NULL UNIQUE,
			display_name TEXT    NOT NULL DEFAULT '',
			type         INTEGER NOT NULL,
			owner_id     INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			created_at   INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS members (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			channel_id  TEXT    NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
			user_id     INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			permissions INTEGER NOT NULL DEFAULT 0,
			joined_at   INTEGER NOT NULL,
			UNIQUE (channel_id, user_id)
		);
		CREATE INDEX IF NOT EXISTS idx_members_user_id ON members(user_id);
	`)
	if err != nil {
		return fmt.Errorf("creating channel tables: %w", err)
	}

	return nil
}

// addColumnIfNotExists adds a column to a table only if it doesn't already exist.
//
// SQLite does not support "ALTER TABLE ADD COLUMN IF NOT EXISTS", so we query
// pragma_table_info first.
func (db *DB) addColumnIfNotExists(table, column, definition string) error {
	var count int
	err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`,
		table, column,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking column %s.%s: %w", table, column, err)
	}
	if count > 0 {
		return nil // column already exists
	}
	_, err = db.conn.Exec(fmt.Sprintf(
		`ALTER TABLE %s ADD COLUMN %s %s`, table, column, definition,
	))
	return err
}

// isUniqueViolation reports whether err came from a UNIQUE or PRIMARY KEY
// constraint.
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
