// Package sqlite implements the repository interfaces and the durable
// key/value store using SQLite as the storage backend.
//
// One file serves two roles depending on who opens it:
//   - the identity API keeps its accounts and revoked_tokens tables here
//   - a client keeps its "remember me" store (the kv table) here, shared by
//     every tab that opens the same file
//
// WHY modernc.org/sqlite INSTEAD OF github.com/mattn/go-sqlite3?
// mattn/go-sqlite3 uses CGo, which means you need a C compiler installed and
// cross-compilation becomes painful. modernc.org/sqlite is a pure Go
// translation of the SQLite C code.
package sqlite

import (
	"database/sql"
	"fmt"

	// Registers the "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection pool and provides repository methods.
type DB struct {
	conn *sql.DB
}

// New opens the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/identity.db" → file-based database (persistent)
//   - ":memory:"         → in-memory database (tests)
//
// An in-memory database is private to a single connection, so the pool is
// capped at one connection; otherwise each pooled connection would see its
// own empty database.
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	if dbPath == ":memory:" {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// dsn adds the connection pragmas to dbPath. The driver runs them on every
// connection it opens, not just the first one in the pool.
//
//   - journal_mode(WAL) lets the tabs of one profile read the kv table
//     while another tab is writing to it
//   - busy_timeout(5000) makes a connection wait for a lock held by another
//     process instead of failing with SQLITE_BUSY
func dsn(dbPath string) string {
	return "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate runs all database migrations.
//
// CREATE TABLE IF NOT EXISTS is safe to run on every start. Columns added
// after the first release go through addColumnIfNotExists.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating kv table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS accounts (
			id            TEXT PRIMARY KEY,
			email         TEXT NOT NULL UNIQUE,
			full_name     TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL,
			role          TEXT NOT NULL DEFAULT 'student',
			is_admin      INTEGER NOT NULL DEFAULT 0,
			created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating accounts table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS revoked_tokens (
			token_id   TEXT PRIMARY KEY,
			expires_at DATETIME NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("creating revoked_tokens table: %w", err)
	}

	_, err = db.conn.Exec(`CREATE INDEX IF NOT EXISTS idx_revoked_tokens_expires_at ON revoked_tokens(expires_at)`)
	if err != nil {
		return fmt.Errorf("creating revoked_tokens index: %w", err)
	}

	// Subscription columns: NULL title means "no subscription".
	subscriptionColumns := []struct{ name, definition string }{
		{"subscription_title", "TEXT"},
		{"subscription_start", "DATETIME"},
		{"subscription_expiry", "DATETIME"},
		{"subscription_active", "INTEGER NOT NULL DEFAULT 0"},
	}
	for _, c := range subscriptionColumns {
		if err := db.addColumnIfNotExists("accounts", c.name, c.definition); err != nil {
			return fmt.Errorf("adding %s to accounts: %w", c.name, err)
		}
	}

	return nil
}

// addColumnIfNotExists runs ALTER TABLE ADD COLUMN unless table already
// has column. SQLite has no ADD COLUMN IF NOT EXISTS.
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
		return nil
	}
	_, err = db.conn.Exec(fmt.Sprintf(
		`ALTER TABLE %s ADD COLUMN %s %s`, table, column, definition,
	))
	return err
}
