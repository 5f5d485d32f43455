package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	// dirPermissions for the database directory.
	dirPermissions = 0750

	// filePermissions keeps the database file owner-only; it holds the
	// device's publish history.
	filePermissions = 0600

	// msPerSecond converts the config's busy timeout to milliseconds.
	msPerSecond = 1000

	// connectionTimeout bounds the post-open connectivity ping.
	connectionTimeout = 5 * time.Second

	// connMaxIdleTime recycles connections that have sat idle between
	// report cycles.
	connMaxIdleTime = 30 * time.Minute
)

// DB wraps sql.DB for the on-device SQLite store that backs the publish
// journal. It adds lifecycle management, embedded migrations and a
// health probe.
type DB struct {
	*sql.DB
	path string
}

// Config mirrors the database section of config.yaml.
type Config struct {
	// Path to the SQLite file. Missing parent directories are created.
	Path string

	// WALMode turns on write-ahead logging so the journal can be read
	// while a report cycle is writing.
	WALMode bool

	// BusyTimeout in seconds before a lock wait gives up.
	BusyTimeout int
}

// Open opens (creating if needed) the SQLite store and verifies it
// answers. Pragmas, pool sizing and file permissions are applied here so
// callers only ever see a ready connection.
//
// Parameters:
//   - cfg: Database configuration
//
// Returns:
//   - *DB: Verified connection
//   - error: If the directory, open or ping fails
func Open(cfg Config) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), dirPermissions); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	// Pragma syntax per github.com/mattn/go-sqlite3 connection strings.
	connStr := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on",
		cfg.Path,
		cfg.BusyTimeout*msPerSecond,
	)
	if cfg.WALMode {
		connStr += "&_journal_mode=WAL&_synchronous=NORMAL"
	}

	sqlDB, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One writer is all SQLite supports; one idle connection keeps the
	// next report cycle from paying the open cost.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	db := &DB{
		DB:   sqlDB,
		path: cfg.Path,
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		sqlDB.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}

	// First run creates the file during the ping above; tighten it now.
	_ = os.Chmod(cfg.Path, filePermissions) //nolint:errcheck // File may appear on first write

	return db, nil
}

// Close releases the connection. Safe on a zero DB.
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// Path returns the filesystem path of the SQLite file.
func (db *DB) Path() string {
	return db.path
}

// HealthCheck runs a trivial query to confirm the store answers.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, wrapped query error otherwise
func (db *DB) HealthCheck(ctx context.Context) error {
	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// Stats exposes connection pool statistics for diagnostics.
func (db *DB) Stats() sql.DBStats {
	return db.DB.Stats()
}

// ExecContext runs a statement that returns no rows, wrapping failures
// with context.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - query: SQL with ? placeholders
//   - args: Placeholder values
//
// Returns:
//   - sql.Result: LastInsertId and RowsAffected
//   - error: If execution fails
func (db *DB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	result, err := db.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}
	return result, nil
}

// QueryRowContext runs a single-row query.
func (db *DB) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return db.DB.QueryRowContext(ctx, query, args...)
}

// BeginTx starts a transaction. Multi-row mutations of the journal go
// through one so a crash mid-cycle cannot leave half a batch recorded.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - opts: Transaction options, nil for defaults
//
// Returns:
//   - *sql.Tx: Open transaction
//   - error: If the transaction cannot start
func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	tx, err := db.DB.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	return tx, nil
}
