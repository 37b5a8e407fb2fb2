// Package storage persists threat records and their submission ledger
// in SQLite.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// connectAttempts bounds startup retries against a locked or slow disk.
const connectAttempts = 5

// SQLite holds the database connections for threat storage.
// Separate read and write pools leverage WAL mode's concurrency model:
// a single writer plus unlimited concurrent readers.
type SQLite struct {
	WriteDB *sql.DB // Write-only pool, MaxOpenConns=1 for the WAL single writer
	ReadDB  *sql.DB // Read-only pool for concurrent SELECTs
	Path    string
	Logger  *zap.SugaredLogger
}

// configureConnection sets up WAL mode, foreign keys, and a busy
// timeout on a pool, and verifies the settings took effect.
func configureConnection(db *sql.DB, dbPath string) error {
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// SQLite disables foreign keys by default
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	var fkEnabled int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fkEnabled); err != nil {
		return fmt.Errorf("failed to verify foreign keys: %w", err)
	}
	if fkEnabled != 1 {
		return fmt.Errorf("foreign keys not enabled (got: %d)", fkEnabled)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	// In-memory databases report "memory" journal mode, not "wal"
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to query journal mode: %w", err)
	}
	if dbPath != ":memory:" && journalMode != "wal" {
		return fmt.Errorf("WAL mode not enabled (got: %s)", journalMode)
	}

	return nil
}

// NewSQLite opens the database with separate read and write pools,
// retrying with exponential backoff when the file is briefly locked.
func NewSQLite(dbPath string, logger *zap.SugaredLogger) (*SQLite, error) {
	if err := validateDatabasePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" && dbPath != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	var sqlite *SQLite
	var err error
	delay := 200 * time.Millisecond
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		sqlite, err = open(dbPath, logger)
		if err == nil {
			break
		}
		if attempt < connectAttempts {
			logger.Warnw("SQLite open failed, retrying",
				"attempt", attempt,
				"delay", delay,
				"error", err)
			time.Sleep(delay)
			delay *= 2
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database after %d attempts: %w", connectAttempts, err)
	}

	if err := sqlite.createTables(); err != nil {
		sqlite.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Infof("SQLite database initialized at %s with separate read/write pools", dbPath)
	return sqlite, nil
}

func open(dbPath string, logger *zap.SugaredLogger) (*SQLite, error) {
	// Both pools must share one in-memory database; without shared
	// cache each sql.Open(":memory:") creates a separate empty one.
	actualPath := dbPath
	if dbPath == ":memory:" {
		actualPath = "file::memory:?cache=shared"
	}

	writeDB, err := sql.Open("sqlite", actualPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open write pool: %w", err)
	}
	if err := configureConnection(writeDB, dbPath); err != nil {
		_ = writeDB.Close()
		return nil, fmt.Errorf("failed to configure write pool: %w", err)
	}
	// WAL mode requires exactly one writer at a time
	writeDB.SetMaxOpenConns(1)
	writeDB.SetMaxIdleConns(1)
	writeDB.SetConnMaxLifetime(0)
	writeDB.SetConnMaxIdleTime(10 * time.Minute)

	readDB, err := sql.Open("sqlite", actualPath)
	if err != nil {
		_ = writeDB.Close()
		return nil, fmt.Errorf("failed to open read pool: %w", err)
	}
	if err := configureConnection(readDB, dbPath); err != nil {
		_ = writeDB.Close()
		_ = readDB.Close()
		return nil, fmt.Errorf("failed to configure read pool: %w", err)
	}

	// Enforce read-only access at the SQLite level
	if _, err := readDB.Exec("PRAGMA query_only=ON"); err != nil {
		_ = writeDB.Close()
		_ = readDB.Close()
		return nil, fmt.Errorf("failed to enable query_only mode on read pool: %w", err)
	}

	readDB.SetMaxOpenConns(10)
	readDB.SetMaxIdleConns(5)
	readDB.SetConnMaxLifetime(5 * time.Minute)
	readDB.SetConnMaxIdleTime(10 * time.Minute)

	return &SQLite{
		WriteDB: writeDB,
		ReadDB:  readDB,
		Path:    dbPath,
		Logger:  logger,
	}, nil
}

// WithTransaction executes fn within a write transaction, rolling back
// on error or panic.
func (s *SQLite) WithTransaction(fn func(*sql.Tx) error) error {
	tx, err := s.WriteDB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("failed to rollback transaction (original error: %w, rollback error: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// createTables creates the threat and submission ledger schema.
func (s *SQLite) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS threats (
		id TEXT PRIMARY KEY,
		source_ip TEXT NOT NULL,
		destination_ip TEXT NOT NULL,
		protocol TEXT NOT NULL,
		behavior TEXT NOT NULL,
		timestamp TEXT,
		severity TEXT NOT NULL,
		confidence REAL NOT NULL,
		techniques TEXT,       -- JSON array
		additional_data TEXT,  -- JSON object
		anomaly INTEGER NOT NULL DEFAULT 0,
		creation_time DATETIME NOT NULL,
		submitted INTEGER NOT NULL DEFAULT 0,
		submission_time DATETIME,
		api_response TEXT,
		retry_count INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_threats_unsent ON threats(submitted, failed, creation_time);
	CREATE INDEX IF NOT EXISTS idx_threats_behavior ON threats(behavior);
	CREATE INDEX IF NOT EXISTS idx_threats_severity ON threats(severity);
	CREATE INDEX IF NOT EXISTS idx_threats_creation_time ON threats(creation_time);

	CREATE TABLE IF NOT EXISTS submission_attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		threat_id TEXT NOT NULL,
		attempt_time DATETIME NOT NULL,
		success INTEGER NOT NULL,
		error_message TEXT,
		FOREIGN KEY (threat_id) REFERENCES threats(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_attempts_threat ON submission_attempts(threat_id);
	CREATE INDEX IF NOT EXISTS idx_attempts_time ON submission_attempts(attempt_time);
	`

	if _, err := s.WriteDB.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes both connection pools.
func (s *SQLite) Close() error {
	var firstErr error
	if err := s.WriteDB.Close(); err != nil {
		firstErr = err
	}
	if err := s.ReadDB.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// validateDatabasePath rejects paths with traversal components or null
// bytes. Absolute paths are allowed; the store path is operator
// configuration, not untrusted input.
func validateDatabasePath(dbPath string) error {
	if dbPath == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if len(dbPath) > 512 {
		return fmt.Errorf("database path exceeds maximum length of 512 characters")
	}
	if strings.Contains(dbPath, "..") {
		return fmt.Errorf("path traversal not allowed (..): %s", dbPath)
	}
	if strings.Contains(dbPath, "\x00") {
		return fmt.Errorf("null bytes not allowed in path")
	}
	return nil
}
