// Package storage persists migration history in SQLite.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLite holds separate read and write pools over one database file. WAL
// mode allows concurrent readers alongside the single writer.
type SQLite struct {
	WriteDB *sql.DB
	ReadDB  *sql.DB
	Path    string
	Logger  *zap.SugaredLogger
}

// NewSQLite opens (creating if needed) the database at path and applies the
// schema.
func NewSQLite(path string, logger *zap.SugaredLogger) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	writeDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	// SQLite allows a single writer; serializing writes through one
	// connection avoids SQLITE_BUSY churn.
	writeDB.SetMaxOpenConns(1)
	if err := configureConnection(writeDB, path); err != nil {
		writeDB.Close()
		return nil, err
	}

	readDB, err := sql.Open("sqlite", path)
	if err != nil {
		writeDB.Close()
		return nil, fmt.Errorf("failed to open SQLite read pool: %w", err)
	}
	readDB.SetMaxOpenConns(10)
	if err := configureConnection(readDB, path); err != nil {
		writeDB.Close()
		readDB.Close()
		return nil, err
	}

	s := &SQLite{WriteDB: writeDB, ReadDB: readDB, Path: path, Logger: logger}
	if err := s.migrate(); err != nil {
		s.Close()
		return nil, err
	}

	logger.Infof("SQLite database ready at %s", path)
	return s, nil
}

func configureConnection(db *sql.DB, path string) error {
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	// SQLite disables foreign keys by default; the schema relies on
	// ON DELETE CASCADE.
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping SQLite database: %w", err)
	}
	return nil
}

// migrate applies the schema. Statements are idempotent.
func (s *SQLite) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS migrations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			source_platform TEXT NOT NULL,
			file_name TEXT,
			total_rules INTEGER DEFAULT 0,
			converted_rules INTEGER DEFAULT 0,
			failed_rules INTEGER DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS rules (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			migration_id INTEGER NOT NULL,
			rule_id TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT,
			original_query TEXT,
			converted_query TEXT,
			status TEXT,
			severity TEXT,
			coverage_score REAL,
			best_match TEXT,
			FOREIGN KEY (migration_id) REFERENCES migrations(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS coverage_matches (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			rule_pk INTEGER NOT NULL,
			match_name TEXT,
			match_score REAL,
			severity TEXT,
			tags TEXT,
			FOREIGN KEY (rule_pk) REFERENCES rules(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rules_migration ON rules(migration_id)`,
		`CREATE INDEX IF NOT EXISTS idx_matches_rule ON coverage_matches(rule_pk)`,
	}
	for _, stmt := range statements {
		if _, err := s.WriteDB.Exec(stmt); err != nil {
			return fmt.Errorf("schema migration failed: %w", err)
		}
	}
	return nil
}

// Close closes both pools.
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
