package main

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
	modesDirPermissions  = 0750
	modesFilePermissions = 0600
	modesBusyTimeoutMS   = 5000
	modesPingTimeout     = 5 * time.Second
)

const modesSchema = `
CREATE TABLE IF NOT EXISTS device_modes (
	name       TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
)`

// SQLiteModeStore persists device modes in a single SQLite table.
type SQLiteModeStore struct {
	db   *sql.DB
	path string
}

// OpenModeStore opens (creating if needed) the mode database at path.
func OpenModeStore(path string) (*SQLiteModeStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), modesDirPermissions); err != nil {
		return nil, fmt.Errorf("creating mode store directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL", path, modesBusyTimeoutMS)
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening mode store: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), modesPingTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("verifying mode store connection: %w", err)
	}
	if _, err := db.ExecContext(ctx, modesSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating mode store schema: %w", err)
	}

	_ = os.Chmod(path, modesFilePermissions)

	return &SQLiteModeStore{db: db, path: path}, nil
}

func (s *SQLiteModeStore) LoadModes(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, value FROM device_modes`)
	if err != nil {
		return nil, fmt.Errorf("querying modes: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("scanning mode: %w", err)
		}
		out[name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating modes: %w", err)
	}
	return out, nil
}

func (s *SQLiteModeStore) SaveMode(ctx context.Context, name, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO device_modes (name, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		name, value, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("saving mode %s: %w", name, err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteModeStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing mode store: %w", err)
	}
	return nil
}
