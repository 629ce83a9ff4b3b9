// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/autobrr/trackersync/internal/dbinterface"
)

// DB wraps the SQLite handle that backs the settings stores.
type DB struct {
	*sql.DB
	path string
}

var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA foreign_keys = ON",
	"PRAGMA synchronous = NORMAL",
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS tracker_sync_settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		auto_update INTEGER NOT NULL DEFAULT 0,
		update_interval TEXT NOT NULL DEFAULT '1d',
		sources_json TEXT NOT NULL DEFAULT '[]',
		last_update_ms INTEGER,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TRIGGER IF NOT EXISTS tracker_sync_settings_updated_at
		AFTER UPDATE ON tracker_sync_settings
		FOR EACH ROW
		BEGIN
			UPDATE tracker_sync_settings SET updated_at = CURRENT_TIMESTAMP WHERE id = OLD.id;
		END`,
}

// New opens (creating if needed) the database at path and applies migrations.
func New(path string) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writers; a single connection avoids SQLITE_BUSY churn.
	sqlDB.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, pragma := range pragmas {
		if _, err := sqlDB.ExecContext(ctx, pragma); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := migrate(ctx, sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}

	log.Debug().Str("path", path).Msg("Database initialized")

	return &DB{DB: sqlDB, path: path}, nil
}

// Path returns the database file location.
func (db *DB) Path() string {
	return db.path
}

func migrate(ctx context.Context, db dbinterface.TxBeginner) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration: %w", err)
	}

	if err := applyMigrations(ctx, tx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}
	return nil
}

func applyMigrations(ctx context.Context, tx dbinterface.TxQuerier) error {
	for i, stmt := range migrations {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}
