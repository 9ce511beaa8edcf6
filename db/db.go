package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		occurred_at TEXT NOT NULL,
		type TEXT NOT NULL,
		session_id TEXT,
		target_pa REAL,
		ach_average REAL,
		detail TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS events_occurred_at ON events (occurred_at)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		mode TEXT,
		target_pa REAL NOT NULL,
		started_at TEXT NOT NULL,
		hold_reached_at TEXT,
		stopped_at TEXT,
		ach_average REAL
	)`,
	`CREATE TABLE IF NOT EXISTS calibrations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		captured_at TEXT NOT NULL,
		fan_offset_pa REAL NOT NULL,
		envelope_offset_pa REAL NOT NULL
	)`,
}

// Open opens the history database and creates any missing tables.
func Open(dbPath string) (*sql.DB, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite serializes writers; one connection avoids SQLITE_BUSY and keeps
	// :memory: databases shared.
	db.SetMaxOpenConns(1)

	if err := ApplyMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	log.Info().Str("path", dbPath).Msg("History database ready")
	return db, nil
}

func ApplyMigrations(db *sql.DB) error {
	tx, err := StartTransaction(db)
	if err != nil {
		return err
	}
	for _, stmt := range schema {
		if _, err := tx.Exec(stmt); err != nil {
			RollbackTransaction(tx)
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return CommitTransaction(tx)
}
