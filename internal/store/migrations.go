package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// migrate creates all tables if they don't exist and seeds metadata.
func (s *SQLiteStore) migrate() error {
	bootstrapDone, err := s.isMetaFlagEnabled("schema_bootstrap_complete")
	if err != nil {
		return fmt.Errorf("checking bootstrap state: %w", err)
	}

	if !bootstrapDone {
		if err := s.runBootstrapDDL(); err != nil {
			return err
		}
	}

	// Seed metadata after bootstrap, once the meta table exists
	if err := s.seedMeta(); err != nil {
		return fmt.Errorf("seeding metadata: %w", err)
	}

	if !bootstrapDone {
		if err := s.setMetaFlag("schema_bootstrap_complete"); err != nil {
			return fmt.Errorf("marking bootstrap complete: %w", err)
		}
	}

	// Schema evolution: schedule follow-ups derived from extractions.
	if err := s.migrateSchedulesTable(); err != nil {
		return fmt.Errorf("migrating schedules table: %w", err)
	}

	return nil
}

func (s *SQLiteStore) runBootstrapDDL() error {
	statements := []string{
		// Client registry. name_key is the normalized name and the dedup guard.
		`CREATE TABLE IF NOT EXISTS clients (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			name       TEXT NOT NULL,
			name_key   TEXT UNIQUE NOT NULL,
			industry   TEXT NOT NULL DEFAULT '',
			address    TEXT NOT NULL DEFAULT '',
			notes      TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS contacts (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			client_id  INTEGER NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
			name       TEXT NOT NULL DEFAULT '',
			role       TEXT NOT NULL DEFAULT '',
			phone      TEXT NOT NULL DEFAULT '',
			email      TEXT NOT NULL DEFAULT '',
			notes      TEXT NOT NULL DEFAULT '',
			is_primary INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_contacts_client ON contacts(client_id)`,
		// At most one primary contact per client.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_contacts_primary ON contacts(client_id) WHERE is_primary = 1`,

		// Source records (sales notes)
		`CREATE TABLE IF NOT EXISTS records (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			client_id        INTEGER REFERENCES clients(id),
			client_name_text TEXT NOT NULL DEFAULT '',
			body             TEXT NOT NULL,
			extraction       TEXT,
			analyzed_at      DATETIME,
			created_at       DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at       DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_client ON records(client_id)`,
		`CREATE INDEX IF NOT EXISTS idx_records_unanalyzed ON records(analyzed_at) WHERE analyzed_at IS NULL`,

		// Append-only resolution log
		`CREATE TABLE IF NOT EXISTS resolution_events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type TEXT NOT NULL CHECK(event_type IN ('client_created','client_attached','attach_declined','contact_added','contact_merged')),
			record_id  INTEGER,
			client_id  INTEGER,
			phase      TEXT NOT NULL DEFAULT '',
			detail     TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_record ON resolution_events(record_id)`,

		// Metadata table
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT
		)`,
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning migration transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("executing migration %q: %w", truncate(stmt, 80), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration: %w", err)
	}

	return nil
}

func (s *SQLiteStore) isMetaFlagEnabled(key string) (bool, error) {
	var exists int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='meta'`).Scan(&exists); err != nil {
		return false, err
	}
	if exists == 0 {
		return false, nil
	}

	var value string
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return value == "true", nil
}

func (s *SQLiteStore) setMetaFlag(key string) error {
	_, err := s.db.Exec("INSERT OR REPLACE INTO meta (key, value) VALUES (?, 'true')", key)
	return err
}

func (s *SQLiteStore) seedMeta() error {
	defaults := map[string]string{
		"schema_version": "1",
		"created_at":     time.Now().UTC().Format(time.RFC3339),
	}

	for k, v := range defaults {
		_, err := s.db.Exec(
			"INSERT OR IGNORE INTO meta (key, value) VALUES (?, ?)", k, v,
		)
		if err != nil {
			return fmt.Errorf("seeding meta key %q: %w", k, err)
		}
	}
	return nil
}

func (s *SQLiteStore) migrateSchedulesTable() error {
	done, err := s.isMetaFlagEnabled("schedules_v1")
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schedules (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			record_id  INTEGER NOT NULL UNIQUE REFERENCES records(id) ON DELETE CASCADE,
			client_id  INTEGER REFERENCES clients(id),
			title      TEXT NOT NULL,
			date       TEXT NOT NULL DEFAULT '',
			time       TEXT NOT NULL DEFAULT '',
			location   TEXT NOT NULL DEFAULT '',
			notes      TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_schedules_date ON schedules(date)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("creating schedules table: %w", err)
		}
	}

	if err := s.setMetaFlag("schedules_v1"); err != nil {
		return fmt.Errorf("setting schedules_v1 flag: %w", err)
	}
	return nil
}

func truncate(s string, maxLen int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
