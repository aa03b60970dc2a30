package migrations

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Migration represents a single schema change. Migrations are compiled into
// the binary so deployments never depend on a migrations directory being
// present next to the executable.
type Migration struct {
	Version int
	Up      string
	Down    string
}

// All returns every migration in version order.
func All() []Migration {
	return []Migration{
		{
			Version: 1,
			Up: `
CREATE TABLE IF NOT EXISTS sources (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    kind           TEXT NOT NULL,
    name           TEXT NOT NULL,
    url            TEXT NOT NULL,
    weight         REAL NOT NULL DEFAULT 1.0,
    enabled        INTEGER NOT NULL DEFAULT 1,
    failures_count INTEGER NOT NULL DEFAULT 0,
    last_error     TEXT,
    last_run_at    DATETIME,
    created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(kind, url)
);

CREATE TABLE IF NOT EXISTS items (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    kind           TEXT NOT NULL,
    origin_id      TEXT NOT NULL,
    source_id      INTEGER REFERENCES sources(id),
    title          TEXT NOT NULL,
    url            TEXT NOT NULL,
    secondary_url  TEXT,
    author         TEXT,
    event_time     DATETIME,
    discovered_at  DATETIME NOT NULL,
    raw_features   TEXT NOT NULL DEFAULT '[]',
    status         TEXT NOT NULL DEFAULT 'new',
    score          REAL NOT NULL DEFAULT 0,
    discard_reason TEXT,
    updated_at     DATETIME NOT NULL,
    UNIQUE(kind, origin_id)
);

CREATE INDEX IF NOT EXISTS idx_items_status ON items(status);
CREATE INDEX IF NOT EXISTS idx_items_score ON items(score);
CREATE INDEX IF NOT EXISTS idx_items_discovered_at ON items(discovered_at);
CREATE INDEX IF NOT EXISTS idx_sources_enabled ON sources(enabled);
`,
			Down: `
DROP TABLE IF EXISTS items;
DROP TABLE IF EXISTS sources;
`,
		},
	}
}

// Run executes all pending migrations against db.
func Run(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.Query("SELECT version FROM migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate applied migrations: %w", err)
	}

	for _, migration := range All() {
		if applied[migration.Version] {
			log.Debug().
				Int("version", migration.Version).
				Msg("Migration already applied, skipping")
			continue
		}

		log.Info().
			Int("version", migration.Version).
			Msg("Running migration")

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}

		if _, err := tx.Exec(migration.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.Exec("INSERT INTO migrations (version) VALUES (?)", migration.Version); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
