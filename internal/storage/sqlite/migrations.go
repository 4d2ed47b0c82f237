package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// migrate runs database migrations
func (s *SQLiteDB) migrate() error {
	ctx := context.Background()

	// Create migrations table
	if err := s.createMigrationsTable(ctx); err != nil {
		return err
	}

	// Run migrations
	migrations := []migration{
		{version: 1, name: "initial_schema", up: migrateV1},
	}

	for _, m := range migrations {
		if err := s.runMigration(ctx, m); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.name, err)
		}
	}

	return nil
}

type migration struct {
	version int
	name    string
	up      func(context.Context, *sql.Tx) error
}

func (s *SQLiteDB) createMigrationsTable(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at INTEGER NOT NULL
	)`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

func (s *SQLiteDB) runMigration(ctx context.Context, m migration) error {
	// Check if migration already applied
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.version).Scan(&count)
	if err != nil {
		return err
	}

	if count > 0 {
		return nil // Already applied
	}

	// Start transaction
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Run migration
	if err := m.up(ctx, tx); err != nil {
		return err
	}

	// Record migration
	_, err = tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, strftime('%s', 'now'))",
		m.version, m.name)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// migrateV1 creates the initial schema
func migrateV1(ctx context.Context, tx *sql.Tx) error {
	queries := []string{
		// Tracked movies, one row per TMDB id. Rows are never deleted.
		`CREATE TABLE IF NOT EXISTS tracked_items (
			tmdb_id INTEGER PRIMARY KEY,
			radarr_id INTEGER DEFAULT 0,
			imdb_id TEXT DEFAULT '',
			title TEXT NOT NULL,
			year INTEGER DEFAULT 0,
			origin TEXT NOT NULL DEFAULT 'self',
			search_state TEXT NOT NULL DEFAULT 'new',
			last_searched_at INTEGER,
			file_size_bytes INTEGER,
			added_at INTEGER DEFAULT (strftime('%s', 'now')),
			updated_at INTEGER DEFAULT (strftime('%s', 'now'))
		)`,

		// Daily search budget, a single row keyed to id = 1
		`CREATE TABLE IF NOT EXISTS search_budget (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			day TEXT NOT NULL,
			issued INTEGER NOT NULL DEFAULT 0
		)`,

		// Per-job run locks with staleness timeout
		`CREATE TABLE IF NOT EXISTS run_locks (
			job TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			acquired_at INTEGER NOT NULL,
			ttl_seconds INTEGER NOT NULL
		)`,

		// Indexes
		`CREATE INDEX IF NOT EXISTS idx_tracked_items_state ON tracked_items(search_state)`,
		`CREATE INDEX IF NOT EXISTS idx_tracked_items_searched ON tracked_items(last_searched_at)`,
	}

	for _, query := range queries {
		if _, err := tx.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %w\nQuery: %s", err, query)
		}
	}

	return nil
}
