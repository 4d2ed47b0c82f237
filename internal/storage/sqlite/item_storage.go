package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/listarr/internal/interfaces"
	"github.com/ternarybob/listarr/internal/models"
)

// ItemStorage implements interfaces.ItemStorage using SQLite
type ItemStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

// NewItemStorage creates a new SQLite item storage
func NewItemStorage(db *SQLiteDB, logger arbor.ILogger) *ItemStorage {
	return &ItemStorage{db: db, logger: logger}
}

const itemColumns = `tmdb_id, radarr_id, imdb_id, title, year, origin, search_state,
	last_searched_at, file_size_bytes, added_at, updated_at`

// Get returns the item keyed by TMDB id
func (s *ItemStorage) Get(ctx context.Context, tmdbID int64) (*models.TrackedItem, error) {
	row := s.db.DB().QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM tracked_items WHERE tmdb_id = ?`, tmdbID)

	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return item, nil
}

// Upsert inserts or updates an item, preserving the original AddedAt on update
func (s *ItemStorage) Upsert(ctx context.Context, item *models.TrackedItem) error {
	now := time.Now().Unix()
	addedAt := item.AddedAt.Unix()
	if item.AddedAt.IsZero() {
		addedAt = now
	}

	var lastSearched, fileSize sql.NullInt64
	if item.LastSearchedAt != nil {
		lastSearched = sql.NullInt64{Int64: item.LastSearchedAt.Unix(), Valid: true}
	}
	if item.FileSizeBytes != nil {
		fileSize = sql.NullInt64{Int64: *item.FileSizeBytes, Valid: true}
	}

	_, err := s.db.DB().ExecContext(ctx, `
		INSERT INTO tracked_items (tmdb_id, radarr_id, imdb_id, title, year, origin,
			search_state, last_searched_at, file_size_bytes, added_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tmdb_id) DO UPDATE SET
			radarr_id = excluded.radarr_id,
			imdb_id = excluded.imdb_id,
			title = excluded.title,
			year = excluded.year,
			origin = excluded.origin,
			search_state = excluded.search_state,
			last_searched_at = excluded.last_searched_at,
			file_size_bytes = excluded.file_size_bytes,
			updated_at = excluded.updated_at`,
		item.TmdbID, item.RadarrID, item.ImdbID, item.Title, item.Year,
		item.Origin.String(), string(item.SearchState), lastSearched, fileSize,
		addedAt, now)
	if err != nil {
		return fmt.Errorf("failed to upsert item: %w", err)
	}
	return nil
}

// List returns all tracked items ordered by AddedAt
func (s *ItemStorage) List(ctx context.Context) ([]*models.TrackedItem, error) {
	rows, err := s.db.DB().QueryContext(ctx,
		`SELECT `+itemColumns+` FROM tracked_items ORDER BY added_at ASC, tmdb_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	return collectItems(rows)
}

// ListByState returns items in the given state, never-searched first, then
// oldest search, then smallest file. SQLite sorts NULL before any value on
// ascending order, which puts unsearched and fileless items at the front.
func (s *ItemStorage) ListByState(ctx context.Context, state models.SearchState) ([]*models.TrackedItem, error) {
	rows, err := s.db.DB().QueryContext(ctx,
		`SELECT `+itemColumns+` FROM tracked_items
		 WHERE search_state = ?
		 ORDER BY last_searched_at ASC, file_size_bytes ASC, tmdb_id ASC`,
		string(state))
	if err != nil {
		return nil, fmt.Errorf("failed to list items by state: %w", err)
	}
	defer rows.Close()

	return collectItems(rows)
}

// Count returns the number of tracked items
func (s *ItemStorage) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM tracked_items`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count items: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row rowScanner) (*models.TrackedItem, error) {
	var item models.TrackedItem
	var origin, state string
	var lastSearched, fileSize sql.NullInt64
	var addedAt, updatedAt int64

	err := row.Scan(&item.TmdbID, &item.RadarrID, &item.ImdbID, &item.Title,
		&item.Year, &origin, &state, &lastSearched, &fileSize, &addedAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	item.Origin = models.ParseOrigin(origin)
	item.SearchState = models.SearchState(state)
	if lastSearched.Valid {
		t := time.Unix(lastSearched.Int64, 0)
		item.LastSearchedAt = &t
	}
	if fileSize.Valid {
		size := fileSize.Int64
		item.FileSizeBytes = &size
	}
	item.AddedAt = time.Unix(addedAt, 0)
	item.UpdatedAt = time.Unix(updatedAt, 0)

	return &item, nil
}

func collectItems(rows *sql.Rows) ([]*models.TrackedItem, error) {
	var items []*models.TrackedItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate items: %w", err)
	}
	return items, nil
}
