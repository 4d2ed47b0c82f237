package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/listarr/internal/models"
)

var (
	// ErrItemNotFound is returned when a tracked item does not exist
	ErrItemNotFound = errors.New("item not found")
	// ErrBusy is returned when a run lock is held by another live owner
	ErrBusy = errors.New("lock held by another run")
)

// ItemStorage persists the per-movie tracking rows
type ItemStorage interface {
	// Get returns the item keyed by TMDB id, or ErrItemNotFound
	Get(ctx context.Context, tmdbID int64) (*models.TrackedItem, error)

	// Upsert inserts or updates an item. On update the original AddedAt
	// is preserved and UpdatedAt is refreshed.
	Upsert(ctx context.Context, item *models.TrackedItem) error

	// List returns all tracked items ordered by AddedAt
	List(ctx context.Context) ([]*models.TrackedItem, error)

	// ListByState returns items in the given state, oldest search first
	// (never-searched items lead), ties broken by smallest file
	ListByState(ctx context.Context, state models.SearchState) ([]*models.TrackedItem, error)

	// Count returns the number of tracked items
	Count(ctx context.Context) (int, error)
}

// BudgetStorage is the shared daily search allowance. All jobs draw from
// the same counter; reservations are atomic across processes.
type BudgetStorage interface {
	// Reserve atomically grants up to `requested` searches, bounded by the
	// per-run cap and the remaining daily allowance, and advances the
	// counter by the granted amount. A counter from a previous calendar
	// day resets to zero before the grant is computed. requested <= 0
	// grants zero and writes nothing.
	Reserve(ctx context.Context, requested, perRunCap int) (int, error)

	// Remaining reports the unspent allowance for the current day
	Remaining(ctx context.Context) (int, error)

	// Counter returns the raw counter row for inspection
	Counter(ctx context.Context) (*models.BudgetCounter, error)
}

// LockStorage provides per-job mutual exclusion with staleness recovery
type LockStorage interface {
	// Acquire takes the named lock for owner. A live lock held by a
	// different owner returns ErrBusy; a lock older than ttl is
	// reclaimed.
	Acquire(ctx context.Context, job, owner string, ttl time.Duration) error

	// Release drops the lock if owner still holds it; releasing a lock
	// held by someone else (or by nobody) is a no-op.
	Release(ctx context.Context, job, owner string) error

	// Holder returns the current lock row for the job, or nil
	Holder(ctx context.Context, job string) (*models.RunLock, error)
}

// StorageManager bundles the storage concerns behind one lifecycle
type StorageManager interface {
	Items() ItemStorage
	Budget() BudgetStorage
	Locks() LockStorage
	Close() error
}
