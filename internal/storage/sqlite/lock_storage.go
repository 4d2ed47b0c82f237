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

// LockStorage implements interfaces.LockStorage using SQLite.
// Acquire and release run inside IMMEDIATE transactions so two processes
// racing for the same job lock see a consistent winner.
type LockStorage struct {
	db      *SQLiteDB
	logger  arbor.ILogger
	nowFunc func() time.Time
}

// NewLockStorage creates a new SQLite lock storage
func NewLockStorage(db *SQLiteDB, logger arbor.ILogger) *LockStorage {
	return &LockStorage{db: db, logger: logger, nowFunc: time.Now}
}

// Acquire takes the named lock for owner. A live lock held by another
// owner returns ErrBusy; an expired lock is reclaimed.
func (s *LockStorage) Acquire(ctx context.Context, job, owner string, ttl time.Duration) error {
	now := s.nowFunc()

	err := s.db.withImmediateTx(ctx, func(conn *sql.Conn) error {
		var holder string
		var acquiredAt, ttlSeconds int64
		err := conn.QueryRowContext(ctx,
			`SELECT owner, acquired_at, ttl_seconds FROM run_locks WHERE job = ?`, job).
			Scan(&holder, &acquiredAt, &ttlSeconds)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("failed to read lock: %w", err)
		}

		if err == nil && holder != owner {
			held := models.RunLock{
				Job:        job,
				Owner:      holder,
				AcquiredAt: time.Unix(acquiredAt, 0),
				TTL:        time.Duration(ttlSeconds) * time.Second,
			}
			if !held.Expired(now) {
				return interfaces.ErrBusy
			}
			s.logger.Warn().
				Str("job", job).
				Str("previous_owner", holder).
				Msg("Reclaiming expired run lock")
		}

		_, err = conn.ExecContext(ctx, `
			INSERT INTO run_locks (job, owner, acquired_at, ttl_seconds) VALUES (?, ?, ?, ?)
			ON CONFLICT(job) DO UPDATE SET
				owner = excluded.owner,
				acquired_at = excluded.acquired_at,
				ttl_seconds = excluded.ttl_seconds`,
			job, owner, now.Unix(), int64(ttl.Seconds()))
		if err != nil {
			return fmt.Errorf("failed to write lock: %w", err)
		}
		return nil
	})
	return err
}

// Release drops the lock if owner still holds it. Releasing a lock held
// by someone else, or not held at all, is a no-op.
func (s *LockStorage) Release(ctx context.Context, job, owner string) error {
	_, err := s.db.DB().ExecContext(ctx,
		`DELETE FROM run_locks WHERE job = ? AND owner = ?`, job, owner)
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Holder returns the current lock row for the job, or nil when unheld
func (s *LockStorage) Holder(ctx context.Context, job string) (*models.RunLock, error) {
	var owner string
	var acquiredAt, ttlSeconds int64
	err := s.db.DB().QueryRowContext(ctx,
		`SELECT owner, acquired_at, ttl_seconds FROM run_locks WHERE job = ?`, job).
		Scan(&owner, &acquiredAt, &ttlSeconds)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read lock: %w", err)
	}
	return &models.RunLock{
		Job:        job,
		Owner:      owner,
		AcquiredAt: time.Unix(acquiredAt, 0),
		TTL:        time.Duration(ttlSeconds) * time.Second,
	}, nil
}
