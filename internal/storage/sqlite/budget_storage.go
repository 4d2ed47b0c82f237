package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/listarr/internal/models"
)

const budgetDayFormat = "2006-01-02"

// BudgetStorage implements interfaces.BudgetStorage using SQLite.
// The daily counter lives in a single row; all reads and writes of the
// reserve path run inside one IMMEDIATE transaction so concurrent runs
// (including other processes) can never over-issue the allowance.
type BudgetStorage struct {
	db       *SQLiteDB
	logger   arbor.ILogger
	maxDaily int
	nowFunc  func() time.Time
}

// NewBudgetStorage creates a new SQLite budget storage with the given
// daily search allowance
func NewBudgetStorage(db *SQLiteDB, logger arbor.ILogger, maxDaily int) *BudgetStorage {
	return &BudgetStorage{
		db:       db,
		logger:   logger,
		maxDaily: maxDaily,
		nowFunc:  time.Now,
	}
}

// Reserve atomically grants up to requested searches for today.
// The grant is min(requested, remaining daily allowance, perRunCap);
// a stale counter from a previous day resets to zero first.
func (s *BudgetStorage) Reserve(ctx context.Context, requested, perRunCap int) (int, error) {
	if requested <= 0 {
		return 0, nil
	}

	today := s.nowFunc().Format(budgetDayFormat)
	granted := 0

	err := s.db.withImmediateTx(ctx, func(conn *sql.Conn) error {
		day, issued, err := readCounter(ctx, conn)
		if err != nil {
			return err
		}

		// Rollover: a counter from another day starts fresh
		if day != today {
			issued = 0
		}

		remaining := s.maxDaily - issued
		if remaining < 0 {
			remaining = 0
		}

		granted = requested
		if granted > remaining {
			granted = remaining
		}
		if perRunCap > 0 && granted > perRunCap {
			granted = perRunCap
		}

		_, err = conn.ExecContext(ctx, `
			INSERT INTO search_budget (id, day, issued) VALUES (1, ?, ?)
			ON CONFLICT(id) DO UPDATE SET day = excluded.day, issued = excluded.issued`,
			today, issued+granted)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to reserve searches: %w", err)
	}

	return granted, nil
}

// Remaining reports the unspent allowance for the current day
func (s *BudgetStorage) Remaining(ctx context.Context) (int, error) {
	counter, err := s.Counter(ctx)
	if err != nil {
		return 0, err
	}

	issued := counter.IssuedToday
	if counter.Date != s.nowFunc().Format(budgetDayFormat) {
		issued = 0
	}

	remaining := s.maxDaily - issued
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Counter returns the raw counter row. A missing row reads as today with
// zero issued.
func (s *BudgetStorage) Counter(ctx context.Context) (*models.BudgetCounter, error) {
	var day string
	var issued int
	err := s.db.DB().QueryRowContext(ctx,
		`SELECT day, issued FROM search_budget WHERE id = 1`).Scan(&day, &issued)
	if err == sql.ErrNoRows {
		return &models.BudgetCounter{Date: s.nowFunc().Format(budgetDayFormat)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read budget counter: %w", err)
	}
	return &models.BudgetCounter{Date: day, IssuedToday: issued}, nil
}

func readCounter(ctx context.Context, conn *sql.Conn) (string, int, error) {
	var day string
	var issued int
	err := conn.QueryRowContext(ctx,
		`SELECT day, issued FROM search_budget WHERE id = 1`).Scan(&day, &issued)
	if err == sql.ErrNoRows {
		return "", 0, nil
	}
	if err != nil {
		return "", 0, fmt.Errorf("failed to read budget counter: %w", err)
	}
	return day, issued, nil
}
