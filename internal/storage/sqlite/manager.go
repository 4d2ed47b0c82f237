package sqlite

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/listarr/internal/common"
	"github.com/ternarybob/listarr/internal/interfaces"
)

// Manager implements the StorageManager interface
type Manager struct {
	db     *SQLiteDB
	items  interfaces.ItemStorage
	budget interfaces.BudgetStorage
	locks  interfaces.LockStorage
	logger arbor.ILogger
}

// NewManager creates a new SQLite storage manager. maxDailySearches
// bounds the shared search budget counter.
func NewManager(logger arbor.ILogger, config *common.SQLiteConfig, maxDailySearches int) (interfaces.StorageManager, error) {
	db, err := NewSQLiteDB(logger, config)
	if err != nil {
		return nil, err
	}

	return &Manager{
		db:     db,
		items:  NewItemStorage(db, logger),
		budget: NewBudgetStorage(db, logger, maxDailySearches),
		locks:  NewLockStorage(db, logger),
		logger: logger,
	}, nil
}

// Items returns the tracked-item storage interface
func (m *Manager) Items() interfaces.ItemStorage {
	return m.items
}

// Budget returns the daily search budget interface
func (m *Manager) Budget() interfaces.BudgetStorage {
	return m.budget
}

// Locks returns the run lock interface
func (m *Manager) Locks() interfaces.LockStorage {
	return m.locks
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
