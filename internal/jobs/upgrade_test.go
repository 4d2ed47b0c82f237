package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/listarr/internal/common"
	"github.com/ternarybob/listarr/internal/interfaces"
	"github.com/ternarybob/listarr/internal/models"
)

const gb = int64(1 << 30)

func TestUpgradeJob_BoundaryThresholdIsSatisfied(t *testing.T) {
	cfg := testConfig()
	cfg.Upgrade.MinFileSizeGB = 4.0
	store := newMemStorage(cfg.Schedule.MaxDailySearches)
	manager := newFakeManager()
	upgradeTag, _ := manager.EnsureTag(context.Background(), "upgrade")

	// File exactly at the threshold: closed lower bound, satisfied
	exact := 4 * gb
	manager.addManaged(100, &exact, upgradeTag)

	job := NewUpgradeJob(store, manager, cfg, arbor.NewLogger(), false)
	report, err := job.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Satisfied)
	assert.Equal(t, 0, report.Below)
	assert.Equal(t, 0, manager.searchCount())

	item, err := store.Items().Get(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, models.SearchStateSatisfied, item.SearchState)

	// Upgrade tag removed from the managed movie
	updated, err := manager.GetMovieByTmdbID(context.Background(), 100)
	require.NoError(t, err)
	assert.NotContains(t, updated.TagIDs, upgradeTag)
}

func TestUpgradeJob_NilFileSizeNeverSatisfied(t *testing.T) {
	cfg := testConfig()
	cfg.Upgrade.MinFileSizeGB = 4.0
	store := newMemStorage(cfg.Schedule.MaxDailySearches)
	manager := newFakeManager()
	upgradeTag, _ := manager.EnsureTag(context.Background(), "upgrade")

	manager.addManaged(200, nil, upgradeTag)

	job := NewUpgradeJob(store, manager, cfg, arbor.NewLogger(), false)
	report, err := job.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, report.Satisfied)
	assert.Equal(t, 1, report.Below)

	item, err := store.Items().Get(context.Background(), 200)
	require.NoError(t, err)
	assert.Equal(t, models.SearchStateBelowThreshold, item.SearchState)
	assert.Nil(t, item.FileSizeBytes)
	assert.Equal(t, 1, manager.searchCount())
}

func TestUpgradeJob_TaggedButUntrackedMovieGetsRow(t *testing.T) {
	cfg := testConfig()
	store := newMemStorage(cfg.Schedule.MaxDailySearches)
	manager := newFakeManager()
	upgradeTag, _ := manager.EnsureTag(context.Background(), "upgrade")

	small := 1 * gb
	manager.addManaged(300, &small, upgradeTag)

	// Upgrade tagging is its own entry point, no sync run needed first
	job := NewUpgradeJob(store, manager, cfg, arbor.NewLogger(), false)
	_, err := job.Run(context.Background())
	require.NoError(t, err)

	item, err := store.Items().Get(context.Background(), 300)
	require.NoError(t, err)
	assert.Equal(t, models.SearchStateBelowThreshold, item.SearchState)
	require.NotNil(t, item.FileSizeBytes)
	assert.Equal(t, small, *item.FileSizeBytes)
}

func TestUpgradeJob_SharedBudgetAcrossJobs(t *testing.T) {
	cfg := testConfig()
	cfg.Schedule.MaxDailySearches = 5
	cfg.Schedule.SearchesPerRun = 3
	store := newMemStorage(cfg.Schedule.MaxDailySearches)
	manager := newFakeManager()

	// Sync spends 3 of the 5 first
	source := &fakeSource{personal: []interfaces.WatchlistEntry{
		entry(1, "a"), entry(2, "b"), entry(3, "c"), entry(4, "d"),
	}}
	syncJob := NewSyncJob(store, source, manager, cfg, arbor.NewLogger(), false)
	syncReport, err := syncJob.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, syncReport.Searched)

	// Four upgrade-eligible items want 4 more, only 2 remain today
	upgradeTag, _ := manager.EnsureTag(context.Background(), "upgrade")
	small := 1 * gb
	for tmdbID := int64(10); tmdbID < 14; tmdbID++ {
		manager.addManaged(tmdbID, &small, upgradeTag)
	}

	upgradeJob := NewUpgradeJob(store, manager, cfg, arbor.NewLogger(), false)
	upgradeReport, err := upgradeJob.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, upgradeReport.Below)
	assert.Equal(t, 2, upgradeReport.Searched)

	remaining, err := store.Budget().Remaining(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)

	// The two unsearched items stay below threshold for the next day
	below, err := store.Items().ListByState(context.Background(), models.SearchStateBelowThreshold)
	require.NoError(t, err)
	unsearched := 0
	for _, item := range below {
		if item.LastSearchedAt == nil {
			unsearched++
		}
	}
	assert.Equal(t, 2, unsearched)
}

func TestUpgradeJob_SatisfiedExcludedFromSelection(t *testing.T) {
	cfg := testConfig()
	store := newMemStorage(cfg.Schedule.MaxDailySearches)
	manager := newFakeManager()

	// Satisfied row without the tag anymore: nothing to do
	big := 8 * gb
	require.NoError(t, store.Items().Upsert(context.Background(), &models.TrackedItem{
		TmdbID: 400, RadarrID: 40, Title: "done", SearchState: models.SearchStateSatisfied,
		FileSizeBytes: &big,
	}))

	job := NewUpgradeJob(store, manager, cfg, arbor.NewLogger(), false)
	report, err := job.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, report.Tagged)
	assert.Equal(t, 0, manager.searchCount())

	item, err := store.Items().Get(context.Background(), 400)
	require.NoError(t, err)
	assert.Equal(t, models.SearchStateSatisfied, item.SearchState)
}

func TestUpgradeJob_RetagReadmitsSatisfiedItem(t *testing.T) {
	cfg := testConfig()
	store := newMemStorage(cfg.Schedule.MaxDailySearches)
	manager := newFakeManager()
	upgradeTag, _ := manager.EnsureTag(context.Background(), "upgrade")

	// Previously satisfied, then the file shrank (replaced) and someone
	// re-applied the upgrade tag
	big := 8 * gb
	require.NoError(t, store.Items().Upsert(context.Background(), &models.TrackedItem{
		TmdbID: 500, RadarrID: 0, Title: "regressed", SearchState: models.SearchStateSatisfied,
		FileSizeBytes: &big,
	}))
	small := 1 * gb
	manager.addManaged(500, &small, upgradeTag)

	job := NewUpgradeJob(store, manager, cfg, arbor.NewLogger(), false)
	report, err := job.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Below)
	item, err := store.Items().Get(context.Background(), 500)
	require.NoError(t, err)
	assert.Equal(t, models.SearchStateBelowThreshold, item.SearchState)
}

func TestUpgradeJob_BackoffSkipsRecentlySearched(t *testing.T) {
	cfg := testConfig()
	cfg.Upgrade.SearchBackoff = common.Duration(24 * time.Hour)
	store := newMemStorage(cfg.Schedule.MaxDailySearches)
	manager := newFakeManager()
	upgradeTag, _ := manager.EnsureTag(context.Background(), "upgrade")

	small := 1 * gb
	manager.addManaged(600, &small, upgradeTag)

	// Item was searched an hour ago; inside the backoff window
	recent := time.Now().Add(-time.Hour)
	require.NoError(t, store.Items().Upsert(context.Background(), &models.TrackedItem{
		TmdbID: 600, RadarrID: 1, Title: "recent", SearchState: models.SearchStateBelowThreshold,
		FileSizeBytes: &small, LastSearchedAt: &recent,
	}))

	job := NewUpgradeJob(store, manager, cfg, arbor.NewLogger(), false)
	report, err := job.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Below)
	assert.Equal(t, 0, report.Searched)
	assert.Equal(t, 0, manager.searchCount())
}

func TestUpgradeJob_FairnessOrdersNeverSearchedFirst(t *testing.T) {
	cfg := testConfig()
	cfg.Schedule.SearchesPerRun = 1
	store := newMemStorage(cfg.Schedule.MaxDailySearches)
	manager := newFakeManager()
	upgradeTag, _ := manager.EnsureTag(context.Background(), "upgrade")

	small := 1 * gb
	searchedMovie := manager.addManaged(700, &small, upgradeTag)
	neverSearched := manager.addManaged(701, &small, upgradeTag)

	old := time.Now().Add(-72 * time.Hour)
	require.NoError(t, store.Items().Upsert(context.Background(), &models.TrackedItem{
		TmdbID: 700, RadarrID: searchedMovie.ID, Title: "searched once",
		SearchState: models.SearchStateBelowThreshold, FileSizeBytes: &small, LastSearchedAt: &old,
	}))

	job := NewUpgradeJob(store, manager, cfg, arbor.NewLogger(), false)
	report, err := job.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Searched)

	// The never-searched item wins the single slot
	require.Len(t, manager.searches, 1)
	assert.Equal(t, []int64{neverSearched.ID}, manager.searches[0])
}

func TestUpgradeJob_DryRunLeavesStateUntouched(t *testing.T) {
	cfg := testConfig()
	store := newMemStorage(cfg.Schedule.MaxDailySearches)
	manager := newFakeManager()
	upgradeTag, _ := manager.EnsureTag(context.Background(), "upgrade")

	small := 1 * gb
	movie := manager.addManaged(800, &small, upgradeTag)
	big := 8 * gb
	satisfiedMovie := manager.addManaged(801, &big, upgradeTag)

	itemsBefore, budgetBefore, locksBefore := store.snapshot()

	job := NewUpgradeJob(store, manager, cfg, arbor.NewLogger(), true)
	report, err := job.Run(context.Background())
	require.NoError(t, err)

	// Intent reported, selection drawn from in-memory classification
	assert.Equal(t, 1, report.Below)
	assert.Equal(t, 1, report.Satisfied)
	assert.Equal(t, 1, report.Searched)

	// No searches, no tag changes, no persisted writes
	assert.Equal(t, 0, manager.searchCount())
	assert.Empty(t, manager.tagUpdates[movie.ID])
	assert.Empty(t, manager.tagUpdates[satisfiedMovie.ID])

	itemsAfter, budgetAfter, locksAfter := store.snapshot()
	assert.Equal(t, itemsBefore, itemsAfter)
	assert.Equal(t, budgetBefore, budgetAfter)
	assert.Equal(t, locksBefore, locksAfter)
}
