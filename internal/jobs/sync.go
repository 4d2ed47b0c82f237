package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/listarr/internal/common"
	"github.com/ternarybob/listarr/internal/interfaces"
	"github.com/ternarybob/listarr/internal/models"
)

// LockNameSync is the run-lock key for the sync job.
const LockNameSync = "sync"

// SyncReport summarizes one sync cycle.
type SyncReport struct {
	Fetched  int  `json:"fetched"`
	Added    int  `json:"added"`
	Searched int  `json:"searched"`
	Failed   int  `json:"failed"`
	Skipped  bool `json:"skipped"`
}

// SyncJob reconciles the watchlist feeds against the tracked-item store,
// registers new movies with the download manager, and spends search
// budget on items still waiting for their first search.
type SyncJob struct {
	storage interfaces.StorageManager
	source  interfaces.WatchlistSource
	manager interfaces.MovieManager
	config  *common.Config
	logger  arbor.ILogger
	dryRun  bool
}

// NewSyncJob creates a sync job.
func NewSyncJob(storage interfaces.StorageManager, source interfaces.WatchlistSource, manager interfaces.MovieManager, config *common.Config, logger arbor.ILogger, dryRun bool) *SyncJob {
	return &SyncJob{
		storage: storage,
		source:  source,
		manager: manager,
		config:  config,
		logger:  logger,
		dryRun:  dryRun,
	}
}

// Run executes one sync cycle. A Busy lock skips the cycle without error.
func (j *SyncJob) Run(ctx context.Context) (*SyncReport, error) {
	report := &SyncReport{}
	owner := common.NewRunID()

	// A dry run must leave every persisted byte untouched, so it never
	// takes the lock either
	if !j.dryRun {
		err := j.storage.Locks().Acquire(ctx, LockNameSync, owner, time.Duration(j.config.Schedule.LockTTL))
		if errors.Is(err, interfaces.ErrBusy) {
			j.logger.Info().Str("job", LockNameSync).Msg("Sync already running, skipping tick")
			report.Skipped = true
			return report, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to acquire sync lock: %w", err)
		}
		defer func() {
			if err := j.storage.Locks().Release(context.Background(), LockNameSync, owner); err != nil {
				j.logger.Warn().Err(err).Msg("Failed to release sync lock")
			}
		}()
	}

	entries := j.fetchDesired(ctx)
	report.Fetched = len(entries)

	reconciled := j.reconcile(ctx, entries, report)

	if err := j.spendBudget(ctx, reconciled, report); err != nil {
		return report, err
	}

	j.logger.Info().
		Int("fetched", report.Fetched).
		Int("added", report.Added).
		Int("searched", report.Searched).
		Int("failed", report.Failed).
		Bool("dry_run", j.dryRun).
		Msg("Sync cycle complete")
	return report, nil
}

// fetchDesired returns the combined personal and friends watchlist.
// A failed fetch degrades to zero new items rather than aborting the run.
func (j *SyncJob) fetchDesired(ctx context.Context) []interfaces.WatchlistEntry {
	var entries []interfaces.WatchlistEntry

	personal, err := j.source.FetchWatchlist(ctx)
	if err != nil {
		j.logger.Warn().Err(err).Msg("Watchlist fetch failed, treating as empty")
	} else {
		entries = append(entries, personal...)
	}

	if j.config.Plex.Friends.Enabled {
		friends, err := j.source.FetchFriendsFeed(ctx)
		if err != nil {
			j.logger.Warn().Err(err).Msg("Friends feed fetch failed, treating as empty")
		} else {
			entries = append(entries, friends...)
		}
	}

	return entries
}

// reconcile creates tracked rows for unseen entries and registers them
// with the download manager. Registration failures leave the row in
// place so the next cycle retries. The returned items are the rows
// registered this cycle, which dry runs carry in memory instead of
// persisting.
func (j *SyncJob) reconcile(ctx context.Context, entries []interfaces.WatchlistEntry, report *SyncReport) []*models.TrackedItem {
	var reconciled []*models.TrackedItem
	for _, entry := range entries {
		if entry.TmdbID == 0 {
			continue
		}

		item, err := j.storage.Items().Get(ctx, entry.TmdbID)
		switch {
		case errors.Is(err, interfaces.ErrItemNotFound):
			item = &models.TrackedItem{
				TmdbID:      entry.TmdbID,
				ImdbID:      entry.ImdbID,
				Title:       entry.Title,
				Year:        entry.Year,
				Origin:      entry.Origin,
				SearchState: models.SearchStateNew,
			}
		case err != nil:
			j.logger.Error().Err(err).Int64("tmdb_id", entry.TmdbID).Msg("Item lookup failed")
			report.Failed++
			continue
		default:
			if item.InRadarr() {
				continue // already reconciled
			}
			// Row from a prior cycle whose registration failed; retry
		}

		radarrID, err := j.register(ctx, item)
		if err != nil {
			j.logger.Warn().Err(err).Str("title", item.Title).Msg("Failed to register movie, will retry next cycle")
			report.Failed++
		} else {
			item.RadarrID = radarrID
			reconciled = append(reconciled, item)
		}

		if j.dryRun {
			j.logger.Info().Str("title", item.Title).Int64("tmdb_id", item.TmdbID).Msg("[dry-run] Would track movie")
			report.Added++
			continue
		}

		if err := j.storage.Items().Upsert(ctx, item); err != nil {
			j.logger.Error().Err(err).Int64("tmdb_id", item.TmdbID).Msg("Failed to store item")
			report.Failed++
			continue
		}
		report.Added++
	}
	return reconciled
}

// register adds the movie to the download manager with its origin tags.
// An already-managed movie resolves to its existing id.
func (j *SyncJob) register(ctx context.Context, item *models.TrackedItem) (int64, error) {
	if j.dryRun {
		j.logger.Info().Str("title", item.Title).Str("origin", item.Origin.String()).Msg("[dry-run] Would add movie to Radarr")
		return 0, nil
	}

	tagIDs, err := j.originTags(ctx, item.Origin)
	if err != nil {
		return 0, err
	}

	movie, err := j.manager.AddMovie(ctx, interfaces.AddMovieRequest{
		TmdbID: item.TmdbID,
		Title:  item.Title,
		Year:   item.Year,
		TagIDs: tagIDs,
	})
	if errors.Is(err, interfaces.ErrAlreadyExists) {
		existing, lookupErr := j.manager.GetMovieByTmdbID(ctx, item.TmdbID)
		if lookupErr != nil {
			return 0, lookupErr
		}
		return existing.ID, nil
	}
	if err != nil {
		return 0, err
	}

	j.logger.Info().
		Str("title", item.Title).
		Int64("tmdb_id", item.TmdbID).
		Str("origin", item.Origin.String()).
		Msg("Added movie to Radarr")
	return movie.ID, nil
}

// originTags resolves the tag set for a new movie: the watchlist tag
// plus a friend tag when the item came from a friend's feed.
func (j *SyncJob) originTags(ctx context.Context, origin models.Origin) ([]int64, error) {
	var tagIDs []int64

	watchlistTag, err := j.manager.EnsureTag(ctx, j.config.Radarr.Tags.Watchlist)
	if err != nil {
		return nil, err
	}
	tagIDs = append(tagIDs, watchlistTag)

	if origin.IsFriend() && j.config.Plex.Friends.Tagging.Enabled {
		label := j.config.Plex.Friends.Tagging.TagPrefix + origin.Friend
		friendTag, err := j.manager.EnsureTag(ctx, label)
		if err != nil {
			return nil, err
		}
		tagIDs = append(tagIDs, friendTag)
	}

	return tagIDs, nil
}

// spendBudget selects waiting items oldest-first and triggers searches
// for as many as the shared daily budget grants.
func (j *SyncJob) spendBudget(ctx context.Context, reconciled []*models.TrackedItem, report *SyncReport) error {
	pool, err := j.storage.Items().List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list items: %w", err)
	}

	// Dry runs persist nothing, so rows registered this cycle exist only
	// in memory; a live run would have stored them before selection and
	// they are searchable the same way
	simulated := make(map[int64]bool)
	if j.dryRun {
		persisted := make(map[int64]bool, len(pool))
		for _, item := range pool {
			persisted[item.TmdbID] = true
		}
		for _, item := range reconciled {
			simulated[item.TmdbID] = true
			if !persisted[item.TmdbID] {
				pool = append(pool, item)
			}
		}
	}

	var candidates []*models.TrackedItem
	for _, item := range pool {
		if item.SearchState != models.SearchStateNew {
			continue
		}
		if !item.InRadarr() && !simulated[item.TmdbID] {
			continue
		}
		candidates = append(candidates, item)
		if len(candidates) >= j.config.Schedule.SearchesPerRun {
			break
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	granted, err := j.reserve(ctx, len(candidates))
	if err != nil {
		return fmt.Errorf("failed to reserve search budget: %w", err)
	}
	if granted == 0 {
		j.logger.Info().Int("waiting", len(candidates)).Msg("Daily search budget exhausted, deferring searches")
		return nil
	}

	now := time.Now()
	for _, item := range candidates[:granted] {
		if j.dryRun {
			j.logger.Info().Str("title", item.Title).Msg("[dry-run] Would trigger search")
			report.Searched++
			continue
		}

		if err := j.manager.TriggerSearch(ctx, []int64{item.RadarrID}); err != nil {
			// Item stays NEW so the next cycle retries it
			j.logger.Warn().Err(err).Str("title", item.Title).Msg("Search trigger failed")
			report.Failed++
			continue
		}

		item.SearchState = models.SearchStateRequested
		item.LastSearchedAt = &now
		if err := j.storage.Items().Upsert(ctx, item); err != nil {
			j.logger.Error().Err(err).Int64("tmdb_id", item.TmdbID).Msg("Failed to record search")
			report.Failed++
			continue
		}
		report.Searched++
		j.logger.Info().Str("title", item.Title).Msg("Triggered search")
	}

	return nil
}

// reserve draws from the shared daily budget. Dry runs compute the
// would-be grant from the remaining allowance without writing.
func (j *SyncJob) reserve(ctx context.Context, requested int) (int, error) {
	if j.dryRun {
		remaining, err := j.storage.Budget().Remaining(ctx)
		if err != nil {
			return 0, err
		}
		granted := min(requested, remaining, j.config.Schedule.SearchesPerRun)
		j.logger.Info().Int("granted", granted).Msg("[dry-run] Would reserve search budget")
		return granted, nil
	}
	return j.storage.Budget().Reserve(ctx, requested, j.config.Schedule.SearchesPerRun)
}
