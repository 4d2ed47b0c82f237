package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/listarr/internal/common"
	"github.com/ternarybob/listarr/internal/interfaces"
	"github.com/ternarybob/listarr/internal/models"
)

// LockNameUpgrade is the run-lock key for the upgrade job.
const LockNameUpgrade = "upgrade"

// UpgradeReport summarizes one upgrade cycle.
type UpgradeReport struct {
	Tagged    int  `json:"tagged"`
	Satisfied int  `json:"satisfied"`
	Below     int  `json:"below_threshold"`
	Searched  int  `json:"searched"`
	Skipped   bool `json:"skipped"`
}

// UpgradeJob drives upgrade-tagged movies toward the quality threshold:
// it syncs observed file sizes, retires movies that now meet the
// threshold, and spends search budget on the rest.
type UpgradeJob struct {
	storage interfaces.StorageManager
	manager interfaces.MovieManager
	config  *common.Config
	logger  arbor.ILogger
	dryRun  bool
}

// NewUpgradeJob creates an upgrade job.
func NewUpgradeJob(storage interfaces.StorageManager, manager interfaces.MovieManager, config *common.Config, logger arbor.ILogger, dryRun bool) *UpgradeJob {
	return &UpgradeJob{
		storage: storage,
		manager: manager,
		config:  config,
		logger:  logger,
		dryRun:  dryRun,
	}
}

// Run executes one upgrade cycle. A Busy lock skips the cycle without error.
func (j *UpgradeJob) Run(ctx context.Context) (*UpgradeReport, error) {
	report := &UpgradeReport{}
	owner := common.NewRunID()

	if !j.dryRun {
		err := j.storage.Locks().Acquire(ctx, LockNameUpgrade, owner, time.Duration(j.config.Schedule.LockTTL))
		if errors.Is(err, interfaces.ErrBusy) {
			j.logger.Info().Str("job", LockNameUpgrade).Msg("Upgrade already running, skipping tick")
			report.Skipped = true
			return report, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to acquire upgrade lock: %w", err)
		}
		defer func() {
			if err := j.storage.Locks().Release(context.Background(), LockNameUpgrade, owner); err != nil {
				j.logger.Warn().Err(err).Msg("Failed to release upgrade lock")
			}
		}()
	}

	upgradeTagID, err := j.manager.EnsureTag(ctx, j.config.Radarr.Tags.Upgrade)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve upgrade tag: %w", err)
	}

	tagged, err := j.taggedMovies(ctx, upgradeTagID)
	if err != nil {
		return nil, err
	}
	report.Tagged = len(tagged)

	// Classification always completes in full, independent of whatever
	// search budget remains for this run
	threshold := j.config.Upgrade.MinThresholdBytes()
	var classified []*models.TrackedItem
	for i := range tagged {
		if item := j.classify(ctx, &tagged[i], threshold, upgradeTagID, report); item != nil {
			classified = append(classified, item)
		}
	}

	if err := j.spendBudget(ctx, classified, report); err != nil {
		return report, err
	}

	j.logger.Info().
		Int("tagged", report.Tagged).
		Int("satisfied", report.Satisfied).
		Int("below_threshold", report.Below).
		Int("searched", report.Searched).
		Bool("dry_run", j.dryRun).
		Msg("Upgrade cycle complete")
	return report, nil
}

// taggedMovies returns every managed movie currently bearing the upgrade tag.
func (j *UpgradeJob) taggedMovies(ctx context.Context, tagID int64) ([]interfaces.ManagedMovie, error) {
	movies, err := j.manager.GetMovies(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list movies: %w", err)
	}

	var tagged []interfaces.ManagedMovie
	for _, m := range movies {
		for _, t := range m.TagIDs {
			if t == tagID {
				tagged = append(tagged, m)
				break
			}
		}
	}
	return tagged, nil
}

// classify syncs the observed file size onto the tracked row and settles
// its state: at or above the threshold the item is satisfied and the
// upgrade tag comes off; below it (or with no file at all) the item
// becomes eligible for search. Tagging is an independent entry point, so
// a tagged movie with no tracked row gets one here.
func (j *UpgradeJob) classify(ctx context.Context, movie *interfaces.ManagedMovie, threshold int64, upgradeTagID int64, report *UpgradeReport) *models.TrackedItem {
	item, err := j.storage.Items().Get(ctx, movie.TmdbID)
	if errors.Is(err, interfaces.ErrItemNotFound) {
		item = &models.TrackedItem{
			TmdbID:      movie.TmdbID,
			RadarrID:    movie.ID,
			Title:       movie.Title,
			Year:        movie.Year,
			Origin:      models.OriginSelf(),
			SearchState: models.SearchStateNew,
		}
	} else if err != nil {
		j.logger.Error().Err(err).Int64("tmdb_id", movie.TmdbID).Msg("Item lookup failed")
		return nil
	}

	item.RadarrID = movie.ID
	if movie.HasFile && movie.File != nil {
		size := movie.File.SizeBytes
		item.FileSizeBytes = &size
	} else {
		item.FileSizeBytes = nil
	}

	// A missing file is never satisfied, whatever the threshold
	if item.MeetsThreshold(threshold) {
		item.SearchState = models.SearchStateSatisfied
		report.Satisfied++
		j.untag(ctx, movie, upgradeTagID, item.Title)
	} else {
		item.SearchState = models.SearchStateBelowThreshold
		report.Below++
	}

	if j.dryRun {
		j.logger.Info().
			Str("title", item.Title).
			Str("state", string(item.SearchState)).
			Msg("[dry-run] Would classify movie")
		return item
	}

	if err := j.storage.Items().Upsert(ctx, item); err != nil {
		j.logger.Error().Err(err).Int64("tmdb_id", item.TmdbID).Msg("Failed to store classification")
	}
	return item
}

// untag removes the upgrade tag from a satisfied movie. Removing an
// absent tag is not an error.
func (j *UpgradeJob) untag(ctx context.Context, movie *interfaces.ManagedMovie, upgradeTagID int64, title string) {
	if j.dryRun {
		j.logger.Info().Str("title", title).Msg("[dry-run] Would remove upgrade tag")
		return
	}

	remaining := make([]int64, 0, len(movie.TagIDs))
	for _, t := range movie.TagIDs {
		if t != upgradeTagID {
			remaining = append(remaining, t)
		}
	}
	if len(remaining) == len(movie.TagIDs) {
		return // tag already absent
	}

	if err := j.manager.SetMovieTags(ctx, movie.ID, remaining); err != nil {
		j.logger.Warn().Err(err).Str("title", title).Msg("Failed to remove upgrade tag")
		return
	}
	j.logger.Info().Str("title", title).Msg("Quality threshold met, removed upgrade tag")
}

// spendBudget selects below-threshold items fairly (never-searched first,
// then longest-unsearched, then smallest file) and triggers searches for
// as many as the shared daily budget grants. Items searched within the
// backoff window sit out this cycle.
func (j *UpgradeJob) spendBudget(ctx context.Context, classified []*models.TrackedItem, report *UpgradeReport) error {
	var below []*models.TrackedItem
	if j.dryRun {
		// Classification was not persisted; select from the in-memory
		// results with the same fairness ordering the store applies
		for _, item := range classified {
			if item.SearchState == models.SearchStateBelowThreshold {
				below = append(below, item)
			}
		}
		sort.SliceStable(below, func(a, b int) bool {
			ta, tb := below[a].LastSearchedAt, below[b].LastSearchedAt
			if (ta == nil) != (tb == nil) {
				return ta == nil
			}
			if ta != nil && !ta.Equal(*tb) {
				return ta.Before(*tb)
			}
			sa, sb := below[a].FileSizeBytes, below[b].FileSizeBytes
			if (sa == nil) != (sb == nil) {
				return sa == nil
			}
			if sa != nil && *sa != *sb {
				return *sa < *sb
			}
			return below[a].TmdbID < below[b].TmdbID
		})
	} else {
		var err error
		below, err = j.storage.Items().ListByState(ctx, models.SearchStateBelowThreshold)
		if err != nil {
			return fmt.Errorf("failed to list below-threshold items: %w", err)
		}
	}

	now := time.Now()
	backoff := time.Duration(j.config.Upgrade.SearchBackoff)

	var candidates []*models.TrackedItem
	for _, item := range below {
		if !item.InRadarr() {
			continue
		}
		if item.LastSearchedAt != nil && now.Sub(*item.LastSearchedAt) < backoff {
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
		j.logger.Info().Int("waiting", len(candidates)).Msg("Daily search budget exhausted, deferring upgrade searches")
		return nil
	}

	for _, item := range candidates[:granted] {
		if j.dryRun {
			j.logger.Info().Str("title", item.Title).Msg("[dry-run] Would trigger upgrade search")
			report.Searched++
			continue
		}

		if err := j.manager.TriggerSearch(ctx, []int64{item.RadarrID}); err != nil {
			j.logger.Warn().Err(err).Str("title", item.Title).Msg("Upgrade search trigger failed")
			continue
		}

		item.LastSearchedAt = &now
		if err := j.storage.Items().Upsert(ctx, item); err != nil {
			j.logger.Error().Err(err).Int64("tmdb_id", item.TmdbID).Msg("Failed to record upgrade search")
			continue
		}
		report.Searched++
		j.logger.Info().Str("title", item.Title).Msg("Triggered upgrade search")
	}

	return nil
}

// reserve draws from the shared daily budget, computing (but not
// committing) the grant on dry runs.
func (j *UpgradeJob) reserve(ctx context.Context, requested int) (int, error) {
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
