package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/listarr/internal/common"
	"github.com/ternarybob/listarr/internal/interfaces"
	"github.com/ternarybob/listarr/internal/jobs"
	"github.com/ternarybob/listarr/internal/services/jellyseerr"
	"github.com/ternarybob/listarr/internal/services/plex"
	"github.com/ternarybob/listarr/internal/services/radarr"
	"github.com/ternarybob/listarr/internal/services/scheduler"
	"github.com/ternarybob/listarr/internal/storage/sqlite"
)

// App wires together storage, the external service clients, the two
// jobs, and the scheduler.
type App struct {
	Config  *common.Config
	Logger  arbor.ILogger
	Storage interfaces.StorageManager

	Watchlist interfaces.WatchlistSource
	Movies    interfaces.MovieManager

	SyncJob    *jobs.SyncJob
	UpgradeJob *jobs.UpgradeJob
	Scheduler  *scheduler.Service
}

// New initializes the application. A store that cannot be opened is a
// fatal startup error; unreachable external services are not, since jobs
// retry them every tick.
func New(config *common.Config, logger arbor.ILogger, dryRun bool) (*App, error) {
	storage, err := openStorage(config, logger)
	if err != nil {
		return nil, err
	}

	var resolver interfaces.NameResolver
	tagging := &config.Plex.Friends.Tagging
	if tagging.Enabled && tagging.JellyseerrURL != "" {
		resolver = jellyseerr.NewClient(tagging, jellyseerr.WithLogger(logger))
	}

	watchlist := plex.NewClient(&config.Plex,
		plex.WithLogger(logger),
		plex.WithNameResolver(resolver),
	)

	movies := radarr.NewClient(&config.Radarr, radarr.WithLogger(logger))

	a := &App{
		Config:     config,
		Logger:     logger,
		Storage:    storage,
		Watchlist:  watchlist,
		Movies:     movies,
		SyncJob:    jobs.NewSyncJob(storage, watchlist, movies, config, logger, dryRun),
		UpgradeJob: jobs.NewUpgradeJob(storage, movies, config, logger, dryRun),
		Scheduler:  scheduler.NewService(logger),
	}

	if err := movies.Ping(context.Background()); err != nil {
		logger.Warn().Err(err).Msg("Radarr unreachable at startup, jobs will retry")
	}

	return a, nil
}

func openStorage(config *common.Config, logger arbor.ILogger) (interfaces.StorageManager, error) {
	storage, err := sqlite.NewManager(logger, &config.Storage.SQLite, config.Schedule.MaxDailySearches)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return storage, nil
}

// Close releases application resources
func (a *App) Close() error {
	if a.Storage != nil {
		return a.Storage.Close()
	}
	return nil
}
