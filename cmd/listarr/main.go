package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/listarr/internal/app"
	"github.com/ternarybob/listarr/internal/common"
	"github.com/ternarybob/listarr/internal/jobs"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	// Command-line flags
	configFiles  configPaths // Multiple -config flags supported
	runSyncOnce  = flag.Bool("run-sync-once", false, "Run the sync job once and exit")
	runUpgOnce   = flag.Bool("run-upgrade-once", false, "Run the upgrade job once and exit")
	dryRun       = flag.Bool("dry-run", false, "Log intended actions without mutating anything")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")

	// Global state
	config *common.Config
	logger arbor.ILogger
)

func init() {
	// Register custom flag for multiple config files
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("Listarr version %s\n", common.GetVersion())
		os.Exit(0)
	}

	// Startup sequence (REQUIRED ORDER):
	// 1. Load config (defaults -> file1 -> file2 -> ... -> env)
	// 2. Initialize logger
	// 3. Print banner
	var err error

	// Auto-discover config file if not specified
	if len(configFiles) == 0 {
		if _, err := os.Stat("listarr.toml"); err == nil {
			configFiles = append(configFiles, "listarr.toml")
		} else if _, err := os.Stat("deployments/local/listarr.toml"); err == nil {
			configFiles = append(configFiles, "deployments/local/listarr.toml")
		}
	}

	config, err = common.LoadFromFiles(configFiles...)
	if err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Fatal().Strs("paths", configFiles).Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}

	logger = common.InitLogger(config)
	common.PrintBanner(common.GetVersion())

	logger.Info().
		Strs("config_files", configFiles).
		Str("sqlite_path", config.Storage.SQLite.Path).
		Bool("dry_run", *dryRun).
		Msg("Application configuration loaded")

	application, err := app.New(config, logger, *dryRun)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize application")
		os.Exit(1)
	}
	defer application.Close()

	// One-shot modes bypass the timers; lock and budget semantics are
	// identical to scheduled runs
	if *runSyncOnce || *runUpgOnce {
		code := runOnce(application)
		application.Close()
		os.Exit(code)
	}

	if err := runScheduler(application); err != nil {
		logger.Fatal().Err(err).Msg("Scheduler failed to start")
		os.Exit(1)
	}
}

// runOnce invokes the requested job bodies directly and returns the
// process exit code.
func runOnce(application *app.App) int {
	ctx := context.Background()
	exitCode := 0

	if *runSyncOnce {
		report, err := application.SyncJob.Run(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("Sync run failed")
			exitCode = 1
		} else {
			logger.Info().
				Int("added", report.Added).
				Int("searched", report.Searched).
				Msg("Sync run finished")
		}
	}

	if *runUpgOnce {
		report, err := application.UpgradeJob.Run(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("Upgrade run failed")
			exitCode = 1
		} else {
			logger.Info().
				Int("satisfied", report.Satisfied).
				Int("searched", report.Searched).
				Msg("Upgrade run finished")
		}
	}

	return exitCode
}

// runScheduler registers both jobs on their intervals and blocks until
// an interrupt. Individual job failures are logged by the scheduler and
// never terminate the process.
func runScheduler(application *app.App) error {
	syncInterval := time.Duration(config.Schedule.SyncIntervalMinutes) * time.Minute
	upgradeInterval := time.Duration(config.Schedule.UpgradeIntervalMinutes) * time.Minute

	if err := application.Scheduler.RegisterJob(jobs.LockNameSync, syncInterval, func() error {
		_, err := application.SyncJob.Run(context.Background())
		return err
	}); err != nil {
		return err
	}

	if err := application.Scheduler.RegisterJob(jobs.LockNameUpgrade, upgradeInterval, func() error {
		_, err := application.UpgradeJob.Run(context.Background())
		return err
	}); err != nil {
		return err
	}

	if err := application.Scheduler.Start(); err != nil {
		return err
	}

	logger.Info().
		Dur("sync_interval", syncInterval).
		Dur("upgrade_interval", upgradeInterval).
		Msg("Scheduler running - Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("Interrupt signal received, shutting down")
	if err := application.Scheduler.Stop(); err != nil {
		logger.Error().Err(err).Msg("Scheduler shutdown failed")
	}

	return nil
}
