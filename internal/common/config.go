package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Duration is a time.Duration that decodes TOML strings such as "2h"
// or "30s". go-toml does not decode strings into time.Duration itself,
// but it honors encoding.TextUnmarshaler.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// Config represents the application configuration
type Config struct {
	Environment string         `toml:"environment"` // "development" or "production"
	Storage     StorageConfig  `toml:"storage"`
	Logging     LoggingConfig  `toml:"logging"`
	Plex        PlexConfig     `toml:"plex"`
	Radarr      RadarrConfig   `toml:"radarr"`
	Schedule    ScheduleConfig `toml:"schedule"`
	Upgrade     UpgradeConfig  `toml:"upgrade"`
}

type StorageConfig struct {
	SQLite SQLiteConfig `toml:"sqlite"`
}

// SQLiteConfig represents SQLite-specific configuration
type SQLiteConfig struct {
	Path          string `toml:"path"`            // Database file path
	WALMode       bool   `toml:"wal_mode"`        // Enable WAL journal mode
	BusyTimeoutMS int    `toml:"busy_timeout_ms"` // SQLITE_BUSY retry window in milliseconds
	CacheSizeMB   int    `toml:"cache_size_mb"`   // Page cache size in MB
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// PlexConfig contains the remote Plex watchlist source configuration
type PlexConfig struct {
	BaseURL        string        `toml:"base_url"`        // Remote metadata provider (e.g. https://metadata.provider.plex.tv)
	Token          string        `toml:"token"`           // X-Plex-Token
	RequestTimeout Duration      `toml:"request_timeout"` // HTTP request timeout
	Friends        FriendsConfig `toml:"friends"`
}

// FriendsConfig controls the optional friends watchlist RSS feed
type FriendsConfig struct {
	Enabled bool          `toml:"enabled"`
	FeedURL string        `toml:"feed_url"`
	Tagging TaggingConfig `toml:"tagging"`
}

// TaggingConfig controls friend-origin tagging via Jellyseerr name resolution
type TaggingConfig struct {
	Enabled        bool              `toml:"enabled"`
	JellyseerrURL  string            `toml:"jellyseerr_url"`
	APIKey         string            `toml:"api_key"`
	TagPrefix      string            `toml:"tag_prefix"`      // Prepended to the resolved name (default "friend-")
	DefaultName    string            `toml:"default_name"`    // Label used when a Plex id cannot be resolved
	ManualMappings map[string]string `toml:"manual_mappings"` // plex id -> name overrides, take precedence over Jellyseerr
}

// RadarrConfig contains the download manager configuration
type RadarrConfig struct {
	URL                 string           `toml:"url"`
	APIKey              string           `toml:"api_key"`
	RootFolder          string           `toml:"root_folder"`
	QualityProfileID    int64            `toml:"quality_profile_id"`
	MinimumAvailability string           `toml:"minimum_availability"`
	RequestTimeout      Duration         `toml:"request_timeout"`
	Tags                RadarrTagsConfig `toml:"tags"`
}

// RadarrTagsConfig names the tags the jobs manage. Labels are resolved to
// Radarr tag ids at startup (created if missing).
type RadarrTagsConfig struct {
	Watchlist string `toml:"watchlist"`
	Upgrade   string `toml:"upgrade"`
}

// ScheduleConfig drives the two job timers and the shared search budget
type ScheduleConfig struct {
	SyncIntervalMinutes    int      `toml:"sync_interval_minutes"`
	UpgradeIntervalMinutes int      `toml:"upgrade_interval_minutes"`
	MaxDailySearches       int      `toml:"max_daily_searches"` // Shared daily ceiling across both jobs
	SearchesPerRun         int      `toml:"searches_per_run"`   // Per-invocation ceiling
	LockTTL                Duration `toml:"lock_ttl"`           // Run lock staleness timeout
}

// UpgradeConfig controls the quality threshold for the upgrade job
type UpgradeConfig struct {
	MinFileSizeGB float64  `toml:"min_file_size_gb"` // Closed lower bound: size >= threshold is satisfied
	SearchBackoff Duration `toml:"search_backoff"`   // Minimum gap between searches for the same item
}

// MinThresholdBytes converts the configured GB threshold to bytes.
func (u UpgradeConfig) MinThresholdBytes() int64 {
	return int64(u.MinFileSizeGB * float64(1<<30))
}

// NewDefaultConfig creates a configuration with default values.
// Only user-facing settings are exposed in listarr.toml; technical
// parameters are hardcoded here for production stability.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Storage: StorageConfig{
			SQLite: SQLiteConfig{
				Path:          "./data/listarr.db",
				WALMode:       true,
				BusyTimeoutMS: 10000,
				CacheSizeMB:   16,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
		Plex: PlexConfig{
			BaseURL:        "https://metadata.provider.plex.tv",
			RequestTimeout: Duration(30 * time.Second),
			Friends: FriendsConfig{
				Tagging: TaggingConfig{
					TagPrefix:   "friend-",
					DefaultName: "unknown",
				},
			},
		},
		Radarr: RadarrConfig{
			QualityProfileID:    1,
			MinimumAvailability: "announced",
			RequestTimeout:      Duration(30 * time.Second),
			Tags: RadarrTagsConfig{
				Watchlist: "watchlist",
				Upgrade:   "upgrade",
			},
		},
		Schedule: ScheduleConfig{
			SyncIntervalMinutes:    60,
			UpgradeIntervalMinutes: 120,
			MaxDailySearches:       20,
			SearchesPerRun:         3,
			LockTTL:                Duration(2 * time.Hour),
		},
		Upgrade: UpgradeConfig{
			MinFileSizeGB: 4.0,
			SearchBackoff: Duration(24 * time.Hour),
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env. Later files override earlier ones.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("LISTARR_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if path := os.Getenv("LISTARR_SQLITE_PATH"); path != "" {
		config.Storage.SQLite.Path = path
	}

	if level := os.Getenv("LISTARR_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if token := os.Getenv("LISTARR_PLEX_TOKEN"); token != "" {
		config.Plex.Token = token
	}

	if url := os.Getenv("LISTARR_RADARR_URL"); url != "" {
		config.Radarr.URL = url
	}
	if apiKey := os.Getenv("LISTARR_RADARR_API_KEY"); apiKey != "" {
		config.Radarr.APIKey = apiKey
	}

	if maxDaily := os.Getenv("LISTARR_MAX_DAILY_SEARCHES"); maxDaily != "" {
		if m, err := strconv.Atoi(maxDaily); err == nil {
			config.Schedule.MaxDailySearches = m
		}
	}
	if perRun := os.Getenv("LISTARR_SEARCHES_PER_RUN"); perRun != "" {
		if p, err := strconv.Atoi(perRun); err == nil {
			config.Schedule.SearchesPerRun = p
		}
	}
}

// Validate checks that required settings are present and intervals are sane
func (c *Config) Validate() error {
	if c.Radarr.URL == "" {
		return fmt.Errorf("radarr.url is required")
	}
	if c.Radarr.APIKey == "" {
		return fmt.Errorf("radarr.api_key is required")
	}
	if c.Radarr.RootFolder == "" {
		return fmt.Errorf("radarr.root_folder is required")
	}
	if c.Plex.Token == "" {
		return fmt.Errorf("plex.token is required")
	}
	if c.Schedule.SyncIntervalMinutes <= 0 {
		return fmt.Errorf("schedule.sync_interval_minutes must be positive, got %d", c.Schedule.SyncIntervalMinutes)
	}
	if c.Schedule.UpgradeIntervalMinutes <= 0 {
		return fmt.Errorf("schedule.upgrade_interval_minutes must be positive, got %d", c.Schedule.UpgradeIntervalMinutes)
	}
	if c.Schedule.MaxDailySearches < 0 {
		return fmt.Errorf("schedule.max_daily_searches must not be negative, got %d", c.Schedule.MaxDailySearches)
	}
	if c.Schedule.SearchesPerRun <= 0 {
		return fmt.Errorf("schedule.searches_per_run must be positive, got %d", c.Schedule.SearchesPerRun)
	}
	if c.Schedule.LockTTL <= 0 {
		return fmt.Errorf("schedule.lock_ttl must be positive, got %s", c.Schedule.LockTTL)
	}
	return nil
}
