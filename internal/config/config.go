// Package config reads application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Sentinel errors for missing required settings.
var (
	ErrMissingDatabaseURL  = errors.New("missing DATABASE_URL environment variable")
	ErrMissingLastfmAPIKey = errors.New("missing LASTFM_API_KEY environment variable")
	ErrMissingLastfmUser   = errors.New("missing LASTFM_USER environment variable")
	ErrMissingSpotifyCreds = errors.New("missing SPOTIFY_ID or SPOTIFY_SECRET environment variable")
)

// Sync defaults. All tunable via environment variables.
const (
	DefaultPagesPerChunk  = 50
	DefaultErrorCeiling   = 3
	DefaultResumeOverlap  = 5 * time.Minute
	DefaultSyncInterval   = 1 * time.Hour
	DefaultBackfillBatch  = 200
	DefaultListenAddr     = "127.0.0.1:8090"
	DefaultFirstSyncStart = "2019-01-01"
)

// Config holds all application configuration.
type Config struct {
	DatabaseURL string

	LastfmAPIKey string
	LastfmUser   string

	SpotifyID     string
	SpotifySecret string

	Sync SyncConfig

	ListenAddr string
}

// SyncConfig holds the history sync tunables.
type SyncConfig struct {
	// PagesPerChunk caps how many pages are fetched inside one chunk.
	PagesPerChunk int

	// ErrorCeiling is the consecutive chunk failure count that aborts a run.
	ErrorCeiling int

	// ResumeOverlap is subtracted from the last high-water mark so boundary
	// plays are not missed across runs.
	ResumeOverlap time.Duration

	// Interval between scheduled incremental syncs.
	Interval time.Duration

	// FirstSyncStart is the fallback range start when the event source does
	// not report an account registration time.
	FirstSyncStart time.Time

	// BackfillBatch is how many unmatched tracks one backfill pass loads.
	BackfillBatch int
}

// Load reads configuration from environment variables. Required settings
// produce sentinel errors when absent; tunables fall back to defaults.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		LastfmAPIKey:  os.Getenv("LASTFM_API_KEY"),
		LastfmUser:    os.Getenv("LASTFM_USER"),
		SpotifyID:     os.Getenv("SPOTIFY_ID"),
		SpotifySecret: os.Getenv("SPOTIFY_SECRET"),
		ListenAddr:    envOr("LISTEN_ADDR", DefaultListenAddr),
	}

	if cfg.DatabaseURL == "" {
		return nil, ErrMissingDatabaseURL
	}
	if cfg.LastfmAPIKey == "" {
		return nil, ErrMissingLastfmAPIKey
	}
	if cfg.LastfmUser == "" {
		return nil, ErrMissingLastfmUser
	}
	if cfg.SpotifyID == "" || cfg.SpotifySecret == "" {
		return nil, ErrMissingSpotifyCreds
	}

	sync, err := loadSync()
	if err != nil {
		return nil, err
	}
	cfg.Sync = *sync

	return cfg, nil
}

// loadSync reads the sync tunables, applying defaults for unset variables.
func loadSync() (*SyncConfig, error) {
	cfg := &SyncConfig{
		PagesPerChunk: DefaultPagesPerChunk,
		ErrorCeiling:  DefaultErrorCeiling,
		ResumeOverlap: DefaultResumeOverlap,
		Interval:      DefaultSyncInterval,
		BackfillBatch: DefaultBackfillBatch,
	}

	var err error
	if cfg.PagesPerChunk, err = envInt("SYNC_PAGES_PER_CHUNK", cfg.PagesPerChunk); err != nil {
		return nil, err
	}
	if cfg.ErrorCeiling, err = envInt("SYNC_ERROR_CEILING", cfg.ErrorCeiling); err != nil {
		return nil, err
	}
	if cfg.BackfillBatch, err = envInt("SYNC_BACKFILL_BATCH", cfg.BackfillBatch); err != nil {
		return nil, err
	}
	if cfg.ResumeOverlap, err = envDuration("SYNC_RESUME_OVERLAP", cfg.ResumeOverlap); err != nil {
		return nil, err
	}
	if cfg.Interval, err = envDuration("SYNC_INTERVAL", cfg.Interval); err != nil {
		return nil, err
	}

	start := envOr("SYNC_FIRST_START", DefaultFirstSyncStart)
	cfg.FirstSyncStart, err = time.Parse("2006-01-02", start)
	if err != nil {
		return nil, fmt.Errorf("parsing SYNC_FIRST_START: %w", err)
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return n, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return d, nil
}
