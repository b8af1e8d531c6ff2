// Package config defines service configuration structures and loading hooks.
//
// Configuration is layered: defaults from New, then an optional YAML file
// named by TATAMI_CONFIG, then TATAMI_* environment variables.
package config

import (
	"context"
	"fmt"
	"runtime"

	"github.com/okian/tatami/internal/domain/rating"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects "text" or "json" log output.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// KFactor is the ELO K used for stakes previews and settlement.
	KFactor int `koanf:"k_factor"`

	// StartingRating is assigned to newly registered athletes.
	StartingRating int `koanf:"starting_rating"`

	// WeightClassWidth is the bucket size, in the app's weight unit, for the
	// weight-class gap report.
	WeightClassWidth float64 `koanf:"weight_class_width"`

	// ResultQueueSize bounds the in-memory result queue.
	ResultQueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of result workers.
	WorkerCount int `koanf:"worker_count"`

	// DedupeSize sets the size of the submission deduplication cache.
	DedupeSize int `koanf:"dedupe_size"`

	// MaxLeaderboardLimit caps GET /leaderboard?limit.
	MaxLeaderboardLimit int `koanf:"max_leaderboard_limit"`

	// PreviewRatePerSec and PreviewBurst limit POST /stakes per client.
	PreviewRatePerSec float64 `koanf:"preview_rate_per_sec"`
	PreviewBurst      int     `koanf:"preview_burst"`
}

// New creates a Config with defaults.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:            "info",
		LogFormat:           "text",
		Addr:                ":9080",
		KFactor:             rating.DefaultKFactor,
		StartingRating:      rating.StartingRating,
		WeightClassWidth:    rating.DefaultWeightClassWidth,
		ResultQueueSize:     10_000,
		WorkerCount:         runtime.NumCPU(),
		DedupeSize:          50_000,
		MaxLeaderboardLimit: 100,
		PreviewRatePerSec:   20,
		PreviewBurst:        40,
	}
}

// Validate checks the values the rating engine and the server depend on.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json":
		return fmt.Errorf("%w: log_format must be text or json, got %q", ErrInvalidConfig, c.LogFormat)
	case c.KFactor <= 0 || c.KFactor > rating.MaxKFactor:
		return fmt.Errorf("%w: k_factor must be in 1..%d, got %d", ErrInvalidConfig, rating.MaxKFactor, c.KFactor)
	case c.StartingRating < 0 || c.StartingRating > rating.MaxRating:
		return fmt.Errorf("%w: starting_rating must be in 0..%d, got %d", ErrInvalidConfig, rating.MaxRating, c.StartingRating)
	case c.WeightClassWidth <= 0:
		return fmt.Errorf("%w: weight_class_width must be positive, got %g", ErrInvalidConfig, c.WeightClassWidth)
	case c.ResultQueueSize <= 0:
		return fmt.Errorf("%w: queue_size must be positive, got %d", ErrInvalidConfig, c.ResultQueueSize)
	case c.WorkerCount <= 0:
		return fmt.Errorf("%w: worker_count must be positive, got %d", ErrInvalidConfig, c.WorkerCount)
	case c.DedupeSize <= 0:
		return fmt.Errorf("%w: dedupe_size must be positive, got %d", ErrInvalidConfig, c.DedupeSize)
	case c.MaxLeaderboardLimit <= 0:
		return fmt.Errorf("%w: max_leaderboard_limit must be positive, got %d", ErrInvalidConfig, c.MaxLeaderboardLimit)
	case c.PreviewRatePerSec <= 0 || c.PreviewBurst <= 0:
		return fmt.Errorf("%w: preview rate and burst must be positive", ErrInvalidConfig)
	}
	return nil
}
