package config

import (
	"fmt"

	"github.com/himanishpuri/LoopProfiler/pkg/logger"
)

// Validate checks the configuration for values the rest of the system cannot use.
func (c *Config) Validate() error {
	if c.Paths.DataDir == "" {
		return fmt.Errorf("%w: paths.data_dir is required", ErrInvalid)
	}
	if c.Paths.FeedbackFile == "" || c.Paths.ModelFile == "" {
		return fmt.Errorf("%w: paths.feedback_file and paths.model_file are required", ErrInvalid)
	}

	switch c.Cache.Backend {
	case CacheSQLite, CacheBadger:
		if c.Paths.CacheDir == "" {
			return fmt.Errorf("%w: paths.cache_dir is required for the %s cache", ErrInvalid, c.Cache.Backend)
		}
	case CacheNone:
	default:
		return fmt.Errorf("%w: unknown cache.backend %q (want sqlite, badger or none)", ErrInvalid, c.Cache.Backend)
	}

	if c.Extraction.Workers < 1 {
		return fmt.Errorf("%w: extraction.workers must be >= 1, got %d", ErrInvalid, c.Extraction.Workers)
	}
	if c.Candidates.Top < 1 {
		return fmt.Errorf("%w: candidates.top must be >= 1, got %d", ErrInvalid, c.Candidates.Top)
	}
	if c.Audio.Timeout.Duration < 0 || c.Candidates.Timeout.Duration < 0 || c.Scorer.RetrainDebounce.Duration < 0 {
		return fmt.Errorf("%w: durations must not be negative", ErrInvalid)
	}
	if _, ok := logger.ParseLevel(c.Logging.Level); !ok {
		return fmt.Errorf("%w: unknown logging.level %q", ErrInvalid, c.Logging.Level)
	}
	return nil
}

// LogLevel returns the parsed logging level.
func (c *Config) LogLevel() logger.LogLevel {
	lvl, _ := logger.ParseLevel(c.Logging.Level)
	return lvl
}
