package featurecache

import (
	"fmt"
	"path/filepath"

	"github.com/himanishpuri/LoopProfiler/internal/config"
	"github.com/himanishpuri/LoopProfiler/internal/features"
	"github.com/himanishpuri/LoopProfiler/pkg/logger"
)

// Open returns the cache backend selected by cfg, rooted at cfg.CachePath().
func Open(cfg *config.Config, log *logger.Logger) (features.Cache, error) {
	dir := cfg.CachePath()
	switch cfg.Cache.Backend {
	case config.CacheSQLite:
		return NewSQLite(filepath.Join(dir, DefaultDBFile))
	case config.CacheBadger:
		return NewBadger(BadgerOptions{Dir: filepath.Join(dir, "badger"), Logger: log})
	case config.CacheNone:
		return features.NopCache(), nil
	default:
		return nil, fmt.Errorf("%w: unknown cache backend %q", config.ErrInvalid, cfg.Cache.Backend)
	}
}
