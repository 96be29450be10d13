package loopprofiler

import (
	"time"

	"github.com/himanishpuri/LoopProfiler/internal/audio"
	"github.com/himanishpuri/LoopProfiler/internal/candidates"
	"github.com/himanishpuri/LoopProfiler/internal/config"
	"github.com/himanishpuri/LoopProfiler/internal/features"
	"github.com/himanishpuri/LoopProfiler/pkg/logger"
)

type options struct {
	settings *config.Config
	dataDir  string
	logger   *logger.Logger
	decoder  audio.Loader
	cache    features.Cache
	exec     candidates.Executor
	clock    func() time.Time
	debounce *time.Duration
}

type Option func(*options)

// WithConfig uses settings loaded with config.Load instead of the defaults.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) {
		o.settings = cfg
	}
}

// WithDataDir overrides the directory holding the feedback document, the
// model and the feature cache.
func WithDataDir(dir string) Option {
	return func(o *options) {
		o.dataDir = dir
	}
}

func WithLogger(log *logger.Logger) Option {
	return func(o *options) {
		o.logger = log
	}
}

// WithDecoder replaces the ffmpeg/WAV decoder.
func WithDecoder(d audio.Loader) Option {
	return func(o *options) {
		o.decoder = d
	}
}

// WithCache replaces the configured feature cache backend.
func WithCache(c features.Cache) Option {
	return func(o *options) {
		o.cache = c
	}
}

// WithExecutor replaces the process runner used for the loop finder.
func WithExecutor(e candidates.Executor) Option {
	return func(o *options) {
		o.exec = e
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.clock = now
	}
}

// WithRetrainDebounce overrides scorer.retrain_debounce.
func WithRetrainDebounce(d time.Duration) Option {
	return func(o *options) {
		o.debounce = &d
	}
}

func defaultOptions() *options {
	return &options{clock: time.Now}
}
