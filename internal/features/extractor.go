// Package features measures how cleanly a loop candidate joins: a four
// component vector computed from short windows around the loop start and
// end, cached per candidate.
package features

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/himanishpuri/LoopProfiler/internal/audio"
	"github.com/himanishpuri/LoopProfiler/pkg/logger"
)

// ErrNoDecoder is returned by New without an audio decoder.
var ErrNoDecoder = errors.New("features: no audio decoder configured")

type Config struct {
	Decoder audio.Loader
	// Cache defaults to a MemoryCache.
	Cache   Cache
	Workers int
	Logger  *logger.Logger
}

// Extractor computes and caches feature vectors. Safe for concurrent use.
type Extractor struct {
	decoder audio.Loader
	cache   Cache
	workers int
	log     *logger.Logger
}

func New(cfg Config) (*Extractor, error) {
	if cfg.Decoder == nil {
		return nil, ErrNoDecoder
	}
	if cfg.Cache == nil {
		cfg.Cache = NewMemoryCache()
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	return &Extractor{
		decoder: cfg.Decoder,
		cache:   cfg.Cache,
		workers: cfg.Workers,
		log:     cfg.Logger.With("features"),
	}, nil
}

// Track returns a lazily decoded track backed by the extractor's decoder.
func (e *Extractor) Track(path string) *audio.Track {
	return audio.NewTrack(path, e.decoder)
}

// Close releases the cache.
func (e *Extractor) Close() error {
	return e.cache.Close()
}

// Extract returns the feature vector for the loop [start, end), given in
// samples at sampleRate. With useCache a cached vector is returned without
// touching the audio, and a computed one is stored. Only decode failures
// and context cancellation are returned as errors.
func (e *Extractor) Extract(ctx context.Context, track *audio.Track, start, end, sampleRate int, useCache bool) (Result, error) {
	key := CacheKey(track.Path, start, end)

	if useCache {
		v, ok, err := e.cache.Get(ctx, key)
		if err != nil {
			e.log.Fields(logger.WARN, "cache read failed", "key", key, "err", err)
		} else if ok {
			return Result{Vector: v, Cached: true}, nil
		}
	}

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	buf, err := track.Buffer(ctx, sampleRate)
	if err != nil {
		return Result{}, err
	}

	res := Compute(buf, start, end)
	for _, fb := range res.Fallbacks {
		level := logger.DEBUG
		if fb.Reason == ReasonNonFinite || strings.HasPrefix(fb.Reason, ReasonPanic) {
			level = logger.WARN
		}
		e.log.Fields(level, "feature defaulted", "track", track.Name(), "start", start, "end", end,
			"feature", fb.Feature, "reason", fb.Reason)
	}

	if useCache {
		if err := e.cache.Put(ctx, key, res.Vector); err != nil {
			e.log.Fields(logger.WARN, "cache write failed", "key", key, "err", err)
		}
	}
	return res, nil
}

// Compute measures the loop [start, end) in buf. It never fails: a feature
// that cannot be measured is set to Neutral and reported in Fallbacks.
func Compute(buf *audio.Buffer, start, end int) Result {
	x, sr := buf.Samples, buf.SampleRate
	startWin, endWin := BoundaryWindows(buf, start, end)

	var span []float64
	if lo, hi := clampIndex(start, len(x)), clampIndex(end, len(x)); lo < hi {
		span = x[lo:hi]
	}

	var res Result
	record := func(name string, dst *float64, fn func() (float64, string)) {
		v, reason := guard(fn)
		*dst = v
		if reason != "" {
			res.Fallbacks = append(res.Fallbacks, Fallback{Feature: name, Reason: reason})
		}
	}

	record(AmplitudeSmoothness, &res.Vector.AmplitudeSmoothness, func() (float64, string) {
		return amplitudeSmoothness(startWin, endWin)
	})
	record(SpectralSimilarity, &res.Vector.SpectralSimilarity, func() (float64, string) {
		return spectralSimilarity(startWin, endWin, sr)
	})
	record(TempoConsistency, &res.Vector.TempoConsistency, func() (float64, string) {
		return tempoConsistency(span, sr)
	})
	record(LoudnessMatching, &res.Vector.LoudnessMatching, func() (float64, string) {
		return loudnessMatching(startWin, endWin)
	})
	return res
}

// BoundaryWindows returns the samples within 200 ms of the loop start and
// of the loop end, clipped to the signal. Either may be empty.
func BoundaryWindows(buf *audio.Buffer, start, end int) (atStart, atEnd []float64) {
	w := buf.SampleRate * boundaryMs / 1000
	return boundaryWindow(buf.Samples, start, w), boundaryWindow(buf.Samples, end, w)
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i > n {
		return n
	}
	return i
}

func (f Fallback) String() string {
	return fmt.Sprintf("%s=%s", f.Feature, f.Reason)
}
