// Package loopprofiler wires the feature extractor, the feedback store and
// the adaptive scorer into one explicitly constructed object.
package loopprofiler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/himanishpuri/LoopProfiler/internal/audio"
	"github.com/himanishpuri/LoopProfiler/internal/candidates"
	"github.com/himanishpuri/LoopProfiler/internal/config"
	"github.com/himanishpuri/LoopProfiler/internal/featurecache"
	"github.com/himanishpuri/LoopProfiler/internal/features"
	"github.com/himanishpuri/LoopProfiler/internal/feedback"
	"github.com/himanishpuri/LoopProfiler/internal/scorer"
	"github.com/himanishpuri/LoopProfiler/pkg/logger"
)

// metadataSource is implemented by decoders that can describe a file
// without decoding it.
type metadataSource interface {
	Metadata(ctx context.Context, path string) (*audio.Metadata, error)
}

// Profiler owns every component for the lifetime of a session. Open it
// once, share it, and Close it when done.
type Profiler struct {
	cfg *config.Config
	log *logger.Logger

	decoder   audio.Loader
	extractor *features.Extractor
	store     *feedback.Store
	scorer    *scorer.Scorer
	runner    *candidates.Runner
	retrainer *scorer.Retrainer

	// retrainMu covers a whole Retrain: snapshot, fit, evaluation and
	// the recorded performance.
	retrainMu sync.Mutex

	cancel context.CancelFunc
}

// Open builds the components from configuration, loads persisted
// feedback and model state, and trains an initial model when enough
// feedback exists but no model was saved.
func Open(ctx context.Context, opts ...Option) (*Profiler, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	cfg := config.Default()
	if o.settings != nil {
		cfg = *o.settings
	}
	if o.dataDir != "" {
		cfg.Paths.DataDir = o.dataDir
	}
	if o.debounce != nil {
		cfg.Scorer.RetrainDebounce = config.Duration{Duration: *o.debounce}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if o.logger == nil {
		o.logger = logger.GetLogger()
	}
	log := o.logger

	p := &Profiler{cfg: &cfg, log: log.With("profiler")}

	p.decoder = o.decoder
	if p.decoder == nil {
		dec, err := audio.NewDecoder(audio.DecoderConfig{
			FFmpeg:        cfg.Audio.FFmpeg,
			FFprobe:       cfg.Audio.FFprobe,
			RequireFFmpeg: cfg.Audio.RequireFFmpeg,
			Timeout:       cfg.Audio.Timeout.Duration,
			Logger:        log,
		})
		if err != nil {
			return nil, err
		}
		p.decoder = dec
	}

	cache := o.cache
	if cache == nil {
		c, err := featurecache.Open(&cfg, log)
		if err != nil {
			return nil, fmt.Errorf("open feature cache: %w", err)
		}
		cache = c
	}
	ext, err := features.New(features.Config{
		Decoder: p.decoder,
		Cache:   cache,
		Workers: cfg.Extraction.Workers,
		Logger:  log,
	})
	if err != nil {
		cache.Close()
		return nil, err
	}
	p.extractor = ext

	p.store, err = feedback.Open(feedback.Config{Path: cfg.FeedbackPath(), Logger: log, Clock: o.clock})
	if err != nil {
		ext.Close()
		return nil, fmt.Errorf("open feedback store: %w", err)
	}

	p.scorer, err = scorer.Open(scorer.Config{ModelPath: cfg.ModelPath(), Logger: log, Clock: o.clock})
	if err != nil {
		ext.Close()
		return nil, fmt.Errorf("open scorer: %w", err)
	}

	runnerOpts := []candidates.Option{candidates.WithLogger(log)}
	if o.exec != nil {
		runnerOpts = append(runnerOpts, candidates.WithExecutor(o.exec))
	}
	p.runner, err = candidates.NewRunner(cfg.Candidates.Command, cfg.Paths.DataDir, cfg.Candidates.Top,
		cfg.Candidates.Timeout.Duration, runnerOpts...)
	if err != nil {
		ext.Close()
		return nil, err
	}

	if !p.scorer.Trained() && p.store.Len() >= scorer.MinTrainingSamples {
		p.log.Infof("no saved model; training from %d feedback records", p.store.Len())
		if _, err := p.Retrain(ctx); err != nil {
			p.log.Warnf("initial training failed: %v", err)
		}
	}

	var workerCtx context.Context
	workerCtx, p.cancel = context.WithCancel(context.Background())
	p.retrainer = scorer.NewRetrainer(cfg.Scorer.RetrainDebounce.Duration, func(ctx context.Context) error {
		_, err := p.Retrain(ctx)
		return err
	}, log)
	p.retrainer.Start(workerCtx)

	p.log.Fields(logger.DEBUG, "opened", "data_dir", cfg.Paths.DataDir, "records", p.store.Len(), "trained", p.scorer.Trained())
	return p, nil
}

// Close flushes a pending retrain and releases the feature cache.
func (p *Profiler) Close() error {
	p.retrainer.Stop()
	p.cancel()
	return p.extractor.Close()
}

func (p *Profiler) Config() *config.Config         { return p.cfg }
func (p *Profiler) Store() *feedback.Store         { return p.store }
func (p *Profiler) Scorer() *scorer.Scorer         { return p.scorer }
func (p *Profiler) Extractor() *features.Extractor { return p.extractor }

// Recovered lists the persisted files that were unreadable at Open and
// were replaced after being backed up.
func (p *Profiler) Recovered() []error {
	var out []error
	if err := p.store.Recovered(); err != nil {
		out = append(out, err)
	}
	if err := p.scorer.Recovered(); err != nil {
		out = append(out, err)
	}
	return out
}

// TrainOutcome reports one Retrain.
type TrainOutcome struct {
	Trained    bool
	Samples    int
	Evaluation *scorer.Evaluation
}

// Retrain fits the scorer on all stored feedback. A successful fit is
// evaluated and its performance recorded in the store's statistics.
// Concurrent calls queue; each one trains on the records present when it
// gets its turn.
func (p *Profiler) Retrain(ctx context.Context) (TrainOutcome, error) {
	p.retrainMu.Lock()
	defer p.retrainMu.Unlock()
	if err := ctx.Err(); err != nil {
		return TrainOutcome{}, err
	}
	X, y := p.store.GetTrainingData()
	out := TrainOutcome{Samples: len(X)}

	ok, err := p.scorer.Train(X, y)
	if err != nil || !ok {
		return out, err
	}
	out.Trained = true

	ev, err := p.scorer.Evaluate(X, y)
	if err != nil {
		if errors.Is(err, scorer.ErrInsufficientData) {
			return out, nil
		}
		return out, err
	}
	out.Evaluation = &ev
	if err := p.store.UpdateModelPerformance(ev.Accuracy, ev.Precision, ev.Recall, len(X)); err != nil {
		return out, fmt.Errorf("record model performance: %w", err)
	}
	p.log.Fields(logger.INFO, "model evaluated", "samples", len(X), "accuracy", fmt.Sprintf("%.3f", ev.Accuracy),
		"precision", fmt.Sprintf("%.3f", ev.Precision), "recall", fmt.Sprintf("%.3f", ev.Recall))
	return out, nil
}

// Candidates runs the loop finder for trackPath, or reuses its last export.
func (p *Profiler) Candidates(ctx context.Context, trackPath string, brute bool) (candidates.Result, error) {
	abs, err := filepath.Abs(trackPath)
	if err != nil {
		return candidates.Result{}, err
	}
	return p.runner.Find(ctx, abs, brute)
}

// metadata describes trackPath for a feedback record. nil means the
// store's defaults apply.
func (p *Profiler) metadata(ctx context.Context, track *audio.Track) *feedback.AudioMetadata {
	var meta *audio.Metadata
	if src, ok := p.decoder.(metadataSource); ok {
		if m, err := src.Metadata(ctx, track.Path); err == nil {
			meta = m
		} else {
			p.log.Debugf("metadata for %s: %v", track.Name(), err)
		}
	}
	if meta == nil {
		buf, err := track.Buffer(ctx, 0)
		if err != nil {
			return nil
		}
		meta = &audio.Metadata{DurationMs: buf.DurationMs(), SampleRate: buf.SampleRate, Channels: buf.Channels}
	}

	out := &feedback.AudioMetadata{
		DurationMs: meta.DurationMs,
		SampleRate: meta.SampleRate,
		Channels:   meta.Channels,
	}
	if meta.BitrateKbps > 0 {
		kbps := meta.BitrateKbps
		out.BitrateKbps = &kbps
	}
	return out
}
