package loopprofiler

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/himanishpuri/LoopProfiler/internal/audio"
	"github.com/himanishpuri/LoopProfiler/internal/features"
	"github.com/himanishpuri/LoopProfiler/internal/feedback"
	"github.com/himanishpuri/LoopProfiler/internal/scorer"
	"github.com/himanishpuri/LoopProfiler/pkg/logger"
)

// Judgment is a user's verdict on one candidate.
type Judgment struct {
	TrackPath string
	Start     int64
	End       int64
	// SampleRate of Start/End; 0 means the track's native rate.
	SampleRate    int
	ExternalScore float64
	Rating        int
	Source        feedback.Source
	Exported      bool
	// ExportSettings is recorded when Exported is set.
	ExportSettings map[string]string
	// Features are computed when nil.
	Features *features.Vector
	// Prediction is stored as the record's AI score when set. When nil and
	// a model is trained, one is computed.
	Prediction *scorer.Prediction
}

// RecordFeedback stores a judgment and schedules a retrain. It returns the
// new record id.
func (p *Profiler) RecordFeedback(ctx context.Context, j Judgment) (uint64, error) {
	abs, err := filepath.Abs(j.TrackPath)
	if err != nil {
		return 0, err
	}
	track := p.extractor.Track(abs)

	var vec features.Vector
	if j.Features != nil {
		vec = *j.Features
	} else {
		res, err := p.extractor.Extract(ctx, track, int(j.Start), int(j.End), j.SampleRate, true)
		if err != nil {
			return 0, err
		}
		vec = res.Vector
	}

	meta := p.metadata(ctx, track)
	if meta != nil && j.SampleRate > 0 {
		meta.SampleRate = j.SampleRate
	}

	pred := j.Prediction
	if pred == nil {
		if pr, ok := p.scorer.Predict(append([]float64{j.ExternalScore}, vec.Slice()...)); ok {
			pred = &pr
		}
	}

	id, err := p.store.Add(feedback.AddParams{
		TrackPath:      abs,
		Start:          j.Start,
		End:            j.End,
		Features:       vec,
		Rating:         j.Rating,
		ExternalScore:  j.ExternalScore,
		Metadata:       meta,
		Exported:       j.Exported,
		ExportSettings: j.ExportSettings,
		Source:         j.Source,
	})
	if err != nil {
		return 0, err
	}

	if pred != nil {
		if _, err := p.store.UpdateAiScore(id, pred.Score, pred.Confidence); err != nil {
			return id, fmt.Errorf("store ai score: %w", err)
		}
	}

	p.log.Fields(logger.INFO, "feedback recorded", "id", id, "track", track.Name(), "rating", j.Rating, "source", j.Source)
	p.retrainer.Trigger()
	return id, nil
}

// RecordExport marks an existing record as exported again.
func (p *Profiler) RecordExport(id uint64, settings map[string]string) (bool, error) {
	return p.store.UpdateExportInfo(id, settings)
}

// DeleteFeedback removes a record and schedules a retrain.
func (p *Profiler) DeleteFeedback(id uint64) (bool, error) {
	ok, err := p.store.Delete(id)
	if ok && err == nil {
		p.retrainer.Trigger()
	}
	return ok, err
}

// Fingerprint is the track identity used by the store and the cache.
func Fingerprint(trackPath string) string {
	return audio.Fingerprint(trackPath)
}
