package loopprofiler

import (
	"context"
	"fmt"
	"sort"

	"github.com/himanishpuri/LoopProfiler/internal/candidates"
	"github.com/himanishpuri/LoopProfiler/internal/features"
	"github.com/himanishpuri/LoopProfiler/internal/scorer"
)

// Scored is one candidate with its features and, when a model is trained,
// the model's prediction.
type Scored struct {
	candidates.Candidate
	Features  features.Vector
	Fallbacks []features.Fallback
	Cached    bool
	AI        *scorer.Prediction
}

// Input is the model input row for the candidate.
func (s Scored) Input() []float64 {
	return append([]float64{s.Confidence}, s.Features.Slice()...)
}

// ScoreOptions controls ScoreCandidates.
type ScoreOptions struct {
	// SampleRate is the rate the candidate positions are expressed in;
	// 0 means the track's native rate.
	SampleRate int
	NoCache    bool
	Progress   features.ProgressFunc
	// SortByAI orders the result by AI score (then finder confidence),
	// highest first. Otherwise the input order is kept.
	SortByAI bool
}

// ScoreCandidates extracts features for every candidate of one track and
// predicts a score for each. The track is decoded at most once.
func (p *Profiler) ScoreCandidates(ctx context.Context, trackPath string, cands []candidates.Candidate, opts ScoreOptions) ([]Scored, error) {
	track := p.extractor.Track(trackPath)
	spans := make([]features.Span, len(cands))
	for i, c := range cands {
		spans[i] = features.Span{Start: int(c.Start), End: int(c.End)}
	}

	results, err := p.extractor.ExtractAll(ctx, track, spans, opts.SampleRate, !opts.NoCache, opts.Progress)
	if err != nil {
		return nil, err
	}

	out := make([]Scored, len(cands))
	for i, c := range cands {
		out[i] = Scored{
			Candidate: c,
			Features:  results[i].Vector,
			Fallbacks: results[i].Fallbacks,
			Cached:    results[i].Cached,
		}
		if pred, ok := p.scorer.Predict(out[i].Input()); ok {
			out[i].AI = &pred
		}
	}

	if opts.SortByAI {
		sort.SliceStable(out, func(a, b int) bool {
			sa, sb := aiScore(out[a]), aiScore(out[b])
			if sa != sb {
				return sa > sb
			}
			return out[a].Confidence > out[b].Confidence
		})
	}
	return out, nil
}

func aiScore(s Scored) float64 {
	if s.AI == nil {
		return -1
	}
	return s.AI.Score
}

// Score finds candidates for trackPath and scores them.
func (p *Profiler) Score(ctx context.Context, trackPath string, brute bool, opts ScoreOptions) ([]Scored, candidates.Result, error) {
	found, err := p.Candidates(ctx, trackPath, brute)
	if err != nil {
		return nil, found, err
	}
	if len(found.Candidates) == 0 {
		return nil, found, fmt.Errorf("no loop candidates for %s", trackPath)
	}
	scored, err := p.ScoreCandidates(ctx, trackPath, found.Candidates, opts)
	return scored, found, err
}
