package main

import (
	"fmt"
	"time"

	"github.com/himanishpuri/LoopProfiler/internal/feedback"
	"github.com/himanishpuri/LoopProfiler/pkg/loopprofiler"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

// ScoreRequest is the request body for POST /api/score
type ScoreRequest struct {
	TrackPath  string `json:"track_path"`
	BruteForce bool   `json:"brute_force,omitempty"`
	NoCache    bool   `json:"no_cache,omitempty"`
	SortByAI   bool   `json:"sort_by_ai,omitempty"`
}

func (r *ScoreRequest) Validate() error {
	if r.TrackPath == "" {
		return fmt.Errorf("track_path is required")
	}
	return nil
}

// ScoredDTO is one scored candidate.
type ScoredDTO struct {
	Start        int64              `json:"start_sample"`
	End          int64              `json:"end_sample"`
	Confidence   float64            `json:"confidence"`
	Features     map[string]float64 `json:"features"`
	Defaulted    []string           `json:"defaulted,omitempty"`
	AIScore      *float64           `json:"ai_score"`
	AIConfidence *float64           `json:"ai_confidence"`
}

// ScoreResponse is the response for POST /api/score
type ScoreResponse struct {
	TrackPath  string      `json:"track_path"`
	ExportFile string      `json:"export_file"`
	Reused     bool        `json:"reused"`
	Skipped    int         `json:"skipped_lines"`
	Candidates []ScoredDTO `json:"candidates"`
	Count      int         `json:"count"`
}

func newScoredDTO(s loopprofiler.Scored) ScoredDTO {
	dto := ScoredDTO{
		Start:      s.Start,
		End:        s.End,
		Confidence: s.Confidence,
		Features: map[string]float64{
			"amplitude_smoothness": s.Features.AmplitudeSmoothness,
			"spectral_similarity":  s.Features.SpectralSimilarity,
			"tempo_consistency":    s.Features.TempoConsistency,
			"loudness_matching":    s.Features.LoudnessMatching,
		},
	}
	for _, fb := range s.Fallbacks {
		dto.Defaulted = append(dto.Defaulted, fb.String())
	}
	if s.AI != nil {
		score, conf := s.AI.Score, s.AI.Confidence
		dto.AIScore, dto.AIConfidence = &score, &conf
	}
	return dto
}

// FeedbackRequest is the request body for POST /api/feedback
type FeedbackRequest struct {
	TrackPath      string            `json:"track_path"`
	Start          int64             `json:"start_sample"`
	End            int64             `json:"end_sample"`
	SampleRate     int               `json:"sample_rate,omitempty"`
	ExternalScore  float64           `json:"external_score"`
	Rating         *int              `json:"rating"`
	Source         string            `json:"source,omitempty"`
	Exported       bool              `json:"exported,omitempty"`
	ExportSettings map[string]string `json:"export_settings,omitempty"`
}

func (r *FeedbackRequest) Validate() error {
	switch {
	case r.TrackPath == "":
		return fmt.Errorf("track_path is required")
	case r.Rating == nil:
		return fmt.Errorf("rating is required")
	case *r.Rating != 0 && *r.Rating != 1:
		return fmt.Errorf("rating must be 0 or 1")
	case !(r.ExternalScore >= 0 && r.ExternalScore <= 1):
		return fmt.Errorf("external_score must be within [0, 1]")
	case r.End <= r.Start || r.Start < 0:
		return fmt.Errorf("end_sample must be greater than start_sample")
	case r.Source != "" && !feedback.Source(r.Source).Valid():
		return fmt.Errorf("unknown source %q", r.Source)
	}
	return nil
}

func (r *FeedbackRequest) judgment() loopprofiler.Judgment {
	source := feedback.Source(r.Source)
	if source == "" {
		source = feedback.SourceManual
	}
	return loopprofiler.Judgment{
		TrackPath:      r.TrackPath,
		Start:          r.Start,
		End:            r.End,
		SampleRate:     r.SampleRate,
		ExternalScore:  r.ExternalScore,
		Rating:         *r.Rating,
		Source:         source,
		Exported:       r.Exported,
		ExportSettings: r.ExportSettings,
	}
}

// FeedbackResponse is the response for a created record.
type FeedbackResponse struct {
	Message string `json:"message"`
	ID      uint64 `json:"id"`
}

// ExportRequest is the request body for POST /api/feedback/{id}/export
type ExportRequest struct {
	Settings map[string]string `json:"settings,omitempty"`
}

// ListFeedbackResponse is the response for GET /api/feedback and GET /api/good
type ListFeedbackResponse struct {
	Records []feedback.Record `json:"records"`
	Count   int               `json:"count"`
}

// ModelDTO describes the scorer state.
type ModelDTO struct {
	Trained   bool       `json:"trained"`
	Samples   int        `json:"samples,omitempty"`
	TrainedAt *time.Time `json:"trained_at,omitempty"`
}

// StatsResponse is the response for GET /api/stats
type StatsResponse struct {
	Statistics feedback.Statistics `json:"statistics"`
	Model      ModelDTO            `json:"model"`
	Importance map[string]float64  `json:"feature_importance,omitempty"`
}

// TrainResponse is the response for POST /api/train
type TrainResponse struct {
	Trained     bool     `json:"trained"`
	Samples     int      `json:"samples"`
	Accuracy    *float64 `json:"accuracy,omitempty"`
	AccuracyStd *float64 `json:"accuracy_std,omitempty"`
	Precision   *float64 `json:"precision,omitempty"`
	Recall      *float64 `json:"recall,omitempty"`
}

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}
