package feedback

import (
	"maps"
	"time"

	"github.com/himanishpuri/LoopProfiler/internal/features"
)

// Source says how a judgment was given.
type Source string

const (
	SourceThumbsUp   Source = "thumbs_up"
	SourceThumbsDown Source = "thumbs_down"
	SourceExport     Source = "export"
	SourceManual     Source = "manual"
)

func (s Source) Valid() bool {
	switch s {
	case SourceThumbsUp, SourceThumbsDown, SourceExport, SourceManual:
		return true
	}
	return false
}

// Explicit reports whether the user rated the loop directly.
func (s Source) Explicit() bool {
	return s == SourceThumbsUp || s == SourceThumbsDown
}

// AudioMetadata describes the source file. BitrateKbps is nil when unknown.
type AudioMetadata struct {
	DurationMs  int64 `json:"duration_ms"`
	SampleRate  int   `json:"sample_rate"`
	Channels    int   `json:"channels"`
	BitrateKbps *int  `json:"bitrate_kbps"`
}

// DefaultMetadata is recorded when the caller has no metadata.
func DefaultMetadata() AudioMetadata {
	return AudioMetadata{SampleRate: 44100, Channels: 2}
}

// LoopCandidate is a candidate with derived timings. Millisecond fields
// are floor(sample * 1000 / sample_rate).
type LoopCandidate struct {
	StartSample    int64 `json:"start_sample"`
	EndSample      int64 `json:"end_sample"`
	StartTimeMs    int64 `json:"start_time_ms"`
	EndTimeMs      int64 `json:"end_time_ms"`
	LoopDurationMs int64 `json:"loop_duration_ms"`
}

func NewLoopCandidate(start, end int64, sampleRate int) LoopCandidate {
	if sampleRate <= 0 {
		sampleRate = DefaultMetadata().SampleRate
	}
	sr := int64(sampleRate)
	startMs, endMs := start*1000/sr, end*1000/sr
	return LoopCandidate{
		StartSample:    start,
		EndSample:      end,
		StartTimeMs:    startMs,
		EndTimeMs:      endMs,
		LoopDurationMs: endMs - startMs,
	}
}

// Scores holds the external score (0..1) and the model's prediction
// (score 0..100, confidence 0..1), nil until predicted.
type Scores struct {
	External     float64  `json:"external"`
	AIPredicted  *float64 `json:"ai_predicted"`
	AIConfidence *float64 `json:"ai_confidence"`
}

type UserFeedback struct {
	Rating   int    `json:"rating"`
	Explicit bool   `json:"explicit"`
	Source   Source `json:"source"`
}

type ExportInfo struct {
	Exported       bool              `json:"exported"`
	ExportCount    int               `json:"export_count"`
	LastExportAt   *time.Time        `json:"last_export_at"`
	ExportSettings map[string]string `json:"export_settings"`
}

type Timestamps struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Record is one stored judgment of a loop candidate.
type Record struct {
	ID            uint64          `json:"id"`
	AudioFile     string          `json:"audio_file"`
	AudioHash     string          `json:"audio_hash"`
	AudioMetadata AudioMetadata   `json:"audio_metadata"`
	LoopCandidate LoopCandidate   `json:"loop_candidate"`
	Scores        Scores          `json:"scores"`
	Features      features.Vector `json:"features"`
	UserFeedback  UserFeedback    `json:"user_feedback"`
	ExportInfo    ExportInfo      `json:"export_info"`
	Timestamps    Timestamps      `json:"timestamps"`
}

// TrainingRow is the model input for this record: the external score
// followed by the four features.
func (r *Record) TrainingRow() []float64 {
	return append([]float64{r.Scores.External}, r.Features.Slice()...)
}

// clone returns a deep copy.
func (r *Record) clone() *Record {
	c := *r
	c.AudioMetadata.BitrateKbps = clonePtr(r.AudioMetadata.BitrateKbps)
	c.Scores.AIPredicted = clonePtr(r.Scores.AIPredicted)
	c.Scores.AIConfidence = clonePtr(r.Scores.AIConfidence)
	c.ExportInfo.LastExportAt = clonePtr(r.ExportInfo.LastExportAt)
	c.ExportInfo.ExportSettings = maps.Clone(r.ExportInfo.ExportSettings)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
