// Package feedback stores user judgments of loop candidates together with
// running statistics, persisted as a single JSON document that is
// rewritten on every change.
package feedback

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/himanishpuri/LoopProfiler/internal/audio"
	"github.com/himanishpuri/LoopProfiler/internal/features"
	"github.com/himanishpuri/LoopProfiler/pkg/logger"
	"github.com/himanishpuri/LoopProfiler/pkg/utils"
)

// ErrInvalidInput is returned by Add for out-of-range arguments.
var ErrInvalidInput = errors.New("invalid feedback input")

const backupSuffix = ".backup"

type Config struct {
	Path   string
	Logger *logger.Logger
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Store is the feedback collection. All mutations are serialized and
// written through to disk before they return.
type Store struct {
	path string
	log  *logger.Logger
	now  func() time.Time

	mu  sync.RWMutex
	doc *Document

	idxMu   sync.Mutex
	byTrack map[string][]int // fingerprint -> positions in doc.Feedbacks

	recovered error
}

// Open loads the document at cfg.Path, creating an empty store when the
// file does not exist. A corrupt file is copied aside and replaced by an
// empty store; Recovered reports that this happened.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("feedback: store path is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	s := &Store{
		path: cfg.Path,
		log:  cfg.Logger.With("feedback"),
		now:  cfg.Clock,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) timestamp() time.Time {
	return s.now().UTC()
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.doc = newDocument(s.timestamp())
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading feedback document: %w", err)
	}

	doc, err := decodeDocument(data, s.timestamp())
	if err != nil {
		backup, berr := utils.BackupFile(s.path, backupSuffix)
		if berr != nil {
			return fmt.Errorf("%w; backup failed: %v", err, berr)
		}
		s.log.Fields(logger.WARN, "feedback document unreadable, starting empty",
			"path", s.path, "backup", backup, "err", err)
		s.recovered = fmt.Errorf("%w (backup at %s)", err, backup)
		s.doc = newDocument(s.timestamp())
		return s.persistLocked()
	}
	s.doc = doc

	if err := doc.Statistics.verify(doc.Feedbacks); err != nil {
		s.log.Fields(logger.WARN, "repairing feedback statistics", "err", err)
		doc.Statistics.repair(doc.Feedbacks)
		return s.persistLocked()
	}
	return nil
}

func (s *Store) persistLocked() error {
	data, err := s.doc.encode()
	if err != nil {
		return fmt.Errorf("encoding feedback document: %w", err)
	}
	if err := utils.AtomicWriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("writing feedback document: %w", err)
	}
	return nil
}

// mutate applies fn to the document and persists it. If fn reports no
// change nothing is written; if the write fails the document is restored.
func (s *Store) mutate(fn func(d *Document) bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.doc.clone()
	if !fn(s.doc) {
		return false, nil
	}
	s.idxMu.Lock()
	s.byTrack = nil
	s.idxMu.Unlock()

	if err := s.persistLocked(); err != nil {
		s.doc = snapshot
		return false, err
	}
	return true, nil
}

// Path is the document location.
func (s *Store) Path() string { return s.path }

// Recovered returns the load error that caused the store to start empty,
// or nil.
func (s *Store) Recovered() error { return s.recovered }

// StoreID is the identifier generated when the document was created.
func (s *Store) StoreID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Metadata.StoreID
}

// AddParams describes a new judgment. Metadata may be nil.
type AddParams struct {
	TrackPath      string
	Start          int64
	End            int64
	Features       features.Vector
	Rating         int
	ExternalScore  float64
	Metadata       *AudioMetadata
	Exported       bool
	ExportSettings map[string]string
	Source         Source
}

func (p *AddParams) validate() error {
	switch {
	case p.TrackPath == "":
		return fmt.Errorf("%w: track path is empty", ErrInvalidInput)
	case p.Rating != 0 && p.Rating != 1:
		return fmt.Errorf("%w: rating %d is not 0 or 1", ErrInvalidInput, p.Rating)
	case !(p.ExternalScore >= 0 && p.ExternalScore <= 1):
		return fmt.Errorf("%w: external score %v outside [0, 1]", ErrInvalidInput, p.ExternalScore)
	case p.Start < 0 || p.End <= p.Start:
		return fmt.Errorf("%w: loop [%d, %d) is empty", ErrInvalidInput, p.Start, p.End)
	case !p.Source.Valid():
		return fmt.Errorf("%w: unknown source %q", ErrInvalidInput, p.Source)
	}
	return nil
}

// Add records a judgment and returns its id. Ids increase monotonically
// and are never reused, even after Delete.
func (s *Store) Add(p AddParams) (uint64, error) {
	if p.Source == "" {
		p.Source = SourceManual
	}
	if err := p.validate(); err != nil {
		return 0, err
	}

	meta := DefaultMetadata()
	if p.Metadata != nil {
		meta = *p.Metadata
		meta.BitrateKbps = clonePtr(p.Metadata.BitrateKbps)
		if meta.SampleRate <= 0 {
			meta.SampleRate = DefaultMetadata().SampleRate
		}
	}

	var id uint64
	_, err := s.mutate(func(d *Document) bool {
		now := s.timestamp()
		id = d.Metadata.NextID
		d.Metadata.NextID++

		r := &Record{
			ID:            id,
			AudioFile:     filepath.Base(p.TrackPath),
			AudioHash:     audio.Fingerprint(p.TrackPath),
			AudioMetadata: meta,
			LoopCandidate: NewLoopCandidate(p.Start, p.End, meta.SampleRate),
			Scores:        Scores{External: p.ExternalScore},
			Features:      p.Features,
			UserFeedback: UserFeedback{
				Rating:   p.Rating,
				Explicit: p.Source.Explicit(),
				Source:   p.Source,
			},
			ExportInfo: ExportInfo{
				Exported:       p.Exported,
				ExportSettings: maps.Clone(p.ExportSettings),
			},
			Timestamps: Timestamps{CreatedAt: now, UpdatedAt: now},
		}
		if p.Exported {
			r.ExportInfo.ExportCount = 1
			r.ExportInfo.LastExportAt = &now
		}

		d.Feedbacks = append(d.Feedbacks, r)
		d.Statistics.apply(event{kind: eventAdded, rating: p.Rating, exported: p.Exported})
		return true
	})
	if err != nil {
		return 0, err
	}
	s.log.Fields(logger.DEBUG, "feedback added", "id", id, "track", filepath.Base(p.TrackPath), "rating", p.Rating)
	return id, nil
}

// UpdateAiScore stores the model's score (0..100) and confidence (0..1)
// for a record. It returns false for an unknown id.
func (s *Store) UpdateAiScore(id uint64, score, confidence float64) (bool, error) {
	return s.mutate(func(d *Document) bool {
		_, r := d.find(id)
		if r == nil {
			return false
		}
		r.Scores.AIPredicted = &score
		r.Scores.AIConfidence = &confidence
		r.Timestamps.UpdatedAt = s.timestamp()
		return true
	})
}

// UpdateExportInfo records one more export of a record. It returns false
// for an unknown id.
func (s *Store) UpdateExportInfo(id uint64, settings map[string]string) (bool, error) {
	return s.mutate(func(d *Document) bool {
		_, r := d.find(id)
		if r == nil {
			return false
		}
		now := s.timestamp()
		info := &r.ExportInfo
		info.Exported = true
		info.ExportCount++
		info.LastExportAt = &now
		info.ExportSettings = maps.Clone(settings)
		r.Timestamps.UpdatedAt = now

		d.Statistics.apply(event{kind: eventExported, firstExport: info.ExportCount == 1})
		return true
	})
}

// Delete removes a record. It returns false for an unknown id.
func (s *Store) Delete(id uint64) (bool, error) {
	return s.mutate(func(d *Document) bool {
		i, r := d.find(id)
		if r == nil {
			return false
		}
		d.Feedbacks = append(d.Feedbacks[:i], d.Feedbacks[i+1:]...)
		d.Statistics.apply(event{kind: eventRemoved, rating: r.UserFeedback.Rating})
		return true
	})
}

// UpdateModelPerformance stores the latest scorer evaluation.
func (s *Store) UpdateModelPerformance(accuracy, precision, recall float64, samples int) error {
	_, err := s.mutate(func(d *Document) bool {
		d.Statistics.apply(event{
			kind: eventEvaluated,
			perf: &ModelPerformance{Accuracy: accuracy, Precision: precision, Recall: recall, TrainingSamples: samples},
			at:   s.timestamp(),
		})
		return true
	})
	return err
}

// Verify checks the stored counters against the records.
func (s *Store) Verify() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Statistics.verify(s.doc.Feedbacks)
}
