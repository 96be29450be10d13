// Package scorer learns a loop quality score from user feedback with a
// small random forest, and keeps the trained model on disk.
package scorer

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/himanishpuri/LoopProfiler/pkg/logger"
	"github.com/himanishpuri/LoopProfiler/pkg/utils"
)

const (
	// MinTrainingSamples is the smallest data set Train accepts.
	MinTrainingSamples = 10
	// MinEvaluationSamples is the smallest data set Evaluate accepts.
	MinEvaluationSamples = 5
	// Inputs is the model input width: external score and four features.
	Inputs = 5

	maxFolds = 5
)

var (
	ErrNotTrained       = errors.New("model not trained")
	ErrInsufficientData = errors.New("not enough samples")
	ErrInvalidData      = errors.New("invalid training data")
)

type Config struct {
	ModelPath string
	Forest    ForestConfig
	Logger    *logger.Logger
	Clock     func() time.Time
}

// model is an immutable trained state. Retraining builds a new one and
// swaps the pointer.
type model struct {
	forest    *Forest
	runID     string
	trainedAt time.Time
	samples   int
	config    ForestConfig
}

// Scorer is Untrained until the first successful Train and never goes
// back. Predict is lock free; Train calls are serialized.
type Scorer struct {
	path string
	cfg  ForestConfig
	log  *logger.Logger
	now  func() time.Time

	current atomic.Pointer[model]
	trainMu sync.Mutex

	recovered error
}

// Open loads the model at cfg.ModelPath if there is one. An unreadable
// model is copied aside and the scorer starts untrained.
func Open(cfg Config) (*Scorer, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("scorer: model path is required")
	}
	if cfg.Forest.Trees == 0 {
		cfg.Forest = DefaultForestConfig
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	s := &Scorer{
		path: cfg.ModelPath,
		cfg:  cfg.Forest,
		log:  cfg.Logger.With("scorer"),
		now:  cfg.Clock,
	}

	m, err := loadModel(s.path)
	switch {
	case errors.Is(err, ErrCorruptModel):
		backup, berr := utils.BackupFile(s.path, ".backup")
		if berr != nil {
			s.log.Fields(logger.WARN, "model unreadable and not backed up, starting untrained", "path", s.path, "err", err, "backup_err", berr)
			s.recovered = fmt.Errorf("%w (backup failed: %v)", err, berr)
			break
		}
		s.log.Fields(logger.WARN, "model unreadable, starting untrained", "path", s.path, "backup", backup, "err", err)
		s.recovered = fmt.Errorf("%w (backup at %s)", err, backup)
	case err != nil:
		return nil, err
	case m != nil:
		s.current.Store(m)
		s.log.Fields(logger.INFO, "model loaded", "run", m.runID, "samples", m.samples)
	}
	return s, nil
}

// Recovered returns the load error that caused the scorer to start
// untrained, or nil.
func (s *Scorer) Recovered() error { return s.recovered }

func (s *Scorer) Trained() bool {
	return s.current.Load() != nil
}

// Info describes the current model.
type Info struct {
	Trained   bool
	RunID     string
	TrainedAt time.Time
	Samples   int
}

func (s *Scorer) Info() Info {
	m := s.current.Load()
	if m == nil {
		return Info{}
	}
	return Info{Trained: true, RunID: m.runID, TrainedAt: m.trainedAt, Samples: m.samples}
}

func validate(X [][]float64, y []int) error {
	if len(X) != len(y) {
		return fmt.Errorf("%w: %d rows, %d labels", ErrInvalidData, len(X), len(y))
	}
	for i, row := range X {
		if len(row) != Inputs {
			return fmt.Errorf("%w: row %d has %d values, want %d", ErrInvalidData, i, len(row), Inputs)
		}
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: row %d is not finite", ErrInvalidData, i)
			}
		}
		if y[i] != 0 && y[i] != 1 {
			return fmt.Errorf("%w: label %d at row %d", ErrInvalidData, y[i], i)
		}
	}
	return nil
}

// Train fits a new model on X/y, persists it and makes it current. It
// returns false without touching the current model when there are fewer
// than MinTrainingSamples rows or the model cannot be saved.
func (s *Scorer) Train(X [][]float64, y []int) (bool, error) {
	if len(X) < MinTrainingSamples {
		s.log.Fields(logger.INFO, "not enough feedback to train", "samples", len(X), "required", MinTrainingSamples)
		return false, nil
	}
	if err := validate(X, y); err != nil {
		return false, err
	}

	s.trainMu.Lock()
	defer s.trainMu.Unlock()

	m := &model{
		forest:    fitForest(X, y, s.cfg),
		runID:     uuid.NewString(),
		trainedAt: s.now().UTC(),
		samples:   len(X),
		config:    s.cfg,
	}
	if err := saveModel(s.path, m); err != nil {
		return false, err
	}
	s.current.Store(m)
	s.log.Fields(logger.INFO, "model trained", "run", m.runID, "samples", m.samples)
	return true, nil
}

// Prediction is a model output: Score is the positive-class probability
// scaled to 0..100, Confidence the larger class probability.
type Prediction struct {
	Score      float64
	Confidence float64
}

// Predict scores one input row. ok is false while untrained or when x
// does not have Inputs values.
func (s *Scorer) Predict(x []float64) (p Prediction, ok bool) {
	m := s.current.Load()
	if m == nil || len(x) != Inputs {
		return Prediction{}, false
	}
	proba := m.forest.Proba(x)
	return Prediction{Score: proba * 100, Confidence: math.Max(proba, 1-proba)}, true
}

// FeatureImportance returns the mean impurity decrease per input, summing
// to 1, or nil while untrained.
func (s *Scorer) FeatureImportance() []float64 {
	m := s.current.Load()
	if m == nil {
		return nil
	}
	return append([]float64(nil), m.forest.Importances...)
}
