package scorer

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gonum.org/v1/gonum/floats"
)

func openScorer(t *testing.T) (*Scorer, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model", "forest.msgpack")
	s, err := Open(Config{ModelPath: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s, path
}

// separable returns n rows where the label is decided by the first
// input, alternating classes so every prefix holds both.
func separable(n int) ([][]float64, []int) {
	rng := rand.New(rand.NewSource(7))
	X := make([][]float64, n)
	y := make([]int, n)
	for i := range X {
		label := i % 2
		base := 0.2
		if label == 1 {
			base = 0.8
		}
		X[i] = []float64{
			base + rng.Float64()*0.1,
			rng.Float64(),
			rng.Float64(),
			rng.Float64(),
			rng.Float64(),
		}
		y[i] = label
	}
	return X, y
}

func TestTrainRequiresMinimumSamples(t *testing.T) {
	s, path := openScorer(t)
	X, y := separable(10)

	ok, err := s.Train(X[:9], y[:9])
	if err != nil || ok {
		t.Fatalf("Train(9) = %v, %v; want false, nil", ok, err)
	}
	if s.Trained() {
		t.Fatal("scorer trained on 9 samples")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("model written before training: %v", err)
	}
	if _, ok := s.Predict([]float64{0.9, 0.8, 0.85, 0.7, 0.8}); ok {
		t.Fatal("Predict succeeded while untrained")
	}

	ok, err = s.Train(X, y)
	if err != nil || !ok {
		t.Fatalf("Train(10) = %v, %v; want true, nil", ok, err)
	}
	p, ok := s.Predict([]float64{0.9, 0.8, 0.85, 0.7, 0.8})
	if !ok {
		t.Fatal("Predict failed after training")
	}
	if p.Score < 0 || p.Score > 100 {
		t.Errorf("score %v out of [0,100]", p.Score)
	}
	if p.Confidence < 0.5 || p.Confidence > 1 {
		t.Errorf("confidence %v out of [0.5,1]", p.Confidence)
	}
}

func TestTrainGateKeepsPreviousModel(t *testing.T) {
	s, _ := openScorer(t)
	X, y := separable(20)
	if ok, err := s.Train(X, y); !ok || err != nil {
		t.Fatalf("Train: %v, %v", ok, err)
	}
	before := s.Info()

	if ok, err := s.Train(X[:3], y[:3]); ok || err != nil {
		t.Fatalf("Train(3) = %v, %v", ok, err)
	}
	if after := s.Info(); after != before {
		t.Fatalf("model changed: %+v -> %+v", before, after)
	}
}

func TestTrainRejectsInvalidData(t *testing.T) {
	s, _ := openScorer(t)
	X, y := separable(12)

	X[3] = []float64{1, 2, 3}
	if _, err := s.Train(X, y); !errors.Is(err, ErrInvalidData) {
		t.Fatalf("short row: err = %v", err)
	}

	X, y = separable(12)
	X[4][2] = math.NaN()
	if _, err := s.Train(X, y); !errors.Is(err, ErrInvalidData) {
		t.Fatalf("NaN: err = %v", err)
	}

	X, y = separable(12)
	y[1] = 2
	if _, err := s.Train(X, y); !errors.Is(err, ErrInvalidData) {
		t.Fatalf("bad label: err = %v", err)
	}
	if s.Trained() {
		t.Fatal("trained on invalid data")
	}
}

func TestPredictSeparates(t *testing.T) {
	s, _ := openScorer(t)
	X, y := separable(40)
	if ok, err := s.Train(X, y); !ok || err != nil {
		t.Fatalf("Train: %v, %v", ok, err)
	}
	hi, _ := s.Predict([]float64{0.85, 0.5, 0.5, 0.5, 0.5})
	lo, _ := s.Predict([]float64{0.25, 0.5, 0.5, 0.5, 0.5})
	if hi.Score <= 50 || lo.Score >= 50 {
		t.Fatalf("hi=%v lo=%v", hi.Score, lo.Score)
	}
	if _, ok := s.Predict([]float64{0.5, 0.5}); ok {
		t.Fatal("Predict accepted a short row")
	}
}

func TestTrainingIsDeterministic(t *testing.T) {
	X, y := separable(30)
	a := fitForest(X, y, DefaultForestConfig)
	b := fitForest(X, y, DefaultForestConfig)
	probe := []float64{0.5, 0.3, 0.6, 0.1, 0.9}
	if a.Proba(probe) != b.Proba(probe) {
		t.Fatal("same data and seed gave different forests")
	}
	if len(a.Trees) != DefaultForestConfig.Trees {
		t.Fatalf("trees = %d", len(a.Trees))
	}
}

func TestSingleClassTraining(t *testing.T) {
	s, _ := openScorer(t)
	X, _ := separable(12)
	y := make([]int, len(X))
	for i := range y {
		y[i] = 1
	}
	if ok, err := s.Train(X, y); !ok || err != nil {
		t.Fatalf("Train: %v, %v", ok, err)
	}
	p, ok := s.Predict(X[0])
	if !ok || p.Score != 100 || p.Confidence != 1 {
		t.Fatalf("Predict = %+v, %v", p, ok)
	}
}

func TestModelPersists(t *testing.T) {
	s, path := openScorer(t)
	X, y := separable(20)
	if ok, err := s.Train(X, y); !ok || err != nil {
		t.Fatalf("Train: %v, %v", ok, err)
	}
	probe := []float64{0.6, 0.4, 0.2, 0.7, 0.3}
	want, _ := s.Predict(probe)

	reopened, err := Open(Config{ModelPath: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if !reopened.Trained() || reopened.Recovered() != nil {
		t.Fatalf("reopened trained=%v recovered=%v", reopened.Trained(), reopened.Recovered())
	}
	got, _ := reopened.Predict(probe)
	if got != want {
		t.Fatalf("Predict after reload = %+v, want %+v", got, want)
	}
	if reopened.Info().RunID != s.Info().RunID {
		t.Fatal("run id not persisted")
	}
	if reopened.Info().Samples != 20 {
		t.Fatalf("samples = %d", reopened.Info().Samples)
	}
}

func TestCorruptModelIsBackedUp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "forest.msgpack")
	if err := os.WriteFile(path, []byte("not a model"), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Open(Config{ModelPath: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.Trained() {
		t.Fatal("corrupt model loaded")
	}
	if !errors.Is(s.Recovered(), ErrCorruptModel) {
		t.Fatalf("Recovered = %v", s.Recovered())
	}
	data, err := os.ReadFile(path + ".backup")
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	if string(data) != "not a model" {
		t.Fatalf("backup content = %q", data)
	}
}

func TestUnreadableModelStartsUntrained(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forest.msgpack")
	if err := os.Mkdir(path, 0o755); err != nil {
		t.Fatal(err)
	}

	s, err := Open(Config{ModelPath: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.Trained() {
		t.Fatal("scorer trained from a directory")
	}
	if !errors.Is(s.Recovered(), ErrCorruptModel) {
		t.Fatalf("Recovered = %v", s.Recovered())
	}
	if _, ok := s.Predict([]float64{0.5, 0.5, 0.5, 0.5, 0.5}); ok {
		t.Fatal("Predict succeeded without a model")
	}
}

func TestVersionMismatchIsCorrupt(t *testing.T) {
	s, path := openScorer(t)
	X, y := separable(12)
	if ok, err := s.Train(X, y); !ok || err != nil {
		t.Fatalf("Train: %v, %v", ok, err)
	}
	if _, err := loadModel(path); err != nil {
		t.Fatalf("valid blob: %v", err)
	}
	b := s.current.Load().blob()
	b.Version = blobVersion + 1
	if err := writeBlob(path, b); err != nil {
		t.Fatal(err)
	}
	if _, err := loadModel(path); !errors.Is(err, ErrCorruptModel) {
		t.Fatalf("version mismatch: err = %v", err)
	}

	b.Version = blobVersion
	b.Format = "something/else"
	if err := writeBlob(path, b); err != nil {
		t.Fatal(err)
	}
	if _, err := loadModel(path); !errors.Is(err, ErrCorruptModel) {
		t.Fatalf("format mismatch: err = %v", err)
	}
}

func TestDamagedTreeIsCorrupt(t *testing.T) {
	s, path := openScorer(t)
	X, y := separable(12)
	if ok, err := s.Train(X, y); !ok || err != nil {
		t.Fatalf("Train: %v, %v", ok, err)
	}
	b := s.current.Load().blob()
	b.Forest = &Forest{Inputs: Inputs, Trees: []Tree{{Nodes: []Node{{Feature: 0, Left: 5, Right: 6}}}}}
	if err := writeBlob(path, b); err != nil {
		t.Fatal(err)
	}
	if _, err := loadModel(path); !errors.Is(err, ErrCorruptModel) {
		t.Fatalf("err = %v", err)
	}
}

func TestFeatureImportance(t *testing.T) {
	s, _ := openScorer(t)
	if s.FeatureImportance() != nil {
		t.Fatal("importance while untrained")
	}
	X, y := separable(40)
	if ok, err := s.Train(X, y); !ok || err != nil {
		t.Fatalf("Train: %v, %v", ok, err)
	}
	imp := s.FeatureImportance()
	if len(imp) != Inputs {
		t.Fatalf("len = %d", len(imp))
	}
	if sum := floats.Sum(imp); math.Abs(sum-1) > 1e-9 {
		t.Fatalf("sum = %v", sum)
	}
	if floats.MaxIdx(imp) != 0 {
		t.Fatalf("most important input = %d, want 0 (%v)", floats.MaxIdx(imp), imp)
	}

	imp[0] = 42
	if s.FeatureImportance()[0] == 42 {
		t.Fatal("FeatureImportance returned internal slice")
	}
}

func TestEvaluatePreconditions(t *testing.T) {
	s, _ := openScorer(t)
	X, y := separable(12)
	if _, err := s.Evaluate(X, y); !errors.Is(err, ErrNotTrained) {
		t.Fatalf("untrained: err = %v", err)
	}
	if ok, err := s.Train(X, y); !ok || err != nil {
		t.Fatalf("Train: %v, %v", ok, err)
	}
	if _, err := s.Evaluate(X[:4], y[:4]); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("4 rows: err = %v", err)
	}
}

func TestEvaluate(t *testing.T) {
	s, _ := openScorer(t)
	X, y := separable(30)
	if ok, err := s.Train(X, y); !ok || err != nil {
		t.Fatalf("Train: %v, %v", ok, err)
	}
	ev, err := s.Evaluate(X, y)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if ev.Folds != 5 || ev.Samples != 30 {
		t.Fatalf("folds=%d samples=%d", ev.Folds, ev.Samples)
	}
	if ev.Accuracy < 0.8 {
		t.Errorf("accuracy = %v on separable data", ev.Accuracy)
	}
	for name, v := range map[string]float64{"precision": ev.Precision, "recall": ev.Recall, "std": ev.AccuracyStd} {
		if v < 0 || v > 1 {
			t.Errorf("%s = %v", name, v)
		}
	}

	small, err := s.Evaluate(X[:5], y[:5])
	if err != nil {
		t.Fatalf("Evaluate(5): %v", err)
	}
	if small.Folds != 5 {
		t.Fatalf("folds = %d", small.Folds)
	}
}

func TestEvaluateNoPositivePredictions(t *testing.T) {
	s, _ := openScorer(t)
	X, _ := separable(10)
	y := make([]int, len(X))
	if ok, err := s.Train(X, y); !ok || err != nil {
		t.Fatalf("Train: %v, %v", ok, err)
	}
	ev, err := s.Evaluate(X, y)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Precision != 0 || ev.Recall != 0 || ev.Accuracy != 1 {
		t.Fatalf("ev = %+v", ev)
	}
}

func TestStratifiedFolds(t *testing.T) {
	y := []int{1, 0, 1, 1, 0, 0, 1, 0, 1, 1}
	folds := stratifiedFolds(y, 5)
	perFold := make([][2]int, 5)
	for i, f := range folds {
		if f < 0 || f >= 5 {
			t.Fatalf("fold %d out of range", f)
		}
		perFold[f][y[i]]++
	}
	for f, c := range perFold {
		if c[0]+c[1] != 2 {
			t.Errorf("fold %d has %d rows", f, c[0]+c[1])
		}
		if c[1] == 0 {
			t.Errorf("fold %d has no positives", f)
		}
	}
}

func TestConcurrentTrainAndPredict(t *testing.T) {
	s, _ := openScorer(t)
	X, y := separable(20)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := s.Train(X, y); err != nil {
				t.Errorf("Train: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if p, ok := s.Predict(X[j%len(X)]); ok && (p.Score < 0 || p.Score > 100) {
					t.Errorf("score %v", p.Score)
				}
			}
		}()
	}
	wg.Wait()
	if !s.Trained() {
		t.Fatal("not trained")
	}
}

func TestRetrainerCoalesces(t *testing.T) {
	var calls, running, overlap atomic.Int32
	r := NewRetrainer(30*time.Millisecond, func(ctx context.Context) error {
		if running.Add(1) > 1 {
			overlap.Add(1)
		}
		calls.Add(1)
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		return nil
	}, nil)
	r.Start(context.Background())

	for i := 0; i < 20; i++ {
		r.Trigger()
	}
	deadline := time.Now().Add(2 * time.Second)
	for r.Runs() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	r.Stop()

	if got := calls.Load(); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
	if overlap.Load() != 0 {
		t.Fatal("runs overlapped")
	}
}

func TestRetrainerStopFlushesPending(t *testing.T) {
	var calls atomic.Int32
	r := NewRetrainer(time.Hour, func(ctx context.Context) error {
		calls.Add(1)
		return errors.New("boom")
	}, nil)
	r.Start(context.Background())
	r.Trigger()
	r.Stop()

	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
	if r.LastErr() == nil {
		t.Fatal("LastErr lost")
	}
	r.Stop()
}
